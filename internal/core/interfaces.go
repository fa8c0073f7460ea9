package core

import (
	"encoding/json"

	"github.com/dkeye/lanlink/internal/domain"
)

// Frame is a raw text payload pushed to a controller connection.
type Frame []byte

// SignalConnection abstracts for a controller messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// TransferDescription is what the out-of-band transport has to deliver to the
// matching remote session whenever the local description changes.
type TransferDescription struct {
	SessionID    SessionID     `json:"sessionId"`
	RemoteHostID domain.HostID `json:"remoteHostId"`
	SDP          string        `json:"sdp"`
	Type         string        `json:"type"`
}

type EventKind string

const (
	EventConnectionState   EventKind = "connection-state"
	EventSignalingState    EventKind = "signaling-state"
	EventICEGatheringState EventKind = "ice-gathering-state"
	EventDescription       EventKind = "description"
	EventIdentity          EventKind = "identity"
	EventLatency           EventKind = "latency"
	EventManifest          EventKind = "manifest"
	EventClosed            EventKind = "closed"
)

// Event is one outward notification about a session.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind            `json:"kind"`
	Session     SessionID            `json:"session"`
	State       string               `json:"state,omitempty"`
	Description *TransferDescription `json:"description,omitempty"`
	Member      *domain.Member       `json:"member,omitempty"`
	LatencyMs   int64                `json:"latencyMs,omitempty"`
	Manifest    json.RawMessage      `json:"manifest,omitempty"`
}

// Notifier receives session events for the external controller.
// Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Discovery is the local LAN announcement collaborator.
type Discovery interface {
	// OnDiscover registers a callback for every announcement heard on the LAN.
	OnDiscover(func(domain.LanServer))
	// Broadcast announces a server on the local LAN.
	Broadcast(motd string, port int) error
}
