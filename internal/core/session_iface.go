package core

import (
	"time"

	"github.com/dkeye/lanlink/internal/domain"
)

type SessionID string

// ProxyDTO is a read-only view of one republished LAN server.
type ProxyDTO struct {
	OriginalPort  int       `json:"originalPort"`
	ActualPort    int       `json:"actualPort"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// SessionDTO is a read-only view for APIs (no transport fields).
type SessionDTO struct {
	ID              SessionID      `json:"id"`
	RemoteID        domain.HostID  `json:"remoteId,omitempty"`
	Member          *domain.Member `json:"member,omitempty"`
	Relay           bool           `json:"relay"`
	ConnectionState string         `json:"connectionState"`
	SignalingState  string         `json:"signalingState"`
	GatheringState  string         `json:"iceGatheringState"`
	Proxies         []ProxyDTO     `json:"proxies"`
	Tunnels         int            `json:"tunnels"`
}

// HostDTO is the local host as shown to the controller.
type HostDTO struct {
	ID     domain.HostID `json:"id"`
	Name   string        `json:"name"`
	Avatar string        `json:"avatar"`
}
