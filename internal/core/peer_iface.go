package core

import (
	"context"
	"io"

	"github.com/pion/webrtc/v4"
)

// DataChannel is one channel of a peer connection before and after it opens.
type DataChannel interface {
	Label() string
	Protocol() string
	// OnOpen delivers the detached, message-oriented stream once the channel opens.
	OnOpen(func(io.ReadWriteCloser))
	Close() error
}

// PeerConnection is the opaque peer-connection primitive a session drives.
type PeerConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop every channel and the underlying transport.
	Close()

	CreateOffer() (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// LocalDescription returns the current local SDP including gathered candidates.
	LocalDescription() *webrtc.SessionDescription
	// WaitGathering blocks until ICE gathering completes or ctx is done.
	WaitGathering(ctx context.Context) error

	// CreateDataChannel opens an ordered, reliable channel tagged with protocol.
	CreateDataChannel(label, protocol string) (DataChannel, error)
	// OnDataChannel sets a callback for channels opened by the remote peer.
	OnDataChannel(func(DataChannel))
	// OnLocalDescription fires every time the local description changes.
	OnLocalDescription(func(webrtc.SessionDescription))
	OnConnectionState(func(webrtc.PeerConnectionState))
	OnSignalingState(func(webrtc.SignalingState))
	OnICEGatheringState(func(webrtc.ICEGatheringState))
}

// PeerFactory builds a PeerConnection for a new session.
type PeerFactory func(sid SessionID) (PeerConnection, error)
