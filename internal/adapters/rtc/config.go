package rtc

import (
	"github.com/dkeye/lanlink/internal/core"
	"github.com/pion/webrtc/v4"
)

// Options control how peer connections are built.
type Options struct {
	// ICEServers are STUN/TURN urls; empty means host candidates only.
	ICEServers []string
	// IncludeLoopback adds 127.0.0.1 candidates, needed when both peers share a machine.
	IncludeLoopback bool
}

func DefaultOptions() Options {
	return Options{ICEServers: []string{"stun:stun.l.google.com:19302"}}
}

func (o Options) configuration() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(o.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: o.ICEServers}}
	}
	return cfg
}

func (o Options) api() *webrtc.API {
	// Every channel is detached: metadata is read as whole messages and
	// minecraft channels are bridged as streams.
	se := webrtc.SettingEngine{}
	se.DetachDataChannels()
	se.SetIncludeLoopbackCandidate(o.IncludeLoopback)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// NewFactory returns a core.PeerFactory building pion-backed connections.
func NewFactory(opts Options) core.PeerFactory {
	api := opts.api()
	cfg := opts.configuration()
	return func(sid core.SessionID) (core.PeerConnection, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return newWebRTCConnection(pc, sid), nil
	}
}
