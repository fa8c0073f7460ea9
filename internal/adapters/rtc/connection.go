package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var _ core.PeerConnection = (*WebRTCConnection)(nil)

// WebRTCConnection wraps a pion PeerConnection behind core.PeerConnection.
// Callbacks must be registered before Start.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	sid    core.SessionID
	cancel context.CancelFunc

	gatherDone chan struct{}
	gatherOnce sync.Once
	closeOnce  sync.Once

	onLocalDescription func(webrtc.SessionDescription)
	onDataChannel      func(core.DataChannel)
	onConnectionState  func(webrtc.PeerConnectionState)
	onSignalingState   func(webrtc.SignalingState)
	onGatheringState   func(webrtc.ICEGatheringState)
}

func newWebRTCConnection(pc *webrtc.PeerConnection, sid core.SessionID) *WebRTCConnection {
	return &WebRTCConnection{
		pc:         pc,
		sid:        sid,
		gatherDone: make(chan struct{}),
	}
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.emitLocalDescription()
	})

	c.pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		log.Debug().Str("module", "rtc").Str("sid", string(c.sid)).Str("ice_gathering_state", s.String()).Msg("gathering state")
		if c.onGatheringState != nil {
			c.onGatheringState(s)
		}
		if s == webrtc.ICEGatheringStateComplete {
			c.gatherOnce.Do(func() { close(c.gatherDone) })
			c.emitLocalDescription()
		}
	})

	c.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		log.Debug().Str("module", "rtc").Str("sid", string(c.sid)).Str("signaling_state", s.String()).Msg("signaling state")
		if c.onSignalingState != nil {
			c.onSignalingState(s)
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
		}
		if c.onConnectionState != nil {
			c.onConnectionState(s)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Debug().
			Str("module", "rtc").
			Str("sid", string(c.sid)).
			Str("label", dc.Label()).
			Str("protocol", dc.Protocol()).
			Msg("inbound data channel")
		if c.onDataChannel != nil {
			c.onDataChannel(&dataChannel{dc: dc, sid: c.sid})
		}
	})

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return nil
}

func (c *WebRTCConnection) emitLocalDescription() {
	if c.onLocalDescription == nil {
		return
	}
	if ld := c.pc.LocalDescription(); ld != nil {
		c.onLocalDescription(*ld)
	}
}

func (c *WebRTCConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	c.emitLocalDescription()
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if rd := c.pc.RemoteDescription(); rd != nil && rd.Type == webrtc.SDPTypeOffer {
		// Same offer again with more candidates.
		if err := c.addCandidates(offer.SDP); err != nil {
			return nil, err
		}
		return c.pc.LocalDescription(), nil
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	c.emitLocalDescription()
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if rd := c.pc.RemoteDescription(); rd != nil && rd.Type == webrtc.SDPTypeAnswer {
		return c.addCandidates(answer.SDP)
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) addCandidates(sdp string) error {
	candidates, err := CandidatesFromSDP(sdp)
	if err != nil {
		return err
	}
	for _, ci := range candidates {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("sid", string(c.sid)).Str("candidate", ci.Candidate).Msg("add ice candidate")
		}
	}
	return nil
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) WaitGathering(ctx context.Context) error {
	if c.pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return nil
	}
	select {
	case <-c.gatherDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WebRTCConnection) CreateDataChannel(label, protocol string) (core.DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel %s: %w", label, err)
	}
	return &dataChannel{dc: dc, sid: c.sid}, nil
}

func (c *WebRTCConnection) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("sid", string(c.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("sid", string(c.sid)).Msg("closed")
		}
	})
}

func (c *WebRTCConnection) OnDataChannel(fn func(core.DataChannel)) { c.onDataChannel = fn }

func (c *WebRTCConnection) OnLocalDescription(fn func(webrtc.SessionDescription)) {
	c.onLocalDescription = fn
}

func (c *WebRTCConnection) OnConnectionState(fn func(webrtc.PeerConnectionState)) {
	c.onConnectionState = fn
}

func (c *WebRTCConnection) OnSignalingState(fn func(webrtc.SignalingState)) {
	c.onSignalingState = fn
}

func (c *WebRTCConnection) OnICEGatheringState(fn func(webrtc.ICEGatheringState)) {
	c.onGatheringState = fn
}
