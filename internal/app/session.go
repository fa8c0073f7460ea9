package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/lanlink/internal/app/tunnel"
	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/dkeye/lanlink/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Channel sub-protocols.
const (
	ProtocolMetadata  = "metadata"
	ProtocolMinecraft = "minecraft"

	metadataLabel    = "metadata"
	metadataReadSize = protocol.MaxMessageSize
	channelOpenLimit = 10 * time.Second
	dialTimeout      = 5 * time.Second
)

var (
	ErrNotConnected     = errors.New("session metadata channel is not open")
	ErrAlreadyInitiated = errors.New("session already initiated")
	ErrSessionClosed    = errors.New("session closed")
)

// Session is one peer-to-peer link to one remote host. The Host owns it;
// the back-reference to the Host is never used to keep the Host alive.
type Session struct {
	id     core.SessionID
	host   *Host
	pc     core.PeerConnection
	relay  bool
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	remoteID    domain.HostID
	member      *domain.Member
	initiator   bool
	meta        io.ReadWriteCloser
	metaChannel core.DataChannel
	proxies     []*ServerProxy
	connState   string
	sigState    string
	gatherState string
	closed      bool

	writeMu       sync.Mutex
	tunnels       *tunnel.Manager
	connectedOnce sync.Once
	closeOnce     sync.Once
	done          chan struct{}
}

func newSession(h *Host, id core.SessionID, pc core.PeerConnection, remote domain.HostID, relay bool) *Session {
	ctx, cancel := context.WithCancel(h.ctx)
	s := &Session{
		id:          id,
		host:        h,
		pc:          pc,
		relay:       relay,
		remoteID:    remote,
		ctx:         ctx,
		cancel:      cancel,
		connState:   webrtc.PeerConnectionStateNew.String(),
		sigState:    webrtc.SignalingStateStable.String(),
		gatherState: webrtc.ICEGatheringStateNew.String(),
		tunnels:     tunnel.NewManager(string(id)),
		done:        make(chan struct{}),
		logger: log.With().
			Str("module", "app.session").
			Str("sid", string(id)).
			Bool("relay", relay).
			Logger(),
	}
	pc.OnLocalDescription(s.onLocalDescription)
	pc.OnConnectionState(s.onConnectionState)
	pc.OnSignalingState(s.onSignalingState)
	pc.OnICEGatheringState(s.onGatheringState)
	pc.OnDataChannel(s.onDataChannel)
	return s
}

func (s *Session) ID() core.SessionID { return s.id }

func (s *Session) Relay() bool { return s.relay }

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) RemoteID() domain.HostID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

func (s *Session) Member() *domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.member == nil {
		return nil
	}
	m := *s.member
	return &m
}

// Connected reports whether the metadata channel is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta != nil && !s.closed
}

func (s *Session) isInitiator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiator
}

// bindRemote sets remoteID when unset. It reports false when a different id
// is already bound.
func (s *Session) bindRemote(id domain.HostID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteID == "" {
		s.remoteID = id
		return true
	}
	return s.remoteID == id
}

func (s *Session) setMember(m domain.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.member = &m
}

// Initiate creates the metadata channel and the offer.
func (s *Session) Initiate() (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.initiator {
		s.mu.Unlock()
		return nil, ErrAlreadyInitiated
	}
	s.initiator = true
	s.mu.Unlock()

	dc, err := s.pc.CreateDataChannel(metadataLabel, ProtocolMetadata)
	if err != nil {
		s.resetInitiate(nil)
		return nil, fmt.Errorf("create metadata channel: %w", err)
	}
	s.bindMetadata(dc)

	offer, err := s.pc.CreateOffer()
	if err != nil {
		s.resetInitiate(dc)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return offer, nil
}

// resetInitiate undoes a failed Initiate so it can be retried.
func (s *Session) resetInitiate(dc core.DataChannel) {
	s.mu.Lock()
	s.initiator = false
	if dc != nil && s.metaChannel == dc {
		s.metaChannel = nil
	}
	s.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
}

// Offer installs a remote offer and returns the local answer. A repeated
// offer only contributes its candidates.
func (s *Session) Offer(sdp string) (*webrtc.SessionDescription, error) {
	answer, err := s.pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		return nil, fmt.Errorf("apply offer: %w", err)
	}
	return answer, nil
}

// Answer installs a remote answer. Only sessions that initiated accept one.
func (s *Session) Answer(sdp string) error {
	if !s.isInitiator() {
		return ErrNotInitiator
	}
	if err := s.pc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

func (s *Session) LocalDescription() *webrtc.SessionDescription {
	return s.pc.LocalDescription()
}

// Send encodes one message and writes it on the metadata channel.
func (s *Session) Send(t protocol.Type, payload any) error {
	m, err := protocol.New(t, payload)
	if err != nil {
		return err
	}
	return s.SendMessage(m)
}

func (s *Session) SendMessage(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	meta := s.meta
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if meta == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := meta.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

func (s *Session) bindMetadata(dc core.DataChannel) {
	s.mu.Lock()
	s.metaChannel = dc
	s.mu.Unlock()

	dc.OnOpen(func(rwc io.ReadWriteCloser) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = rwc.Close()
			return
		}
		s.meta = rwc
		s.mu.Unlock()

		s.logger.Info().Msg("metadata channel open")
		s.sendIdentity()
		go s.readLoop(rwc)
		if interval := s.host.heartbeat; interval > 0 {
			go s.heartbeatLoop(interval)
		}
	})
}

func (s *Session) sendIdentity() {
	ident := s.host.Identity()
	err := s.Send(protocol.TypeIdentity, protocol.Identity{
		RemoteHostID: s.host.ID(),
		Name:         ident.Name,
		Avatar:       ident.Avatar,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("send identity failed")
	}
}

// readLoop dispatches metadata messages in arrival order. The channel
// ending tears the session down.
func (s *Session) readLoop(rwc io.ReadWriteCloser) {
	buf := make([]byte, metadataReadSize)
	for {
		n, err := rwc.Read(buf)
		if errors.Is(err, io.ErrShortBuffer) {
			// The oversized message is consumed; the channel stays usable.
			s.logger.Warn().Int("limit", len(buf)).Msg("dropping oversized message")
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Debug().Err(err).Msg("metadata read ended")
			}
			s.host.closeSession(s, "metadata channel closed")
			return
		}
		m, err := protocol.Decode(buf[:n])
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed message")
			continue
		}
		s.host.Dispatch(s.ctx, s, m)
	}
}

func (s *Session) onDataChannel(dc core.DataChannel) {
	switch dc.Protocol() {
	case ProtocolMetadata:
		s.mu.Lock()
		dup := s.metaChannel != nil
		s.mu.Unlock()
		if dup {
			s.logger.Warn().Msg("second metadata channel, closing")
			_ = dc.Close()
			return
		}
		s.bindMetadata(dc)
	case ProtocolMinecraft:
		s.acceptGameChannel(dc)
	default:
		s.logger.Warn().Str("label", dc.Label()).Str("protocol", dc.Protocol()).Msg("unknown channel protocol, closing")
		_ = dc.Close()
	}
}

// acceptGameChannel dials the local server named by the channel label and
// bridges the two once the channel opens.
func (s *Session) acceptGameChannel(dc core.DataChannel) {
	port, err := strconv.Atoi(dc.Label())
	if err != nil || port <= 0 || port > 65535 {
		s.logger.Warn().Str("label", dc.Label()).Msg("minecraft channel label is not a port")
		_ = dc.Close()
		return
	}
	dc.OnOpen(func(rwc io.ReadWriteCloser) {
		addr := net.JoinHostPort(s.host.dialHost, strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			s.logger.Warn().Err(err).Str("addr", addr).Msg("dial local server failed")
			_ = rwc.Close()
			return
		}
		channel := tunnel.NewChannelConn(rwc, "channel:"+dc.Label(), string(s.RemoteID()))
		s.tunnels.Start(dc.Label(), conn, channel)
	})
}

// openGameChannel carries one accepted proxy connection to the remote
// server on remotePort.
func (s *Session) openGameChannel(conn net.Conn, remotePort int) {
	label := strconv.Itoa(remotePort)
	dc, err := s.pc.CreateDataChannel(label, ProtocolMinecraft)
	if err != nil {
		s.logger.Warn().Err(err).Int("port", remotePort).Msg("create minecraft channel failed")
		_ = conn.Close()
		return
	}

	opened := make(chan struct{})
	dc.OnOpen(func(rwc io.ReadWriteCloser) {
		close(opened)
		channel := tunnel.NewChannelConn(rwc, "channel:"+label, string(s.RemoteID()))
		s.tunnels.Start(label, conn, channel)
	})

	go func() {
		t := time.NewTimer(channelOpenLimit)
		defer t.Stop()
		select {
		case <-opened:
		case <-t.C:
			s.logger.Warn().Int("port", remotePort).Msg("minecraft channel did not open")
			_ = conn.Close()
			_ = dc.Close()
		case <-s.done:
			_ = conn.Close()
		}
	}()
}

func (s *Session) onLocalDescription(sd webrtc.SessionDescription) {
	s.host.notify(core.Event{
		Kind:    core.EventDescription,
		Session: s.id,
		Description: &core.TransferDescription{
			SessionID:    s.id,
			RemoteHostID: s.RemoteID(),
			SDP:          sd.SDP,
			Type:         sd.Type.String(),
		},
	})
}

// onConnectionState reports the primitive state. connected is reported once;
// disconnected may recover so only failed and closed end the session.
func (s *Session) onConnectionState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	s.connState = state.String()
	s.mu.Unlock()
	s.logger.Info().Str("state", state.String()).Msg("connection state")

	report := true
	if state == webrtc.PeerConnectionStateConnected {
		report = false
		s.connectedOnce.Do(func() { report = true })
	}
	if report {
		s.host.notify(core.Event{Kind: core.EventConnectionState, Session: s.id, State: state.String()})
	}

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		go s.host.closeSession(s, "connection "+state.String())
	}
}

func (s *Session) onSignalingState(state webrtc.SignalingState) {
	s.mu.Lock()
	s.sigState = state.String()
	s.mu.Unlock()
	s.host.notify(core.Event{Kind: core.EventSignalingState, Session: s.id, State: state.String()})
}

func (s *Session) onGatheringState(state webrtc.ICEGatheringState) {
	s.mu.Lock()
	s.gatherState = state.String()
	s.mu.Unlock()
	s.host.notify(core.Event{Kind: core.EventICEGatheringState, Session: s.id, State: state.String()})
}

// Close tears everything down. Safe to call more than once and on sessions
// that never connected.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		meta := s.meta
		metaChannel := s.metaChannel
		proxies := s.proxies
		s.mu.Unlock()

		s.cancel()
		s.tunnels.StopAll()
		for _, p := range proxies {
			p.Close()
		}
		if meta != nil {
			_ = meta.Close()
		}
		if metaChannel != nil {
			_ = metaChannel.Close()
		}
		s.pc.Close()
		close(s.done)

		s.logger.Info().Int("proxies", len(proxies)).Msg("session closed")
		s.host.notify(core.Event{Kind: core.EventClosed, Session: s.id})
	})
}

// Snapshot is the read-only view handed to the controller.
func (s *Session) Snapshot() core.SessionDTO {
	s.mu.Lock()
	dto := core.SessionDTO{
		ID:              s.id,
		RemoteID:        s.remoteID,
		Relay:           s.relay,
		ConnectionState: s.connState,
		SignalingState:  s.sigState,
		GatheringState:  s.gatherState,
		Proxies:         make([]core.ProxyDTO, 0, len(s.proxies)),
	}
	if s.member != nil {
		m := *s.member
		dto.Member = &m
	}
	proxies := append([]*ServerProxy(nil), s.proxies...)
	s.mu.Unlock()

	for _, p := range proxies {
		dto.Proxies = append(dto.Proxies, p.Snapshot())
	}
	dto.Tunnels = s.tunnels.Count()
	return dto
}
