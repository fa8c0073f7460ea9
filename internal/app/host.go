package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/dkeye/lanlink/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotInitiator   = errors.New("session did not initiate, cannot accept an answer")
	ErrRemoteMismatch = errors.New("session is bound to another remote host")

	ErrManifestInvalid  = errors.New("manifest is not valid JSON")
	ErrManifestTooLarge = errors.New("manifest too large")
)

// MaxManifestSize leaves room for the envelope within one metadata message.
const MaxManifestSize = protocol.MaxMessageSize - 1024

// Handler processes one typed metadata message received on s.
type Handler func(ctx context.Context, s *Session, payload json.RawMessage) error

type Options struct {
	ID        domain.HostID
	Identity  domain.Identity
	Peers     core.PeerFactory
	Discovery core.Discovery
	Notifier  core.Notifier
	Gather    GatherPolicy
	Heartbeat time.Duration
	// ProxyHost is where republished servers are bound; DialHost is where
	// local game servers are reached.
	ProxyHost string
	DialHost  string
}

// Host is the local node: it owns every Session, the handler table and the
// bridge between LAN discovery and the overlay.
type Host struct {
	id       domain.HostID
	reg      *Registry
	handlers map[protocol.Type]Handler

	peers     core.PeerFactory
	discovery core.Discovery
	notifier  core.Notifier
	gather    GatherPolicy
	heartbeat time.Duration
	proxyHost string
	dialHost  string

	mu       sync.RWMutex
	identity domain.Identity
	manifest json.RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func NewHost(ctx context.Context, opts Options) *Host {
	if opts.ID == "" {
		opts.ID = domain.NewHostID()
	}
	if opts.Gather == nil {
		opts.Gather = NewGatherPolicy(GatherComplete, DefaultRelayGrace)
	}
	if opts.DialHost == "" {
		opts.DialHost = "localhost"
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Host{
		id:        opts.ID,
		reg:       NewRegistry(),
		peers:     opts.Peers,
		discovery: opts.Discovery,
		notifier:  opts.Notifier,
		gather:    opts.Gather,
		heartbeat: opts.Heartbeat,
		proxyHost: opts.ProxyHost,
		dialHost:  opts.DialHost,
		identity:  opts.Identity,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With().Str("module", "app.host").Str("host", string(opts.ID)).Logger(),
	}
	h.handlers = map[protocol.Type]Handler{
		protocol.TypeIdentity:         h.handleIdentity,
		protocol.TypeLan:              h.handleLan,
		protocol.TypeMemberJoin:       h.handleMemberJoin,
		protocol.TypeMemberJoinOffer:  h.handleMemberJoinOffer,
		protocol.TypeMemberJoinAnswer: h.handleMemberJoinAnswer,
		protocol.TypeHeartbeatPing:    h.handleHeartbeatPing,
		protocol.TypeHeartbeatPong:    h.handleHeartbeatPong,
		protocol.TypeManifestRequest:  h.handleManifestRequest,
		protocol.TypeManifest:         h.handleManifest,
	}
	if h.discovery != nil {
		h.discovery.OnDiscover(h.onDiscover)
	}
	return h
}

func (h *Host) ID() domain.HostID { return h.id }

func (h *Host) Identity() domain.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.identity
}

// Rename changes the advertised name. Peers learn it on their next connect.
func (h *Host) Rename(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity.SetName(name)
}

func (h *Host) Manifest() json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.manifest) == 0 {
		return json.RawMessage("{}")
	}
	return h.manifest
}

func (h *Host) SetManifest(raw json.RawMessage) error {
	if len(raw) > MaxManifestSize {
		return fmt.Errorf("%d bytes, limit %d: %w", len(raw), MaxManifestSize, ErrManifestTooLarge)
	}
	if !json.Valid(raw) {
		return ErrManifestInvalid
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.manifest = append(json.RawMessage(nil), raw...)
	return nil
}

func (h *Host) Session(id core.SessionID) (*Session, bool) { return h.reg.Get(id) }

func (h *Host) FindByRemote(remote domain.HostID) (*Session, bool) { return h.reg.FindByRemote(remote) }

func (h *Host) Sessions() []*Session { return h.reg.Snapshot() }

func (h *Host) build(id core.SessionID, remote domain.HostID, relay bool) (*Session, error) {
	pc, err := h.peers(id)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	s := newSession(h, id, pc, remote, relay)
	if err := pc.Start(s.ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start peer connection: %w", err)
	}
	return s, nil
}

func (h *Host) register(id core.SessionID, remote domain.HostID, relay bool) (*Session, error) {
	if s, ok := h.reg.Get(id); ok {
		return s, nil
	}
	s, err := h.build(id, remote, relay)
	if err != nil {
		return nil, err
	}
	if !h.reg.Bind(s) {
		s.Close()
		existing, _ := h.reg.Get(id)
		return existing, nil
	}
	return s, nil
}

// Create registers an initiator-side session; a known id returns the
// existing session.
func (h *Host) Create(id core.SessionID) (*Session, error) {
	return h.register(id, "", false)
}

// CreateAnswerer registers a session with the remote host already bound.
func (h *Host) CreateAnswerer(id core.SessionID, remote domain.HostID) (*Session, error) {
	return h.register(id, remote, false)
}

func (h *Host) Initiate(id core.SessionID) (*webrtc.SessionDescription, error) {
	s, ok := h.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("initiate %s: %w", id, ErrUnknownSession)
	}
	return s.Initiate()
}

// Offer applies a remote offer, creating the answerer session on first use.
func (h *Host) Offer(id core.SessionID, remote domain.HostID, sdp string) (*webrtc.SessionDescription, error) {
	s, ok := h.reg.Get(id)
	if !ok {
		var err error
		if s, err = h.CreateAnswerer(id, remote); err != nil {
			return nil, err
		}
		answer, err := s.Offer(sdp)
		if err != nil {
			// A rejected first offer leaves no session behind.
			h.closeSession(s, "offer rejected")
			return nil, err
		}
		return answer, nil
	}

	if rid := s.RemoteID(); remote != "" && rid != "" && rid != remote {
		return nil, fmt.Errorf("offer %s: %w", id, ErrRemoteMismatch)
	}
	answer, err := s.Offer(sdp)
	if err != nil {
		return nil, err
	}
	if remote != "" && !s.bindRemote(remote) {
		return nil, fmt.Errorf("offer %s: %w", id, ErrRemoteMismatch)
	}
	return answer, nil
}

func (h *Host) Answer(id core.SessionID, remote domain.HostID, sdp string) error {
	s, ok := h.reg.Get(id)
	if !ok {
		return fmt.Errorf("answer %s: %w", id, ErrUnknownSession)
	}
	if remote != "" && !s.bindRemote(remote) {
		return fmt.Errorf("answer %s: %w", id, ErrRemoteMismatch)
	}
	return s.Answer(sdp)
}

// LocalDescription returns the session's current description, candidates
// gathered so far included.
func (h *Host) LocalDescription(id core.SessionID) (*webrtc.SessionDescription, error) {
	s, ok := h.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("describe %s: %w", id, ErrUnknownSession)
	}
	return s.LocalDescription(), nil
}

// Join asks the peer on session id to introduce target to the overlay.
func (h *Host) Join(id core.SessionID, target domain.HostID) error {
	s, ok := h.reg.Get(id)
	if !ok {
		return fmt.Errorf("join %s: %w", id, ErrUnknownSession)
	}
	return s.Send(protocol.TypeMemberJoin, protocol.MemberJoin{ID: target})
}

func (h *Host) RequestManifest(id core.SessionID) error {
	s, ok := h.reg.Get(id)
	if !ok {
		return fmt.Errorf("manifest %s: %w", id, ErrUnknownSession)
	}
	return s.Send(protocol.TypeManifestRequest, protocol.ManifestRequest{})
}

// Drop closes and forgets a session. Unknown ids are ignored.
func (h *Host) Drop(id core.SessionID) {
	if s, ok := h.reg.Get(id); ok {
		h.closeSession(s, "dropped")
	}
}

func (h *Host) closeSession(s *Session, reason string) {
	if h.reg.Unbind(s) {
		h.logger.Info().Str("sid", string(s.id)).Str("reason", reason).Msg("removing session")
	}
	s.Close()
}

// Close drops every session and stops background work.
func (h *Host) Close() {
	h.cancel()
	for _, s := range h.reg.Snapshot() {
		h.closeSession(s, "host closed")
	}
}

// Dispatch runs the handler registered for m.Type. Handler failures and
// panics are logged and never reach the session.
func (h *Host) Dispatch(ctx context.Context, s *Session, m protocol.Message) {
	handler, ok := h.handlers[m.Type]
	if !ok {
		h.logger.Warn().Str("sid", string(s.id)).Str("type", string(m.Type)).Msg("unknown message type")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Str("sid", string(s.id)).Str("type", string(m.Type)).Interface("panic", r).Msg("handler panicked")
		}
	}()
	if err := handler(ctx, s, m.Payload); err != nil {
		h.logger.Warn().Err(err).Str("sid", string(s.id)).Str("type", string(m.Type)).Msg("handler failed")
	}
}

// onDiscover republishes a local LAN server to every connected peer except
// the one whose proxy produced the announcement.
func (h *Host) onDiscover(server domain.LanServer) {
	for _, s := range h.reg.Snapshot() {
		if !s.Connected() || s.ownsPort(server.Port) {
			continue
		}
		if err := s.Send(protocol.TypeLan, protocol.Lan{Motd: server.Motd, Port: server.Port}); err != nil {
			h.logger.Debug().Err(err).Str("sid", string(s.id)).Msg("lan forward failed")
		}
	}
}

func (h *Host) notify(ev core.Event) {
	if h.notifier != nil {
		h.notifier.Notify(ev)
	}
}
