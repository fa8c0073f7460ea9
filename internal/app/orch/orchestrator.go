// Package orch is the controller-facing facade over the Host. It turns
// controller commands into Host operations and fans session events out to
// every subscribed controller connection.
package orch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/lanlink/internal/app"
	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoHost = errors.New("orchestrator has no host")

var _ core.Notifier = (*Orchestrator)(nil)

type Orchestrator struct {
	Host   *app.Host
	Policy Policy

	mu          sync.RWMutex
	subscribers map[string]core.SignalConnection
}

func New(policy Policy) *Orchestrator {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Orchestrator{
		Policy:      policy,
		subscribers: make(map[string]core.SignalConnection),
	}
}

// Bind attaches the host. The host is built with the orchestrator as its
// notifier, so the two are wired in two steps.
func (o *Orchestrator) Bind(h *app.Host) { o.Host = h }

func (o *Orchestrator) Subscribe(id string, conn core.SignalConnection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.subscribers[id]; ok && prev != conn {
		prev.Close()
	}
	o.subscribers[id] = conn
	log.Info().Str("module", "orch").Str("client", id).Msg("controller subscribed")
}

// Unsubscribe removes id only while it still maps to conn.
func (o *Orchestrator) Unsubscribe(id string, conn core.SignalConnection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.subscribers[id]; ok && cur == conn {
		delete(o.subscribers, id)
		log.Info().Str("module", "orch").Str("client", id).Msg("controller unsubscribed")
	}
}

func (o *Orchestrator) SubscriberCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subscribers)
}

type eventFrame struct {
	Type string `json:"type"`
	core.Event
}

// Notify implements core.Notifier. It never blocks: slow controllers are
// handled by the backpressure policy.
func (o *Orchestrator) Notify(ev core.Event) {
	frame, err := json.Marshal(eventFrame{Type: "event", Event: ev})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal event")
		return
	}

	o.mu.RLock()
	targets := make(map[string]core.SignalConnection, len(o.subscribers))
	for id, conn := range o.subscribers {
		targets[id] = conn
	}
	o.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.TrySend(frame); err != nil {
			o.onSendFailure(id, conn, err)
		}
	}
}

func (o *Orchestrator) onSendFailure(id string, conn core.SignalConnection, err error) {
	switch o.Policy.OnBackPressure(id) {
	case KickSubscriber:
		log.Warn().Err(err).Str("module", "orch").Str("client", id).Msg("kicking slow controller")
		o.Unsubscribe(id, conn)
		conn.Close()
	case DropFrame, NoAction:
		log.Debug().Err(err).Str("module", "orch").Str("client", id).Msg("event dropped")
	}
}

func (o *Orchestrator) host() (*app.Host, error) {
	if o.Host == nil {
		return nil, ErrNoHost
	}
	return o.Host, nil
}

func (o *Orchestrator) WhoAmI() core.HostDTO {
	if o.Host == nil {
		return core.HostDTO{}
	}
	ident := o.Host.Identity()
	return core.HostDTO{ID: o.Host.ID(), Name: ident.Name, Avatar: ident.Avatar}
}

func (o *Orchestrator) Rename(name string) error {
	h, err := o.host()
	if err != nil {
		return err
	}
	return h.Rename(name)
}

func (o *Orchestrator) Create(sid core.SessionID) (core.SessionDTO, error) {
	h, err := o.host()
	if err != nil {
		return core.SessionDTO{}, err
	}
	if sid == "" {
		return core.SessionDTO{}, errors.New("empty session id")
	}
	s, err := h.Create(sid)
	if err != nil {
		return core.SessionDTO{}, err
	}
	return s.Snapshot(), nil
}

func (o *Orchestrator) Initiate(sid core.SessionID) (*webrtc.SessionDescription, error) {
	h, err := o.host()
	if err != nil {
		return nil, err
	}
	return h.Initiate(sid)
}

func (o *Orchestrator) Offer(sid core.SessionID, remote domain.HostID, sdp string) (*webrtc.SessionDescription, error) {
	h, err := o.host()
	if err != nil {
		return nil, err
	}
	if sid == "" || sdp == "" {
		return nil, errors.New("offer needs session and sdp")
	}
	return h.Offer(sid, remote, sdp)
}

func (o *Orchestrator) Answer(sid core.SessionID, remote domain.HostID, sdp string) error {
	h, err := o.host()
	if err != nil {
		return err
	}
	if sdp == "" {
		return errors.New("answer needs sdp")
	}
	return h.Answer(sid, remote, sdp)
}

func (o *Orchestrator) Describe(sid core.SessionID) (*webrtc.SessionDescription, error) {
	h, err := o.host()
	if err != nil {
		return nil, err
	}
	desc, err := h.LocalDescription(sid)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, fmt.Errorf("describe %s: no local description yet", sid)
	}
	return desc, nil
}

func (o *Orchestrator) Drop(sid core.SessionID) {
	if o.Host != nil {
		o.Host.Drop(sid)
	}
}

func (o *Orchestrator) Join(sid core.SessionID, target domain.HostID) error {
	h, err := o.host()
	if err != nil {
		return err
	}
	if target == "" {
		return errors.New("join needs a target")
	}
	return h.Join(sid, target)
}

func (o *Orchestrator) Sessions() []core.SessionDTO {
	if o.Host == nil {
		return nil
	}
	sessions := o.Host.Sessions()
	out := make([]core.SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

func (o *Orchestrator) SetManifest(raw json.RawMessage) error {
	h, err := o.host()
	if err != nil {
		return err
	}
	return h.SetManifest(raw)
}

func (o *Orchestrator) RequestManifest(sid core.SessionID) error {
	h, err := o.host()
	if err != nil {
		return err
	}
	return h.RequestManifest(sid)
}
