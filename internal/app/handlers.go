package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/dkeye/lanlink/internal/protocol"
)

var errMissingHostID = errors.New("identity without remoteHostId")

func (h *Host) handleIdentity(_ context.Context, s *Session, raw json.RawMessage) error {
	var p protocol.Identity
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode identity: %w", err)
	}
	if p.RemoteHostID == "" {
		return errMissingHostID
	}
	if !s.bindRemote(p.RemoteHostID) {
		s.logger.Warn().
			Str("bound", string(s.RemoteID())).
			Str("claimed", string(p.RemoteHostID)).
			Msg("conflicting identity ignored")
		return nil
	}

	member := domain.NewMember(p.RemoteHostID, domain.Identity{Name: p.Name, Avatar: p.Avatar})
	s.setMember(*member)
	s.logger.Info().Str("remote", string(p.RemoteHostID)).Str("name", p.Name).Msg("peer identified")
	h.notify(core.Event{Kind: core.EventIdentity, Session: s.id, Member: member})

	if s.relay {
		return nil
	}
	for _, other := range h.reg.Snapshot() {
		if other == s || !other.Connected() {
			continue
		}
		if rid := other.RemoteID(); rid == "" || rid == p.RemoteHostID {
			continue
		}
		if err := other.Send(protocol.TypeMemberJoin, protocol.MemberJoin{ID: p.RemoteHostID}); err != nil {
			s.logger.Warn().Err(err).Str("to", string(other.id)).Msg("member-join announce failed")
		}
	}
	return nil
}

func (h *Host) handleHeartbeatPing(_ context.Context, s *Session, raw json.RawMessage) error {
	var p protocol.Heartbeat
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}
	return s.Send(protocol.TypeHeartbeatPong, p)
}

func (h *Host) handleHeartbeatPong(_ context.Context, s *Session, raw json.RawMessage) error {
	var p protocol.Heartbeat
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}
	latency := protocol.NowMillis() - p.Time
	if latency < 0 {
		latency = 0
	}
	s.logger.Debug().Int64("latency_ms", latency).Msg("heartbeat")
	h.notify(core.Event{Kind: core.EventLatency, Session: s.id, LatencyMs: latency})
	return nil
}

func (h *Host) handleManifestRequest(_ context.Context, s *Session, _ json.RawMessage) error {
	return s.Send(protocol.TypeManifest, protocol.Manifest{Manifest: h.Manifest()})
}

func (h *Host) handleManifest(_ context.Context, s *Session, raw json.RawMessage) error {
	var p protocol.Manifest
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	h.notify(core.Event{Kind: core.EventManifest, Session: s.id, Manifest: p.Manifest})
	return nil
}
