package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/dkeye/lanlink/internal/protocol"
	"github.com/google/uuid"
)

var errIncompleteRelay = errors.New("relay message missing from, to or session")

// handleMemberJoin introduces the local host to a newcomer reachable
// through s by sending it an offer across the overlay.
func (h *Host) handleMemberJoin(_ context.Context, s *Session, raw json.RawMessage) error {
	var p protocol.MemberJoin
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode member-join: %w", err)
	}
	if p.ID == "" {
		return errors.New("member-join without id")
	}
	if p.ID == h.id {
		return nil
	}

	rs, created, err := h.reg.ClaimRemote(p.ID, func() (*Session, error) {
		return h.build(core.SessionID(uuid.NewString()), p.ID, true)
	})
	if err != nil {
		return fmt.Errorf("member-join %s: %w", p.ID, err)
	}
	if !created {
		h.logger.Debug().Str("remote", string(p.ID)).Str("sid", string(rs.id)).Msg("member already known")
		return nil
	}

	initTime := protocol.NowMillis()
	if _, err := rs.Initiate(); err != nil {
		h.closeSession(rs, "relay initiate failed")
		return fmt.Errorf("member-join %s: %w", p.ID, err)
	}
	h.logger.Info().Str("remote", string(p.ID)).Str("sid", string(rs.id)).Str("via", string(s.id)).Msg("relay offer started")
	go h.sendRelayOffer(s, rs, p.ID, initTime)
	return nil
}

func (h *Host) sendRelayOffer(via, rs *Session, target domain.HostID, initTime int64) {
	if !h.awaitGathering(rs) {
		return
	}
	desc := rs.LocalDescription()
	if desc == nil {
		h.logger.Error().Str("sid", string(rs.id)).Msg("relay offer has no local description")
		h.closeSession(rs, "relay offer missing")
		return
	}

	route := via
	if direct, ok := h.reg.ConnectedTo(target); ok && direct != rs {
		route = direct
	}
	err := route.Send(protocol.TypeMemberJoinOffer, protocol.MemberJoinOffer{
		From:     h.id,
		To:       target,
		Session:  rs.id,
		Offer:    *desc,
		InitTime: initTime,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("sid", string(rs.id)).Str("via", string(route.id)).Msg("relay offer undeliverable")
		h.closeSession(rs, "relay offer undeliverable")
	}
}

func (h *Host) handleMemberJoinOffer(_ context.Context, s *Session, raw json.RawMessage) error {
	var p protocol.MemberJoinOffer
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode member-join-offer: %w", err)
	}
	if p.From == "" || p.To == "" || p.Session == "" {
		return errIncompleteRelay
	}
	if p.To != h.id {
		h.forward(protocol.TypeMemberJoinOffer, raw, p.To)
		return nil
	}

	logger := h.logger.With().Str("sid", string(p.Session)).Str("remote", string(p.From)).Logger()
	logger.Info().Int64("elapsed_ms", protocol.NowMillis()-p.InitTime).Msg("relay offer received")

	if _, ok := h.reg.Get(p.Session); ok {
		logger.Warn().Msg("duplicate relay offer dropped")
		return nil
	}
	if pending, ok := h.reg.FindByRemote(p.From); ok {
		if pending.Connected() || !pending.isInitiator() {
			logger.Debug().Str("existing", string(pending.id)).Msg("already linked, offer ignored")
			return nil
		}
		// Both sides offered at once; the smaller host id stays the offerer.
		if h.id < p.From {
			logger.Debug().Str("existing", string(pending.id)).Msg("keeping own offer")
			return nil
		}
		h.closeSession(pending, "yielding to remote offer")
	}

	rs, err := h.register(p.Session, p.From, true)
	if err != nil {
		return fmt.Errorf("member-join-offer %s: %w", p.Session, err)
	}
	if _, err := rs.Offer(p.Offer.SDP); err != nil {
		h.closeSession(rs, "relay offer rejected")
		return fmt.Errorf("member-join-offer %s: %w", p.Session, err)
	}
	go h.sendRelayAnswer(s, rs, p)
	return nil
}

func (h *Host) sendRelayAnswer(via, rs *Session, offer protocol.MemberJoinOffer) {
	if !h.awaitGathering(rs) {
		return
	}
	desc := rs.LocalDescription()
	if desc == nil {
		h.logger.Error().Str("sid", string(rs.id)).Msg("relay answer has no local description")
		h.closeSession(rs, "relay answer missing")
		return
	}
	err := via.Send(protocol.TypeMemberJoinAnswer, protocol.MemberJoinAnswer{
		From:       h.id,
		To:         offer.From,
		Session:    offer.Session,
		Answer:     *desc,
		InitTime:   offer.InitTime,
		AnswerTime: protocol.NowMillis(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("sid", string(rs.id)).Msg("relay answer undeliverable")
		h.closeSession(rs, "relay answer undeliverable")
	}
}

func (h *Host) handleMemberJoinAnswer(_ context.Context, _ *Session, raw json.RawMessage) error {
	var p protocol.MemberJoinAnswer
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode member-join-answer: %w", err)
	}
	if p.From == "" || p.To == "" || p.Session == "" {
		return errIncompleteRelay
	}
	if p.To != h.id {
		h.forward(protocol.TypeMemberJoinAnswer, raw, p.To)
		return nil
	}

	rs, ok := h.reg.Get(p.Session)
	if !ok {
		h.logger.Warn().Str("sid", string(p.Session)).Msg("answer for unknown relay session")
		return nil
	}
	if rid := rs.RemoteID(); rid != p.From {
		h.logger.Warn().Str("sid", string(p.Session)).Str("from", string(p.From)).Str("bound", string(rid)).Msg("answer from unexpected host")
		return nil
	}
	now := protocol.NowMillis()
	h.logger.Info().
		Str("sid", string(p.Session)).
		Int64("answer_ms", p.AnswerTime-p.InitTime).
		Int64("total_ms", now-p.InitTime).
		Msg("relay answer received")
	return rs.Answer(p.Answer.SDP)
}

// forward relays a message addressed to another host, unchanged, over the
// session connected to it. Nothing is created when no such session exists.
func (h *Host) forward(t protocol.Type, raw json.RawMessage, to domain.HostID) {
	dest, ok := h.reg.ConnectedTo(to)
	if !ok {
		h.logger.Error().Str("type", string(t)).Str("to", string(to)).Msg("no route for relay message, dropped")
		return
	}
	if err := dest.SendMessage(protocol.Message{Type: t, Payload: raw}); err != nil {
		h.logger.Error().Err(err).Str("type", string(t)).Str("sid", string(dest.id)).Msg("relay forward failed")
	}
}

// awaitGathering applies the gather policy. It reports false when the
// session went away meanwhile.
func (h *Host) awaitGathering(rs *Session) bool {
	if err := h.gather.Wait(rs.ctx, rs.pc); err != nil {
		if rs.ctx.Err() != nil {
			return false
		}
		h.logger.Warn().Err(err).Str("sid", string(rs.id)).Msg("gather wait ended early")
	}
	return true
}
