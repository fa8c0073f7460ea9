package signal

import (
	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type sessionPayload struct {
	Type    string         `json:"type"`
	Session core.SessionID `json:"session"`
}

// negotiationPayload carries a remote description. ID is the remote host.
type negotiationPayload struct {
	Type    string         `json:"type"`
	Session core.SessionID `json:"session"`
	ID      domain.HostID  `json:"id"`
	SDP     string         `json:"sdp"`
}

type descriptionResp struct {
	Type    string         `json:"type"`
	Session core.SessionID `json:"session"`
	SDPType string         `json:"sdpType"`
	SDP     string         `json:"sdp"`
}

func (ctl *SignalWSController) sendDescription(conn *WsSignalConn, typ string, sid core.SessionID, sd *webrtc.SessionDescription) {
	ctl.sendJSON(conn, descriptionResp{
		Type:    typ,
		Session: sid,
		SDPType: sd.Type.String(),
		SDP:     sd.SDP,
	})
}

func (ctl *SignalWSController) handleCreate(conn *WsSignalConn, data []byte) {
	var p sessionPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	dto, err := ctl.Orch.Create(p.Session)
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type":    "created",
		"session": dto,
	})
}

func (ctl *SignalWSController) handleInitiate(conn *WsSignalConn, data []byte) {
	var p sessionPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	offer, err := ctl.Orch.Initiate(p.Session)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.Session)).Msg("initiate")
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendDescription(conn, "offer", p.Session, offer)
}

func (ctl *SignalWSController) handleOffer(conn *WsSignalConn, data []byte) {
	var p negotiationPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	answer, err := ctl.Orch.Offer(p.Session, p.ID, p.SDP)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.Session)).Msg("offer")
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendDescription(conn, "answer", p.Session, answer)
}

func (ctl *SignalWSController) handleAnswer(conn *WsSignalConn, data []byte) {
	var p negotiationPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if err := ctl.Orch.Answer(p.Session, p.ID, p.SDP); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.Session)).Msg("answer")
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type":    "answered",
		"session": p.Session,
	})
}

func (ctl *SignalWSController) handleDescribe(conn *WsSignalConn, data []byte) {
	var p sessionPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	desc, err := ctl.Orch.Describe(p.Session)
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendDescription(conn, "description", p.Session, desc)
}
