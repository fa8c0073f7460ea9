package signal

import (
	"encoding/json"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSessions(conn *WsSignalConn) {
	resp := struct {
		Type     string            `json:"type"`
		Sessions []core.SessionDTO `json:"sessions"`
		Count    int               `json:"count"`
	}{
		Type:     "sessions",
		Sessions: ctl.Orch.Sessions(),
	}
	resp.Count = len(resp.Sessions)
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleDrop(conn *WsSignalConn, data []byte) {
	var p sessionPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(p.Session)).Msg("drop")
	ctl.Orch.Drop(p.Session)
	ctl.sendJSON(conn, map[string]any{
		"type":    "dropped",
		"session": p.Session,
	})
}

// handleJoin asks the peer on a session to introduce target to the mesh.
func (ctl *SignalWSController) handleJoin(conn *WsSignalConn, data []byte) {
	var p struct {
		Type    string         `json:"type"`
		Session core.SessionID `json:"session"`
		Target  domain.HostID  `json:"target"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	if err := ctl.Orch.Join(p.Session, p.Target); err != nil {
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type":    "joined",
		"session": p.Session,
		"target":  p.Target,
	})
}

// handleManifest sets the local manifest, requests the peer's, or both.
func (ctl *SignalWSController) handleManifest(conn *WsSignalConn, data []byte) {
	var p struct {
		Type     string          `json:"type"`
		Session  core.SessionID  `json:"session,omitempty"`
		Manifest json.RawMessage `json:"manifest,omitempty"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	if len(p.Manifest) > 0 {
		if err := ctl.Orch.SetManifest(p.Manifest); err != nil {
			ctl.sendError(conn, err.Error())
			return
		}
	}
	if p.Session != "" {
		if err := ctl.Orch.RequestManifest(p.Session); err != nil {
			ctl.sendError(conn, err.Error())
			return
		}
	}
	ctl.sendJSON(conn, map[string]any{
		"type":    "manifest_ok",
		"session": p.Session,
	})
}
