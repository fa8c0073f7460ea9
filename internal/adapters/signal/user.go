package signal

import (
	"github.com/dkeye/lanlink/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	conn *WsSignalConn,
	data []byte,
) {
	var p struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	if err := ctl.Orch.Rename(p.Name); err != nil {
		ctl.sendError(conn, err.Error())
		return
	}
	log.Info().Str("module", "signal").Str("name", p.Name).Msg("rename")
	ctl.handleWhoAmI(conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string       `json:"type"`
		Host core.HostDTO `json:"host"`
	}{
		Type: "whoami",
		Host: ctl.Orch.WhoAmI(),
	}
	ctl.sendJSON(conn, resp)
}
