package rtc

import (
	"io"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var _ core.DataChannel = (*dataChannel)(nil)

type dataChannel struct {
	dc  *webrtc.DataChannel
	sid core.SessionID
}

func (d *dataChannel) Label() string    { return d.dc.Label() }
func (d *dataChannel) Protocol() string { return d.dc.Protocol() }

// OnOpen detaches the channel once it opens and hands the raw stream to fn.
// Each Read on the stream returns exactly one channel message.
func (d *dataChannel) OnOpen(fn func(io.ReadWriteCloser)) {
	d.dc.OnOpen(func() {
		raw, err := d.dc.Detach()
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("sid", string(d.sid)).Str("label", d.dc.Label()).Msg("detach failed")
			_ = d.dc.Close()
			return
		}
		fn(raw)
	})
}

func (d *dataChannel) Close() error { return d.dc.Close() }
