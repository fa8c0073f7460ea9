package app

import (
	"time"

	"github.com/dkeye/lanlink/internal/protocol"
)

// heartbeatLoop pings the peer until the session closes. Failures only log;
// transport loss is reported by the connection state.
func (s *Session) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.Send(protocol.TypeHeartbeatPing, protocol.Heartbeat{Time: protocol.NowMillis()}); err != nil {
				s.logger.Debug().Err(err).Msg("heartbeat ping failed")
			}
		}
	}
}
