package tunnel

import (
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager owns every live tunnel of one session.
type Manager struct {
	mu      sync.Mutex
	tunnels map[uint64]*Tunnel
	next    uint64
	stopped bool

	logger zerolog.Logger
}

func NewManager(sid string) *Manager {
	return &Manager{
		tunnels: make(map[uint64]*Tunnel),
		logger: log.With().
			Str("module", "tunnel").
			Str("sid", sid).
			Logger(),
	}
}

// Start bridges socket and channel in the background. After StopAll both
// ends are closed immediately and ok is false.
func (m *Manager) Start(label string, socket, channel net.Conn) (t *Tunnel, ok bool) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = socket.Close()
		_ = channel.Close()
		return nil, false
	}
	m.next++
	t = New(m.next, label, socket, channel)
	m.tunnels[t.ID] = t
	m.mu.Unlock()

	m.logger.Debug().Uint64("tunnel", t.ID).Str("label", label).Msg("starting tunnel")
	go func() {
		t.Run(&m.logger)
		m.remove(t.ID)
	}()
	return t, true
}

func (m *Manager) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tunnels, id)
}

// StopAll closes every tunnel and refuses new ones.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.stopped = true
	snapshot := make([]*Tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		snapshot = append(snapshot, t)
	}
	m.mu.Unlock()

	for _, t := range snapshot {
		t.Close()
	}
	if len(snapshot) > 0 {
		m.logger.Info().Int("count", len(snapshot)).Msg("stopped tunnels")
	}
}

// Count reports the number of live tunnels.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tunnels)
}
