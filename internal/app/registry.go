package app

import (
	"sort"
	"sync"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the host's session table. Lock order is registry, then session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*Session)}
}

// Bind registers s. It reports false and leaves the table untouched when the
// id is already taken.
func (r *Registry) Bind(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; ok {
		return false
	}
	r.sessions[s.id] = s
	log.Info().Str("module", "app.registry").Str("sid", string(s.id)).Bool("relay", s.relay).Msg("bound session")
	return true
}

// ClaimRemote atomically checks that no session targets remote yet and binds
// the session produced by build. When one already exists it is returned with
// created == false and build is not called.
func (r *Registry) ClaimRemote(remote domain.HostID, build func() (*Session, error)) (s *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findByRemoteLocked(remote); existing != nil {
		return existing, false, nil
	}
	s, err = build()
	if err != nil {
		return nil, false, err
	}
	if _, ok := r.sessions[s.id]; ok {
		return r.sessions[s.id], false, nil
	}
	r.sessions[s.id] = s
	log.Info().Str("module", "app.registry").Str("sid", string(s.id)).Str("remote", string(remote)).Msg("bound relay session")
	return s, true, nil
}

func (r *Registry) Get(id core.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Unbind removes id only while it still maps to s.
func (r *Registry) Unbind(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.id]; !ok || cur != s {
		return false
	}
	delete(r.sessions, s.id)
	log.Info().Str("module", "app.registry").Str("sid", string(s.id)).Msg("unbind session")
	return true
}

// FindByRemote returns a session bound to remote, connected or not.
func (r *Registry) FindByRemote(remote domain.HostID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.findByRemoteLocked(remote)
	return s, s != nil
}

func (r *Registry) findByRemoteLocked(remote domain.HostID) *Session {
	if remote == "" {
		return nil
	}
	for _, s := range r.sessions {
		if s.RemoteID() == remote {
			return s
		}
	}
	return nil
}

// ConnectedTo returns a session to remote whose metadata channel is open.
func (r *Registry) ConnectedTo(remote domain.HostID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if remote == "" {
		return nil, false
	}
	for _, s := range r.sessions {
		if s.RemoteID() == remote && s.Connected() {
			return s, true
		}
	}
	return nil, false
}

// Snapshot lists the sessions ordered by id.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
