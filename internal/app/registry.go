// Package app dispatches signaling events to call sessions and owns the
// process-wide registry of active calls.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"echocall/internal/app/call"
	"echocall/internal/domain"
	"echocall/internal/metrics"
)

// Registry is the process-wide table of active call sessions, keyed by
// call identity. At most one session exists per identity at a time.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*call.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.CallID]*call.Session)}
}

// Register adds the session. It reports false when the identity is already
// present; the first session stays authoritative.
func (r *Registry) Register(id domain.CallID, s *call.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return false
	}
	r.sessions[id] = s
	metrics.ActiveCalls.Inc()
	log.Info().Str("module", "app.registry").Str("call", id.String()).Msg("session registered")
	return true
}

func (r *Registry) Lookup(id domain.CallID) (*call.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the entry if it still belongs to s (nil s matches any).
// No-op when absent; stray removals after teardown are expected.
func (r *Registry) Remove(id domain.CallID, s *call.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok || (s != nil && cur != s) {
		return
	}
	delete(r.sessions, id)
	metrics.ActiveCalls.Dec()
	log.Info().Str("module", "app.registry").Str("call", id.String()).Msg("session removed")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CallDTO is a read-only view of one active call for the status API.
type CallDTO struct {
	Room   domain.RoomID `json:"room"`
	Caller domain.UserID `json:"caller"`
	CallID string        `json:"call_id"`
	State  string        `json:"state"`
}

func (r *Registry) Snapshot() []CallDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CallDTO, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, CallDTO{
			Room:   id.Room,
			Caller: id.Caller,
			CallID: id.Call,
			State:  s.State(),
		})
	}
	return out
}

// DrainAll hangs up and closes every remaining session at process
// shutdown, continuing through the rest of the table even if individual
// teardowns misbehave. Sessions drop their own entries during teardown.
func (r *Registry) DrainAll() {
	r.mu.RLock()
	sessions := make([]*call.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Drain()
	}

	r.mu.Lock()
	r.sessions = make(map[domain.CallID]*call.Session)
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Int("drained", len(sessions)).Msg("registry drained")
}
