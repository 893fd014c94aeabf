// ABOUTME: Owned liveness and busy state for subprocess providers, plus the hub-side tracker
// ABOUTME: Subprocess sessions are alive only when explicitly marked; never probed externally

package provider

import "sync"

// SessionMarker is implemented by clients whose liveness is pure local
// bookkeeping. The hub marks a session alive when its agent connects
// with a fresh reference and dead when it disconnects.
type SessionMarker interface {
	MarkAlive(sessionID string)
	MarkDead(sessionID string)
}

// sessionSet is the liveness state a subprocess client owns: which
// session ids have been explicitly marked alive, and which have a
// prompt in flight. There is no external source of truth to fall back
// on; a session never marked alive is dead.
type sessionSet struct {
	mu    sync.RWMutex
	alive map[string]bool
	busy  map[string]bool
}

func newSessionSet() *sessionSet {
	return &sessionSet{
		alive: make(map[string]bool),
		busy:  make(map[string]bool),
	}
}

// markAlive records the session as alive. Idempotent.
func (s *sessionSet) markAlive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[id] = true
}

// markDead removes the alive mark. Idempotent.
func (s *sessionSet) markDead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alive, id)
}

// isAlive reports the current mark. Never-seen ids are dead.
func (s *sessionSet) isAlive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive[id]
}

func (s *sessionSet) markBusy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[id] = true
}

func (s *sessionSet) clearBusy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, id)
}

func (s *sessionSet) isBusy(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy[id]
}

// Tracker records which agents have an invocation in flight, keyed by
// agent name. The orchestrator marks an agent busy before prompting
// and clears it (deferred) when the invocation ends, so busy state
// survives across provider kinds that cannot report it themselves.
type Tracker struct {
	mu   sync.RWMutex
	busy map[string]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{busy: make(map[string]bool)}
}

// MarkBusy records that the named agent has an invocation in flight.
func (t *Tracker) MarkBusy(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy[name] = true
}

// ClearBusy removes the in-flight mark for the named agent.
func (t *Tracker) ClearBusy(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.busy, name)
}

// Busy reports whether the named agent has an invocation in flight.
func (t *Tracker) Busy(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.busy[name]
}

// BusyCount returns the number of agents with invocations in flight.
func (t *Tracker) BusyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.busy)
}
