package relay

import (
	"log"
	"sync"
	"time"
)

// Registry is the process-wide mapping from session id to Session
// (component D, spec.md §4.4). A single mutex protects the map; creation
// and deletion happen on HTTP/TCP event contexts (via Add/remove), lookup
// happens on WebSocket upgrade (via Get).
//
// Adapted from the teacher's sshtunnel registry.go, which holds a global
// singleton behind one sync.RWMutex; generalized here from a single
// instance field per manager to a map keyed by session id, since a relay
// process hosts many concurrent Sessions rather than one SSHManager.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout time.Duration
	stopReaper  chan struct{}
	reaperDone  chan struct{}
}

// NewRegistry creates an empty Registry and starts its idle-session
// reaper goroutine (SPEC_FULL.md: a Session that connected more than
// idleTimeout ago and has never had a frontend attach is evicted). A
// idleTimeout of 0 disables the reaper.
func NewRegistry(idleTimeout time.Duration) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		stopReaper:  make(chan struct{}),
		reaperDone:  make(chan struct{}),
	}
	if idleTimeout > 0 {
		go r.reapLoop()
	} else {
		close(r.reaperDone)
	}
	return r
}

// Add inserts a Session into the registry and wires its removal callback.
// Call this only after the Session's backend TCP connection has completed
// successfully (spec.md §3: "Insertion occurs after the backend TCP
// connection completes successfully").
func (r *Registry) Add(s *Session) {
	s.onRemove = r.remove

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

// Get looks up a Session by id. A removed entry is never returned, per
// spec.md §3 ("A removed entry must not be reachable by a subsequent
// /connect").
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// remove deletes a session from the map. Invoked exactly once per Session,
// from Session.terminate, regardless of which path (backend close, backend
// I/O error, explicit Close) triggered termination.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports how many sessions are currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops the idle reaper. It does not close any Sessions; callers
// that want a clean process exit close the backend connections themselves
// (mirroring the teacher's SSHManager.CloseAll at shutdown).
func (r *Registry) Shutdown() {
	if r.idleTimeout > 0 {
		close(r.stopReaper)
		<-r.reaperDone
	}
}

// reapLoop periodically evicts Sessions that were created more than
// idleTimeout ago and have never had a frontend attach, per SPEC_FULL.md's
// idle-session reaper. Modeled on the teacher's
// sshterminal.SessionManager.reapLoop/reapIdle.
func (r *Registry) reapLoop() {
	defer close(r.reaperDone)

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopReaper:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

// reapIdle takes a cheap RLock'd pass to find reap candidates, then asks
// each Session itself to decide atomically whether it's still eligible
// (reapIfNeverAttached) before tearing it down. The RLock'd snapshot can go
// stale the instant it's released — a /connect racing in right behind it
// can adopt a frontend onto one of these candidates before the loop below
// gets to it — so the final eligibility check has to happen inside the
// Session's own critical section, not out here against a stale snapshot.
func (r *Registry) reapIdle() {
	now := time.Now()

	r.mu.RLock()
	var candidates []*Session
	for _, s := range r.sessions {
		if !s.EverAttached() && now.Sub(s.CreatedAt()) > r.idleTimeout {
			candidates = append(candidates, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range candidates {
		if s.reapIfNeverAttached() {
			log.Printf("[registry] reaping idle session %s (never attached, created %s ago)", s.ID(), now.Sub(s.CreatedAt()))
		}
	}
}
