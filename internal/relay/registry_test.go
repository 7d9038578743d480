package relay

import (
	"net"
	"testing"
	"time"
)

// newTestSession builds a Session over an in-memory pipe instead of a real
// TCP listener, mirroring the teacher's own test doubles
// (sshtunnel/test_helpers.go) that avoid opening real sockets in unit tests.
func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	backendSide, sessionSide := net.Pipe()
	s := &Session{
		id:         "test-session",
		backend:    sessionSide,
		createdAt:  time.Now(),
		b2fUnacked: newRetransBuffer(),
		done:       make(chan struct{}),
	}
	go s.backendPump()
	t.Cleanup(func() { _ = backendSide.Close() })
	return s, backendSide
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry(0)
	s, backendSide := newTestSession(t)

	r.Add(s)

	got, ok := r.Get(s.ID())
	if !ok || got != s {
		t.Fatalf("Get(%s) = (%v, %v), want (session, true)", s.ID(), got, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	_ = backendSide.Close()
	<-s.Done()
	// terminate closes Done before it calls the registry's remove hook.
	waitFor(t, time.Second, func() bool { return r.Len() == 0 })

	if _, ok := r.Get(s.ID()); ok {
		t.Error("removed session must not be reachable by a subsequent lookup")
	}
	if r.Len() != 0 {
		t.Errorf("Len() after removal = %d, want 0", r.Len())
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(0)
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get on empty registry should return ok=false")
	}
}

func TestRegistryReapsNeverAttachedIdleSession(t *testing.T) {
	r := NewRegistry(0) // reaper disabled; we drive reapIdle manually
	s, _ := newTestSession(t)
	s.createdAt = time.Now().Add(-time.Hour)
	r.idleTimeout = time.Minute
	r.Add(s)

	r.reapIdle()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("never-attached idle session was not reaped")
	}
}

func TestRegistryDoesNotReapAttachedSession(t *testing.T) {
	r := NewRegistry(0)
	s, _ := newTestSession(t)
	s.createdAt = time.Now().Add(-time.Hour)
	s.everAttached = true
	r.idleTimeout = time.Minute
	r.Add(s)

	r.reapIdle()

	select {
	case <-s.Done():
		t.Fatal("a session that has ever been attached must not be reaped")
	case <-time.After(50 * time.Millisecond):
	}
}
