// Package relay implements the session layer of the roaming-tolerant SSH
// relay: the frame codec, the retransmission buffer, the Session state
// machine, and the process-wide Session registry.
//
// Architecture (adapted from the teacher's sshterminal.SessionManager /
// sshtunnel.TunnelManager pair, generalized to a single backend TCP socket
// per Session rather than an SSH channel):
//
//   - Each Session owns exactly one backend TCP connection for its full
//     lifetime. Closing that connection terminates the Session.
//   - A Session has at most one attached frontend (WebSocket) at a time.
//     Frontends may detach (WebSocket drop) and a new one may reattach
//     later ("roam") without losing or duplicating bytes in either
//     direction, as long as the backend connection is still alive.
//   - All mutable Session state (offsets, the unacked buffer, the attached
//     frontend reference) is guarded by one mutex; the backend-read pump,
//     the frontend-read loop, Adopt (called from the /connect handler) and
//     the registry's idle reaper all mutate it under that mutex, which is
//     held only for the bookkeeping, never across a blocking network call.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// friendlyReleaseThreshold is the "friendly release" bound from spec.md
// §4.3 step 5: once the relay is this far ahead of what the frontend has
// declared sent, it nudges the frontend with an empty-payload frame rather
// than waiting for more backend data.
const friendlyReleaseThreshold = 1 << 20 // 1 MiB

// backendReadChunk is the read buffer size for the backend TCP pump,
// matching the teacher's pumpOutput's 32*1024 buffer
// (sshterminal/session_manager.go).
const backendReadChunk = 32 * 1024

var (
	// ErrPosAhead is returned by Adopt when the frontend's declared pos is
	// beyond backend_bytes_written: spec.md §4.3 step 2, a fatal protocol
	// violation. The new frontend is protocol-closed and never attached;
	// the Session and its backend connection are unaffected.
	ErrPosAhead = errors.New("relay: frontend pos ahead of backend_bytes_written")

	// ErrAckRejected is returned when an ack fails the shrink rules of
	// spec.md §4.3 (above backend_bytes_read, or below the buffer's left
	// edge). The affected frontend is protocol-closed; the backend
	// connection is unaffected and a later reattach with a valid ack can
	// recover (spec.md §7).
	ErrAckRejected = errors.New("relay: ack outside representable window")

	// ErrSessionClosed is returned by Adopt when the Session's backend
	// connection has already closed.
	ErrSessionClosed = errors.New("relay: session already closed")
)

// Session owns one backend TCP socket, the two directional offsets, the
// backend->frontend retransmission buffer, and at most one attached
// frontend. It is component C of spec.md §2/§4.3.
type Session struct {
	id        string
	backend   net.Conn
	createdAt time.Time

	mu                  sync.Mutex
	backendBytesWritten int64 // absolute offset of next byte frontend will send
	backendBytesRead    int64 // absolute offset of next byte backend will produce
	b2fUnacked          *retransBuffer
	frontend            *FrontendConnection
	everAttached        bool
	closed              bool

	done      chan struct{}
	closeOnce sync.Once

	// onRemove is invoked exactly once, after the backend connection
	// closes, so the owning registry can evict this Session. Set by the
	// registry immediately after Create succeeds.
	onRemove func(id string)
}

// Create dials the backend (host, port) and, on success, starts the
// Session's backend-read pump. It mirrors spec.md §4.3's
// "Creation... (fail, success)" callback pair as an ordinary Go error
// return, per the design note in spec.md §9 ("Callback-driven I/O ->
// explicit state").
func Create(ctx context.Context, host string, port int, dialTimeout time.Duration) (*Session, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("relay: dial backend %s:%d: %w", host, port, err)
	}

	s := &Session{
		id:         uuid.New().String(),
		backend:    conn,
		createdAt:  time.Now(),
		b2fUnacked: newRetransBuffer(),
		done:       make(chan struct{}),
	}
	go s.backendPump()
	return s, nil
}

// ID returns the session's text token (UUID-v4 form, per spec.md §3).
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the backend connection was established.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed once the backend connection has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// EverAttached reports whether any frontend has ever been adopted onto
// this Session. Used by the idle-session reaper (SPEC_FULL.md) to decide
// whether a never-claimed Session is safe to reap.
func (s *Session) EverAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.everAttached
}

// IsAttached reports whether a frontend is currently attached.
func (s *Session) IsAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontend != nil
}

// Close forcibly terminates the Session's backend connection, as if the
// backend had closed on its own. The idle reaper does not use it; it goes
// through reapIfNeverAttached so the eligibility check and the decision to
// tear down happen atomically.
func (s *Session) Close() error {
	s.terminate()
	return nil
}

// reapIfNeverAttached tears the Session down if and only if it has never
// had a frontend attached, reporting whether it did so. The eligibility
// check and the flip of s.closed happen in the same critical section as
// Adopt's own closed-check/everAttached-set, so a concurrent Adopt can
// never be raced out from under the reaper: either this call observes
// everAttached already true (a racing Adopt finished first and this call
// backs off) or it sets closed first, in which case Adopt's own closed
// check will see it and protocol-close the new frontend instead of
// attaching it. There is no interleaving where both sides believe they
// won.
func (s *Session) reapIfNeverAttached() bool {
	s.mu.Lock()
	if s.everAttached || s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()

	s.terminate()
	return true
}

// Adopt attaches a newly-upgraded WebSocket to this Session as its
// frontend, implementing the adoption protocol of spec.md §4.3:
//
//  1. Evict any prior frontend (protocol-close), and wait for its
//     runFrontend goroutine to fully exit before touching any further
//     Session state. On exit that goroutine clears the Session's frontend
//     reference (identity-checked), so the reference is nil until the new
//     frontend is installed in step 4.
//  2. Reject pos > backend_bytes_written as fatal.
//  3. Shrink the unacked buffer to the given ack; reject if it falls
//     outside the representable window.
//  4. Install the new frontend, start its read loop, and immediately send
//     the (now-shrunk) unacked buffer as the resume transmission.
//
// Step 1's wait is load-bearing: onFrontendFrame writes to s.backend outside
// s.mu (so the mutex is never held across a blocking network call), which
// means a prior frontend's in-flight backend.Write could otherwise still be
// running concurrently with the newly-adopted frontend's own writes, with no
// ordering guarantee between them on a single net.Conn — violating spec.md
// §5's strict-ordering guarantee. Blocking here until the prior attachment's
// goroutine has fully returned makes the two attachments' backend writes
// strictly sequential instead.
func (s *Session) Adopt(ctx context.Context, conn wsConn, ack, pos int64) error {
	newFC := newFrontendConnection(conn)

	s.mu.Lock()
	prev := s.frontend
	s.mu.Unlock()
	if prev != nil {
		prev.ProtocolClose(ctx)
		<-prev.stopped
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		newFC.ProtocolClose(ctx)
		return ErrSessionClosed
	}
	if pos > s.backendBytesWritten {
		s.mu.Unlock()
		newFC.ProtocolClose(ctx)
		return ErrPosAhead
	}
	if !s.b2fUnacked.trimToAck(ack, s.backendBytesRead) {
		s.mu.Unlock()
		newFC.ProtocolClose(ctx)
		return ErrAckRejected
	}
	newFC.pos = pos
	s.frontend = newFC
	s.everAttached = true
	resumeData := s.b2fUnacked.snapshot()
	resumeAck := minInt64(s.backendBytesWritten, newFC.pos)
	s.mu.Unlock()

	go s.runFrontend(newFC)

	if err := newFC.SendBinary(ctx, resumeAck, resumeData); err != nil {
		s.evictFrontendIfCurrent(newFC)
		return fmt.Errorf("relay: resume send: %w", err)
	}
	return nil
}

// backendPump reads continuously from the backend socket, feeding each
// chunk into the unacked buffer and forwarding it to the attached frontend
// (if any). It runs for the Session's full lifetime.
func (s *Session) backendPump() {
	buf := make([]byte, backendReadChunk)
	for {
		n, err := s.backend.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.onBackendData(data)
		}
		if err != nil {
			s.terminate()
			return
		}
	}
}

// onBackendData appends newly-read backend bytes to the unacked buffer,
// advances backend_bytes_read, and ships a frame to the attached frontend
// if one is present.
func (s *Session) onBackendData(data []byte) {
	s.mu.Lock()
	s.b2fUnacked.append(data)
	s.backendBytesRead += int64(len(data))
	fc := s.frontend
	s.mu.Unlock()

	if fc != nil {
		_ = s.sendToFrontend(context.Background(), fc, data)
	}
}

// sendToFrontend computes the outbound ack per spec.md §4.3 ("the ack field
// is set to min(backend_bytes_written, frontend.pos)") and writes a single
// fragment to fc.
func (s *Session) sendToFrontend(ctx context.Context, fc *FrontendConnection, payload []byte) error {
	s.mu.Lock()
	ack := minInt64(s.backendBytesWritten, fc.pos)
	s.mu.Unlock()
	return fc.SendBinary(ctx, ack, payload)
}

// runFrontend drives one attachment's read loop for its lifetime: decoding
// inbound frames, applying them via onFrontendFrame, and protocol-closing
// on an application-level protocol error (text frame, short frame). It
// returns once the WebSocket closes or a protocol error ends the
// attachment, then evicts itself from the Session if it is still the
// current frontend.
func (s *Session) runFrontend(fc *FrontendConnection) {
	defer close(fc.stopped)

	ctx := context.Background()
	events := make(chan readResult)
	go fc.readLoop(ctx, events)

	for res := range events {
		if res.err != nil {
			if errors.Is(res.err, ErrTextFrame) || errors.Is(res.err, ErrShortFrame) {
				fc.ProtocolClose(ctx)
			}
			break
		}
		if err := s.onFrontendFrame(ctx, fc, res.frame); err != nil {
			fc.ProtocolClose(ctx)
			break
		}
	}

	s.evictFrontendIfCurrent(fc)
}

// onFrontendFrame implements the inbound frame processing of spec.md §4.3:
// advance pos, write the unseen suffix to the backend, shrink the unacked
// buffer by the frame's ack, and send a friendly-release ack if the relay
// has pulled far enough ahead of the frontend's declared sent offset.
func (s *Session) onFrontendFrame(ctx context.Context, fc *FrontendConnection, f frame) error {
	s.mu.Lock()
	fc.pos += int64(len(f.payload))
	overlap := fc.pos - s.backendBytesWritten
	var unseen []byte
	if overlap > 0 {
		n := overlap
		if n > int64(len(f.payload)) {
			n = int64(len(f.payload))
		}
		unseen = f.payload[int64(len(f.payload))-n:]
	}
	s.mu.Unlock()

	if len(unseen) > 0 {
		if _, err := s.backend.Write(unseen); err != nil {
			s.terminate()
			return fmt.Errorf("relay: backend write: %w", err)
		}
	}

	s.mu.Lock()
	s.backendBytesWritten += int64(len(unseen))
	ok := s.b2fUnacked.trimToAck(int64(f.ack), s.backendBytesRead)
	s.mu.Unlock()
	if !ok {
		return ErrAckRejected
	}

	s.mu.Lock()
	behind := s.backendBytesWritten - fc.pos
	s.mu.Unlock()
	if behind > friendlyReleaseThreshold {
		_ = s.sendToFrontend(ctx, fc, nil)
	}
	return nil
}

// evictFrontendIfCurrent clears the Session's frontend reference only if
// it still equals fc. This identity check is what makes a stale close
// event for a previously-evicted frontend safe to process after a newer
// frontend has already been installed (spec.md §5, §9).
func (s *Session) evictFrontendIfCurrent(fc *FrontendConnection) {
	s.mu.Lock()
	if s.frontend == fc {
		s.frontend = nil
	}
	s.mu.Unlock()
}

// terminate tears the Session down exactly once: evicts any attached
// frontend, closes the backend connection, signals Done, and notifies the
// registry for removal. Reachable both from the backend pump observing a
// read error/EOF and from a failed write to the backend.
func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		fc := s.frontend
		s.frontend = nil
		s.mu.Unlock()

		if fc != nil {
			fc.ProtocolClose(context.Background())
		}
		_ = s.backend.Close()
		close(s.done)
		if s.onRemove != nil {
			s.onRemove(s.id)
		}
	})
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
