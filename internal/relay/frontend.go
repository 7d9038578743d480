package relay

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// frontendReadLimit bounds a single /connect WebSocket message, matching
// the teacher's clientConn.SetReadLimit(1024*1024) calls in
// control-plane/internal/handlers/terminal.go.
const frontendReadLimit = 1024 * 1024

// wsConn is the slice of *websocket.Conn that FrontendConnection depends
// on. *websocket.Conn satisfies it structurally; tests substitute an
// in-memory fake so Session's protocol logic can be exercised without a
// real network round-trip.
type wsConn interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// FrontendConnection wraps a WebSocket with the session-layer state needed
// to adopt it onto a Session: component F in spec.md §4.6.
//
// pos is the absolute offset in the frontend->backend stream of the next
// byte this frontend will send; it is set from the /connect query string at
// adoption and advanced by len(payload) on every inbound frame.
type FrontendConnection struct {
	conn wsConn
	pos  int64

	// stopped is closed once this attachment's runFrontend goroutine has
	// returned for good. Adopt waits on it before installing a replacement
	// frontend, so the outgoing attachment's in-flight onFrontendFrame
	// (and its backend.Write) is always fully finished before the next
	// one can start — see session.go's Adopt for why this matters.
	stopped chan struct{}
}

// newFrontendConnection wraps an already-accepted WebSocket connection.
func newFrontendConnection(conn wsConn) *FrontendConnection {
	conn.SetReadLimit(frontendReadLimit)
	return &FrontendConnection{conn: conn, stopped: make(chan struct{})}
}

// Pos returns the frontend's current absolute send offset.
func (f *FrontendConnection) Pos() int64 {
	return f.pos
}

// SendBinary writes ack and payload as a single binary WebSocket frame.
func (f *FrontendConnection) SendBinary(ctx context.Context, ack int64, payload []byte) error {
	return f.conn.Write(ctx, websocket.MessageBinary, encodeFrame(ack, payload))
}

// ProtocolClose sends the ack=-1 eviction frame and closes the underlying
// WebSocket. Per spec.md §5, a second call after the WebSocket is already
// closed is expected to fail silently — callers must not treat that as a
// fatal error.
func (f *FrontendConnection) ProtocolClose(ctx context.Context) {
	_ = f.conn.Write(ctx, websocket.MessageBinary, encodeProtocolClose())
	_ = f.conn.Close(websocket.StatusNormalClosure, "protocol close")
}

// readResult is one event surfaced from a frontend's read loop.
type readResult struct {
	frame frame
	err   error
}

// readLoop continuously reads binary frames from the WebSocket and delivers
// them on out until the connection closes or a protocol error occurs. Text
// frames are reported as ErrTextFrame so the caller can protocol-close,
// matching spec.md §4.1: "Text (UTF-8) frames are a protocol error."
func (f *FrontendConnection) readLoop(ctx context.Context, out chan<- readResult) {
	defer close(out)
	for {
		msgType, data, err := f.conn.Read(ctx)
		if err != nil {
			out <- readResult{err: err}
			return
		}
		if msgType == websocket.MessageText {
			out <- readResult{err: ErrTextFrame}
			return
		}
		decoded, err := decodeFrame(data)
		if err != nil {
			out <- readResult{err: err}
			return
		}
		out <- readResult{frame: decoded}
	}
}

// ErrTextFrame is surfaced from readLoop when the frontend sends a text
// (UTF-8) WebSocket message instead of binary, which is a protocol error.
var ErrTextFrame = fmt.Errorf("relay: text frame received on /connect")
