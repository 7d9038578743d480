// Package handlers implements the HTTP surface of wsshrelay: component E of
// spec.md §2/§4.5.
//
// connect.go upgrades /connect to a WebSocket and adopts it onto the
// addressed Session. The upgrade is always accepted — the browser frontend
// retries indefinitely on a rejected upgrade, so every rejection reason is
// instead expressed as a protocol-close frame sent inside an accepted
// connection (spec.md §4.5, §7).
package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/wsshrelay/wsshrelay/internal/logutil"
	"github.com/wsshrelay/wsshrelay/internal/relay"
)

// Connect returns the http.HandlerFunc for GET /connect?sid=&ack=&pos=,
// backed by registry for session lookup.
func Connect(registry *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("[handlers] /connect: upgrade failed: %v", err)
			return
		}

		sid := r.URL.Query().Get("sid")
		ack, ackErr := parseQueryInt(r, "ack")
		pos, posErr := parseQueryInt(r, "pos")

		if sid == "" || ackErr != nil || posErr != nil {
			log.Printf("[handlers] /connect: rejecting malformed request sid=%q", logutil.SanitizeForLog(sid))
			protocolCloseRaw(r.Context(), conn)
			return
		}

		session, ok := registry.Get(sid)
		if !ok {
			log.Printf("[handlers] /connect: unknown session %q", logutil.SanitizeForLog(sid))
			protocolCloseRaw(r.Context(), conn)
			return
		}

		if err := session.Adopt(r.Context(), conn, ack, pos); err != nil {
			log.Printf("[handlers] /connect: session %s rejected adoption: %v", session.ID(), err)
		}
	}
}

// parseQueryInt parses a required, non-negative query parameter. Per
// spec.md §6, an absent or non-numeric ack/pos must be rejected rather than
// silently coerced to 0 ("implementations should reject to avoid silent
// corruption").
func parseQueryInt(r *http.Request, key string) (int64, error) {
	v, err := strconv.ParseUint(r.URL.Query().Get(key), 10, 63)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// protocolCloseRaw sends the ack=-1 eviction frame directly to a WebSocket
// that was never adopted onto a Session (unknown sid, malformed query),
// then closes it. Upgrade requests on paths other than /connect never reach
// this package: the router answers them with its plain 404.
func protocolCloseRaw(ctx context.Context, conn *websocket.Conn) {
	_ = conn.Write(ctx, websocket.MessageBinary, relay.EncodeProtocolClose())
	_ = conn.Close(websocket.StatusNormalClosure, "protocol close")
}
