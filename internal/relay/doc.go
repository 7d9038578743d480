// Package relay implements the session layer of a roaming-tolerant relay
// bridging a browser-based SSH frontend (over WebSocket) to a TCP SSH
// backend. It is the core of wsshrelay: the frame codec, the
// retransmission buffer, the Session state machine, and the Session
// registry.
//
// # Protocol
//
// Every binary WebSocket message on /connect carries a 4-byte big-endian
// signed ack header followed by opaque payload. The ack is a cumulative
// absolute offset into the peer's outbound stream: "I have received
// contiguous bytes up to this offset." A zero-length payload is a pure ack
// (a keepalive or "friendly release" nudge). An ack of -1 is the relay's
// eviction sentinel ("protocol close") and is never sent by a frontend.
//
// # Session lifecycle
//
//  1. Creation: [Create] dials the backend TCP socket. On success, the
//     caller registers the Session with a [Registry] via [Registry.Add];
//     on failure the Session never exists.
//  2. Attachment: [Session.Adopt] attaches a WebSocket frontend, evicting
//     any prior frontend first. It validates the frontend's declared pos
//     against backend_bytes_written, shrinks the unacked buffer to the
//     frontend's ack, then immediately replays the (now-shrunk) unacked
//     buffer — the resume transmission.
//  3. Roaming: a frontend may disconnect and a different WebSocket may
//     reattach later with a new (ack, pos) pair. The backend TCP
//     connection is untouched by this — only the attached-frontend
//     reference and the unacked buffer's window change.
//  4. Termination: when the backend connection closes (cleanly or with an
//     error), the Session evicts its frontend (if any), notifies its
//     [Registry] for removal, and becomes permanently unreachable by a
//     later /connect.
//
// # Global registry
//
// registry.go provides [Registry], a process-wide id -> Session map guarded
// by one mutex (adapted from the teacher's sshtunnel global-singleton
// pattern, generalized from one instance to many keyed instances). It also
// runs a background reaper that evicts Sessions which were created but
// never had a frontend attach within a configurable idle timeout — a
// supplemented feature not present in the original relay (see
// SPEC_FULL.md).
//
// # Log prefixes
//
// Rate-limiter events use the [relay] prefix; registry/reaper events use
// [registry]. Session itself does not log its lifecycle events.
package relay
