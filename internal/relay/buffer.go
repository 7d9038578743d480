package relay

import "sync"

// retransBuffer is a sliding window over one direction of a Session's byte
// stream. It holds exactly the suffix of bytes produced so far that the
// peer has not yet acknowledged; appends extend it from the right, a
// successful ack trims it from the left.
//
// Adapted from the teacher's scrollbackBuffer (sshterminal/scrollback.go):
// same mutex-guarded byte-slice shape, but a trimmed suffix buffer rather
// than a fixed-capacity ring, because the relay must reproduce the exact
// unacked tail on resume rather than an approximate scrollback window.
type retransBuffer struct {
	mu   sync.Mutex
	data []byte
}

// newRetransBuffer returns an empty buffer.
func newRetransBuffer() *retransBuffer {
	return &retransBuffer{}
}

// append extends the buffer with newly produced bytes. The caller is
// responsible for advancing the associated read offset separately.
func (b *retransBuffer) append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
}

// len returns the number of unacked bytes currently buffered.
func (b *retransBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// snapshot returns a copy of the full unacked tail.
func (b *retransBuffer) snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// trimToAck retains only the suffix covering [ack, readOffset), where
// readOffset is the absolute offset one past the last byte ever appended
// (i.e. the Session's backend_bytes_read). ok is false if ack falls outside
// the representable window — see the shrink rules in spec.md §4.3 — in
// which case the buffer is left untouched.
func (b *retransBuffer) trimToAck(ack, readOffset int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	leftEdge := readOffset - int64(len(b.data))
	if ack > readOffset || ack < leftEdge {
		return false
	}

	keep := readOffset - ack
	if keep <= 0 {
		b.data = b.data[:0]
		return true
	}
	b.data = append([]byte(nil), b.data[int64(len(b.data))-keep:]...)
	return true
}

// tailFromOffset returns the suffix of the buffer starting at the given
// absolute offset. readOffset is the absolute offset one past the last byte
// appended. The precondition offset >= readOffset-len(buffer) is the
// caller's to establish; an offset below it yields the whole buffer.
//
// Per spec.md §4.2's "empty-suffix edge": requesting exactly readOffset
// (the tail end) must return an empty slice, never the whole buffer — a
// naive "last N where N=0" computed via a negative/wraparound index would
// return everything instead.
func (b *retransBuffer) tailFromOffset(offset, readOffset int64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := readOffset - offset
	if n <= 0 {
		return nil
	}
	if n > int64(len(b.data)) {
		n = int64(len(b.data))
	}
	out := make([]byte, n)
	copy(out, b.data[int64(len(b.data))-n:])
	return out
}
