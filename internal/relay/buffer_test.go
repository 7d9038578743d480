package relay

import (
	"bytes"
	"testing"
)

func TestRetransBufferAppendAndSnapshot(t *testing.T) {
	b := newRetransBuffer()
	b.append([]byte("abc"))
	b.append([]byte("def"))
	if got := b.snapshot(); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("snapshot = %q, want %q", got, "abcdef")
	}
	if b.len() != 6 {
		t.Errorf("len = %d, want 6", b.len())
	}
}

func TestRetransBufferTrimToAck(t *testing.T) {
	b := newRetransBuffer()
	b.append([]byte("abcdef")) // readOffset will be 6

	if !b.trimToAck(4, 6) {
		t.Fatal("trimToAck(4, 6) should succeed")
	}
	if got := b.snapshot(); !bytes.Equal(got, []byte("ef")) {
		t.Errorf("snapshot after trim = %q, want %q", got, "ef")
	}
}

func TestRetransBufferTrimToAckEqualsReadOffsetEmptiesBuffer(t *testing.T) {
	b := newRetransBuffer()
	b.append([]byte("abcdef"))

	if !b.trimToAck(6, 6) {
		t.Fatal("trimToAck(6, 6) should succeed")
	}
	if b.len() != 0 {
		t.Errorf("len after full ack = %d, want 0", b.len())
	}
}

func TestRetransBufferTrimToAckAboveReadOffsetFails(t *testing.T) {
	b := newRetransBuffer()
	b.append([]byte("abcdef"))

	if b.trimToAck(7, 6) {
		t.Fatal("trimToAck(7, 6) should fail: peer claims bytes never sent")
	}
	if got := b.snapshot(); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("buffer mutated on failed trim: %q", got)
	}
}

func TestRetransBufferTrimToAckBelowLeftEdgeFails(t *testing.T) {
	b := newRetransBuffer()
	b.append([]byte("abcdef"))
	if !b.trimToAck(4, 6) {
		t.Fatal("setup trim failed")
	}
	// Left edge is now 4 (buffer holds "ef", readOffset 6, len 2).
	if b.trimToAck(3, 6) {
		t.Fatal("trimToAck(3, 6) should fail: below discarded left edge")
	}
}

func TestRetransBufferTailFromOffset(t *testing.T) {
	b := newRetransBuffer()
	b.append([]byte("abcdef")) // readOffset 6, full buffer still present

	if got := b.tailFromOffset(4, 6); !bytes.Equal(got, []byte("ef")) {
		t.Errorf("tailFromOffset(4,6) = %q, want %q", got, "ef")
	}
}

func TestRetransBufferTailFromOffsetEmptySuffix(t *testing.T) {
	// The critical edge case: N=0 must yield empty, not the whole buffer.
	b := newRetransBuffer()
	b.append([]byte("abcdef"))

	got := b.tailFromOffset(6, 6)
	if len(got) != 0 {
		t.Errorf("tailFromOffset(6,6) = %q (len %d), want empty", got, len(got))
	}
}

func TestRetransBufferTailFromOffsetBeyondData(t *testing.T) {
	b := newRetransBuffer()
	b.append([]byte("abcdef"))
	if got := b.tailFromOffset(0, 6); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("tailFromOffset(0,6) = %q, want full buffer", got)
	}
}
