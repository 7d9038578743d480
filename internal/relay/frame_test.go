package relay

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	wire := encodeFrame(42, []byte("hello"))
	f, err := decodeFrame(wire)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if f.ack != 42 {
		t.Errorf("ack = %d, want 42", f.ack)
	}
	if !bytes.Equal(f.payload, []byte("hello")) {
		t.Errorf("payload = %q, want %q", f.payload, "hello")
	}
}

func TestEncodeFrameEmptyPayloadIsFriendlyAck(t *testing.T) {
	wire := encodeFrame(7, nil)
	if len(wire) != ackHeaderLen {
		t.Fatalf("len(wire) = %d, want %d", len(wire), ackHeaderLen)
	}
	f, err := decodeFrame(wire)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if f.ack != 7 || len(f.payload) != 0 {
		t.Errorf("got ack=%d payload=%q, want ack=7 payload empty", f.ack, f.payload)
	}
}

func TestEncodeProtocolCloseSentinel(t *testing.T) {
	wire := encodeProtocolClose()
	f, err := decodeFrame(wire)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if f.ack != -1 {
		t.Errorf("ack = %d, want -1", f.ack)
	}
	if len(f.payload) != 0 {
		t.Errorf("payload = %q, want empty", f.payload)
	}
}

func TestDecodeFrameShort(t *testing.T) {
	for _, b := range [][]byte{nil, {}, {0x00}, {0x00, 0x00, 0x00}} {
		if _, err := decodeFrame(b); err != ErrShortFrame {
			t.Errorf("decodeFrame(%v) err = %v, want ErrShortFrame", b, err)
		}
	}
}

func TestEncodeFrameNegativeAckWireForm(t *testing.T) {
	wire := encodeFrame(-1, nil)
	want := []byte{0xff, 0xff, 0xff, 0xff}
	if !bytes.Equal(wire, want) {
		t.Errorf("wire = % x, want % x", wire, want)
	}
}
