package relay

import (
	"encoding/binary"
	"errors"
)

// ackHeaderLen is the size in bytes of the ack field prefixed to every
// binary WebSocket frame on /connect.
const ackHeaderLen = 4

// protocolCloseAck is the sentinel ack value the relay sends to evict a
// frontend: "session closed by sender". The frontend never sends it.
const protocolCloseAck int32 = -1

// ErrShortFrame is returned when a binary frame is smaller than the 4-byte
// ack header.
var ErrShortFrame = errors.New("relay: frame shorter than ack header")

// frame is a decoded /connect binary message: an absolute ack offset into
// the peer's outbound stream, plus whatever payload followed it.
type frame struct {
	ack     int32
	payload []byte
}

// encodeFrame builds the wire representation of a frame: a signed 32-bit
// big-endian ack followed by payload, forwarded verbatim.
func encodeFrame(ack int64, payload []byte) []byte {
	buf := make([]byte, ackHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[:ackHeaderLen], uint32(int32(ack)))
	copy(buf[ackHeaderLen:], payload)
	return buf
}

// encodeProtocolClose builds the empty-payload frame with ack=-1 that
// signals protocol close.
func encodeProtocolClose() []byte {
	return encodeFrame(int64(protocolCloseAck), nil)
}

// EncodeProtocolClose is the exported form of encodeProtocolClose, for
// callers outside the package that must protocol-close a WebSocket never
// adopted onto a Session (e.g. an unknown sid on /connect).
func EncodeProtocolClose() []byte {
	return encodeProtocolClose()
}

// decodeFrame splits a binary message into its ack header and payload.
// Per spec.md §4.1, frames shorter than 4 bytes are a protocol error.
func decodeFrame(b []byte) (frame, error) {
	if len(b) < ackHeaderLen {
		return frame{}, ErrShortFrame
	}
	ack := int32(binary.BigEndian.Uint32(b[:ackHeaderLen]))
	payload := b[ackHeaderLen:]
	return frame{ack: ack, payload: payload}, nil
}
