package transport

import (
	"encoding/binary"
	"fmt"
)

// nativeEndian matches the wire format's requirement that the header be
// written in native byte order with a stable C layout: both sides of the
// bus run on the same machine class (guest VM and host), so there is no
// cross-architecture byte-swapping concern to design for.
var nativeEndian = binary.NativeEndian

// headerSize is the fixed, C-layout size in bytes of every frame's prefix.
//
// Layout (native byte order):
//
//	length            uint64
//	hasSenderThread   uint8   (0 or 1)
//	senderThreadID    uint64  (meaningful only when hasSenderThread == 1)
//	destinationKind   uint8   (0 = thread, 1 = handler)
//	destinationValue  uint64
const headerSize = 8 + 1 + 8 + 1 + 8

// destKind tags which half of a destination union is meaningful.
type destKind uint8

const (
	destThread  destKind = 0
	destHandler destKind = 1
)

// Destination selects where an inbound frame is routed: either a handler id
// (an initiating call) or a correlation id standing in for the calling
// thread (a response).
type Destination struct {
	kind  destKind
	value uint64
}

// ToHandler builds a destination addressed at the given handler id.
func ToHandler(id uint64) Destination { return Destination{kind: destHandler, value: id} }

// ToThread builds a destination addressed at the given correlation id.
func ToThread(id uint64) Destination { return Destination{kind: destThread, value: id} }

// IsHandler reports whether d addresses a handler, returning its id.
func (d Destination) IsHandler() (id uint64, ok bool) {
	return d.value, d.kind == destHandler
}

// IsThread reports whether d addresses a correlation id, returning it.
func (d Destination) IsThread() (id uint64, ok bool) {
	return d.value, d.kind == destThread
}

func (d Destination) String() string {
	switch d.kind {
	case destHandler:
		return fmt.Sprintf("handler(%d)", d.value)
	case destThread:
		return fmt.Sprintf("thread(%d)", d.value)
	default:
		return fmt.Sprintf("destination(invalid kind %d, value %d)", d.kind, d.value)
	}
}

// packetHeader is the parsed, in-memory form of a frame's fixed prefix.
type packetHeader struct {
	length          uint64
	senderThreadID  uint64
	hasSenderThread bool
	destination     Destination
}

// encodeHeader writes h's C-layout representation into the first headerSize
// bytes of buf. buf must be at least headerSize bytes long.
func encodeHeader(buf []byte, h packetHeader) {
	_ = buf[headerSize-1]
	nativeEndian.PutUint64(buf[0:8], h.length)
	if h.hasSenderThread {
		buf[8] = 1
	} else {
		buf[8] = 0
	}
	nativeEndian.PutUint64(buf[9:17], h.senderThreadID)
	buf[17] = byte(h.destination.kind)
	nativeEndian.PutUint64(buf[18:26], h.destination.value)
}

// decodeHeader parses a packetHeader from the first headerSize bytes of buf.
func decodeHeader(buf []byte) (packetHeader, error) {
	if len(buf) < headerSize {
		return packetHeader{}, fmt.Errorf("transport: short header (%d bytes, want %d)", len(buf), headerSize)
	}
	var h packetHeader
	h.length = nativeEndian.Uint64(buf[0:8])
	h.hasSenderThread = buf[8] != 0
	h.senderThreadID = nativeEndian.Uint64(buf[9:17])
	kind := destKind(buf[17])
	if kind != destThread && kind != destHandler {
		return packetHeader{}, fmt.Errorf("transport: invalid destination kind %d", kind)
	}
	h.destination = Destination{kind: kind, value: nativeEndian.Uint64(buf[18:26])}
	if h.length < headerSize {
		return packetHeader{}, fmt.Errorf("transport: frame length %d shorter than header size %d", h.length, headerSize)
	}
	return h, nil
}
