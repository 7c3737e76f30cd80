package transport

import (
	"runtime"
	"unsafe"

	"github.com/kestrelvm/transport/internal/align"
)

// PacketWriter is a typed serializer over a buffer checked out from a
// Connection's pool. Writers are single-use: Send or
// SendWithResponse consumes the writer by handing its buffer to the
// Connection; after either call the writer must not be touched again.
type PacketWriter struct {
	conn *Connection
	buf  *Buffer

	// readBuf, when non-nil, is a reader's buffer kept alive through this
	// writer's completion because the writer was produced by
	// PacketReader.WriteResponse over data the reader read in place.
	readBuf *Buffer

	destination Destination
	done        bool
}

// newPacketWriter checks out a buffer and reserves header space. Callers
// must have already decided the destination; Connection.NewPacket is the
// only ordinary entry point.
func newPacketWriter(conn *Connection, dest Destination) *PacketWriter {
	buf := conn.pool.Pop()
	w := &PacketWriter{conn: conn, buf: buf, destination: dest}
	runtime.SetFinalizer(w, finalizePacketWriter)
	return w
}

// finalizePacketWriter enforces the protocol-misuse rule that dropping a
// writer without calling Send or SendWithResponse is a bug. Because Go has
// no destructor, the GC finalizer is the closest equivalent to an explicit
// debug-only trap; a panic raised here is not recoverable and crashes the
// process, same as an uncaught panic on any other goroutine.
func finalizePacketWriter(w *PacketWriter) {
	if !w.done {
		panic(misuse("PacketWriter dropped without calling Send or SendWithResponse"))
	}
}

func (w *PacketWriter) checkAlive() {
	if w.done {
		panic(misuse("PacketWriter used after Send or SendWithResponse"))
	}
}

func (w *PacketWriter) pad(alignment uintptr) {
	padLen := align.PadLen(w.buf.Len(), alignment)
	if padLen > 0 {
		w.buf.AppendN(padLen)
	}
}

func (w *PacketWriter) writeTag(tag byte) {
	dst := w.buf.AppendN(1)
	dst[0] = tag
}

// WriteShallow appends a raw bitwise copy of v, padded to v's natural
// alignment.
func WriteShallow[T any](w *PacketWriter, v T) {
	w.checkAlive()
	w.pad(unsafe.Alignof(v))
	size := int(unsafe.Sizeof(v))
	dst := w.buf.AppendN(size)
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	copy(dst, src)
}

// WriteRawPointerShallow appends a shallow copy of the value at ptr. ptr must not be nil; use WriteNullableShallow when it may
// be.
func WriteRawPointerShallow[T any](w *PacketWriter, ptr *T) {
	WriteShallow(w, *ptr)
}

// WriteNullableShallow writes a one-byte presence tag followed by a shallow
// copy when ptr is non-nil.
func WriteNullableShallow[T any](w *PacketWriter, ptr *T) {
	w.checkAlive()
	if ptr == nil {
		w.writeTag(0)
		return
	}
	w.writeTag(1)
	WriteShallow(w, *ptr)
}

// WriteRawBytes appends p with no alignment padding and no length prefix.
// It is the low-level escape hatch deep-serializer hooks use to write
// variable-shaped material whose framing is internal to the hook.
func (w *PacketWriter) WriteRawBytes(p []byte) {
	w.checkAlive()
	w.buf.Append(p)
}

// DeepWriteFunc is implemented by ABI shims to serialize the pointer-
// followed material behind a deep field. The transport has no knowledge of T's shape; it only guarantees
// the tag byte and ordering.
type DeepWriteFunc[T any] func(w *PacketWriter, v *T)

// WriteDeep writes a one-byte presence tag, then, if v is non-nil, invokes
// write to append the type-specific deep material.
func WriteDeep[T any](w *PacketWriter, v *T, write DeepWriteFunc[T]) {
	w.checkAlive()
	if v == nil {
		w.writeTag(0)
		return
	}
	w.writeTag(1)
	write(w, v)
}

// WriteCString writes a null-terminated string. A nil s writes
// only the zero presence tag. A non-nil s writes the presence tag, s's
// bytes, and an appended NUL terminator; callers pass the Go string without
// managing the terminator themselves.
func (w *PacketWriter) WriteCString(s *string) {
	w.checkAlive()
	if s == nil {
		w.writeTag(0)
		return
	}
	w.writeTag(1)
	w.buf.Append([]byte(*s))
	w.buf.AppendN(1) // NUL terminator; AppendN zero-fills
}

// DeepElementWriteFunc serializes the pointer-followed material for one
// element of a counted array, invoked once per element after the raw block
// of all elements has been written.
type DeepElementWriteFunc[T any] func(w *PacketWriter, elem *T)

// WriteCountedArray writes a u32 count followed, when non-zero, by a raw
// block of elems padded to alignof(T), then (if deep is non-nil) the deep
// material for every element in order. A
// nil or empty elems writes a zero count and nothing else; a nil Go slice
// and an explicit null array input are indistinguishable on the wire, which
// is the correct behavior and needs no special-case branch.
func WriteCountedArray[T any](w *PacketWriter, elems []T, deep DeepElementWriteFunc[T]) {
	w.checkAlive()
	count := uint32(len(elems))
	WriteShallow(w, count)
	if count == 0 {
		return
	}

	var zero T
	align := unsafe.Alignof(zero)
	size := int(unsafe.Sizeof(zero))
	w.pad(align)

	dst := w.buf.AppendN(size * len(elems))
	src := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(elems))), size*len(elems))
	copy(dst, src)

	if deep != nil {
		for i := range elems {
			deep(w, &elems[i])
		}
	}
}

// Send hands the buffer to the Connection's fire-and-forget path: it stamps the header length, enqueues the buffer for the
// writer goroutine, and signals the write wake event. The writer is
// consumed; it must not be used again.
func (w *PacketWriter) Send() error {
	w.checkAlive()
	w.done = true
	return w.conn.send(w)
}

// SendWithResponse hands the buffer to the Connection's request/response
// path: it stamps the header length and a fresh
// correlation id, opportunistically takes the write mutex to fast-path the
// frame, then blocks the calling goroutine on that id's mailbox until a
// response arrives. The writer is consumed.
func (w *PacketWriter) SendWithResponse() (*PacketReader, error) {
	w.checkAlive()
	w.done = true
	return w.conn.sendWithResponse(w)
}
