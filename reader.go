package transport

import (
	"runtime"
	"unsafe"

	"github.com/kestrelvm/transport/internal/align"
)

// PacketReader is the dual of PacketWriter: it parses the same
// wire format the writer produces, tracking a read cursor and the same
// alignment rule. Readers are single-use: once fully consumed, the buffer
// is either returned to the pool (implicit, when the reader goes out of
// scope after a handler returns) or kept alive inside a response
// PacketWriter produced by WriteResponse.
type PacketReader struct {
	conn   *Connection
	buf    *Buffer
	header packetHeader
	cursor int

	// consumed is set once ownership of buf has been settled: either
	// released back to the pool, or handed to a response writer.
	consumed bool
}

// newPacketReader wraps an assembled frame buffer for reading. cursor starts
// past the header, since the header is parsed separately by the reader
// goroutine before a PacketReader is constructed.
func newPacketReader(conn *Connection, buf *Buffer, h packetHeader) *PacketReader {
	r := &PacketReader{conn: conn, buf: buf, header: h, cursor: headerSize}
	runtime.SetFinalizer(r, finalizePacketReader)
	return r
}

// finalizePacketReader is the GC-backed safety net for the protocol-misuse
// rule that dropping a reader with unread bytes is a bug. The ordinary path
// (Connection's dispatch wrapper calling release after a handler returns)
// makes this a backstop, not the primary return path, so pooled buffers are
// recycled promptly rather than only on the next GC cycle.
func finalizePacketReader(r *PacketReader) {
	r.release()
}

// release is idempotent: the dispatch wrapper calls it deterministically
// after every handler invocation that did not convert the reader into a
// response writer; the finalizer calls it again as a backstop in case that
// never happened (e.g. a handler stashed the reader somewhere and never
// returned it through normal control flow).
func (r *PacketReader) release() {
	if r.consumed {
		return
	}
	if r.cursor != r.buf.Len() {
		panic(misuse("PacketReader dropped with unread bytes"))
	}
	r.conn.pool.Push(r.buf)
	r.consumed = true
}

func (r *PacketReader) checkAlive() {
	if r.consumed {
		panic(misuse("PacketReader used after release or conversion into a response writer"))
	}
}

func (r *PacketReader) padCursor(alignment uintptr) {
	r.cursor += align.PadLen(r.cursor, alignment)
}

func (r *PacketReader) readTag() byte {
	data := r.buf.Bytes()
	if r.cursor+1 > len(data) {
		panic(misuse("read past end of frame"))
	}
	b := data[r.cursor]
	r.cursor++
	return b
}

// ReadShallow reads a raw bitwise copy of T, honoring T's natural alignment.
func ReadShallow[T any](r *PacketReader) T {
	r.checkAlive()
	var v T
	r.padCursor(unsafe.Alignof(v))
	size := int(unsafe.Sizeof(v))
	data := r.buf.Bytes()
	if r.cursor+size > len(data) {
		panic(misuse("read past end of frame"))
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	copy(dst, data[r.cursor:r.cursor+size])
	r.cursor += size
	return v
}

// ReadNullableShallow reads a one-byte presence tag followed, when set, by a
// shallow T. It returns nil for a
// null input and advances the cursor exactly one byte in that case.
func ReadNullableShallow[T any](r *PacketReader) *T {
	r.checkAlive()
	if r.readTag() == 0 {
		return nil
	}
	v := ReadShallow[T](r)
	return &v
}

// ReadRawBytes returns an n-byte slice aliased into the reader's buffer with
// no alignment skip, advancing the cursor by n. It is the dual of
// WriteRawBytes, for deep-serializer hooks with their own internal layout.
func (r *PacketReader) ReadRawBytes(n int) []byte {
	r.checkAlive()
	data := r.buf.Bytes()
	if r.cursor+n > len(data) {
		panic(misuse("read past end of frame"))
	}
	p := data[r.cursor : r.cursor+n]
	r.cursor += n
	return p
}

// DeepReadFunc is implemented by ABI shims to reconstruct the pointer-
// followed material behind a deep field.
type DeepReadFunc[T any] func(r *PacketReader) *T

// ReadDeep reads the presence tag and, if set, invokes read to reconstruct
// the value.
func ReadDeep[T any](r *PacketReader, read DeepReadFunc[T]) *T {
	r.checkAlive()
	if r.readTag() == 0 {
		return nil
	}
	return read(r)
}

// ReadCString reads a null-terminated string. The returned string aliases the reader's buffer rather than
// copying (consistent with the zero-copy choice documented on
// ReadCountedArray); callers needing it past the reader's lifetime must
// copy it explicitly. Returns nil if the presence tag was zero.
func (r *PacketReader) ReadCString() *string {
	r.checkAlive()
	if r.readTag() == 0 {
		return nil
	}
	data := r.buf.Bytes()
	start := r.cursor
	idx := start
	for {
		if idx >= len(data) {
			panic(misuse("unterminated string in frame"))
		}
		if data[idx] == 0 {
			break
		}
		idx++
	}
	s := unsafe.String(unsafe.SliceData(data[start:idx]), idx-start)
	r.cursor = idx + 1
	return &s
}

// DeepElementReadFunc reconstructs the pointer-followed material for one
// element of a counted array.
type DeepElementReadFunc[T any] func(r *PacketReader, elem *T)

// ReadCountedArray reads a u32 count and, when non-zero, a raw block of T
// padded to alignof(T), then (if deep is non-nil) the deep material for
// every element in order.
//
// The returned slice is an in-place alias into the reader's own buffer,
// never a fresh allocation. It is valid only for the reader's lifetime;
// converting the reader into a response writer via WriteResponse extends
// that lifetime through the writer's Send.
func ReadCountedArray[T any](r *PacketReader, deep DeepElementReadFunc[T]) []T {
	r.checkAlive()
	count := ReadShallow[uint32](r)
	if count == 0 {
		return nil
	}

	var zero T
	r.padCursor(unsafe.Alignof(zero))
	size := int(unsafe.Sizeof(zero))
	total := size * int(count)

	data := r.buf.Bytes()
	if r.cursor+total > len(data) {
		panic(misuse("counted array exceeds frame length"))
	}
	elems := unsafe.Slice((*T)(unsafe.Pointer(&data[r.cursor])), count)
	r.cursor += total

	if deep != nil {
		for i := range elems {
			deep(r, &elems[i])
		}
	}
	return elems
}

// WriteResponse converts a fully-consumed reader into a response
// PacketWriter. overrideHandlerID, when non-nil, re-addresses the response
// at a different handler id (chaining); otherwise the response targets the
// correlation id stamped on this frame by the original sender.
//
// This panics, as a protocol-misuse bug, when the reader has unread bytes,
// or when no override is given and this frame carries no stamped
// sender-thread id.
func (r *PacketReader) WriteResponse(overrideHandlerID *uint64) *PacketWriter {
	r.checkAlive()
	if r.cursor != r.buf.Len() {
		panic(misuse("WriteResponse called before reader fully consumed"))
	}

	var dest Destination
	if overrideHandlerID != nil {
		dest = ToHandler(*overrideHandlerID)
	} else {
		if !r.header.hasSenderThread {
			panic(misuse("WriteResponse called with no override and no stamped sender-thread id"))
		}
		dest = ToThread(r.header.senderThreadID)
	}

	w := newPacketWriter(r.conn, dest)
	w.readBuf = r.buf
	r.consumed = true
	return w
}
