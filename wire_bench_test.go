package transport

import "testing"

func BenchmarkWriteShallowUint64(b *testing.B) {
	conn := newTestConnection()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w := conn.NewPacket(1)
		WriteShallow(w, uint64(i))
		w.done = true
		conn.pool.Push(w.buf)
	}
}

func BenchmarkWriteReadShallowRoundtrip(b *testing.B) {
	conn := newTestConnection()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w := conn.NewPacket(1)
		WriteShallow(w, float64(i))
		w.done = true

		h, _ := stampAndDecodeHeader(w.buf)
		r := newPacketReader(conn, w.buf, h)
		ReadShallow[float64](r)
		r.release()
	}
}

func BenchmarkCountedArrayRoundtrip(b *testing.B) {
	conn := newTestConnection()
	elems := make([]uint32, 64)
	for i := range elems {
		elems[i] = uint32(i)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w := conn.NewPacket(1)
		WriteCountedArray[uint32](w, elems, nil)
		w.done = true

		h, _ := stampAndDecodeHeader(w.buf)
		r := newPacketReader(conn, w.buf, h)
		ReadCountedArray[uint32](r, nil)
		r.release()
	}
}

func BenchmarkCStringRoundtrip(b *testing.B) {
	conn := newTestConnection()
	s := "the quick brown fox jumps over the lazy dog"

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w := conn.NewPacket(1)
		w.WriteCString(&s)
		w.done = true

		h, _ := stampAndDecodeHeader(w.buf)
		r := newPacketReader(conn, w.buf, h)
		r.ReadCString()
		r.release()
	}
}
