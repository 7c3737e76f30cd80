package transport

import (
	"testing"

	"github.com/kestrelvm/transport/internal/bufpool"
)

// newTestConnection builds a Connection with just enough state for
// PacketWriter/PacketReader unit tests that never cross an actual stream.
func newTestConnection() *Connection {
	return &Connection{pool: bufpool.New(headerSize)}
}

func roundTrip(t *testing.T, fill func(w *PacketWriter), check func(r *PacketReader)) {
	t.Helper()
	conn := newTestConnection()
	w := conn.NewPacket(1)
	fill(w)
	w.done = true // bypass Send/network; simulate the wire carrying w.buf verbatim

	h, err := stampAndDecodeHeader(w.buf)
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	r := newPacketReader(conn, w.buf, h)
	check(r)
	r.release()
}

// stampAndDecodeHeader writes a header describing buf's current contents
// and immediately re-parses it, standing in for the header stamp a real
// Connection.send/sendWithResponse performs before a buffer crosses the
// wire.
func stampAndDecodeHeader(buf *Buffer) (packetHeader, error) {
	encodeHeader(buf.Bytes(), packetHeader{length: uint64(buf.Len()), destination: ToHandler(1)})
	return decodeHeader(buf.Bytes())
}

func TestShallowPrimitivesRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"uint8", func(t *testing.T) {
			roundTrip(t,
				func(w *PacketWriter) { WriteShallow(w, uint8(0xAB)) },
				func(r *PacketReader) {
					if got := ReadShallow[uint8](r); got != 0xAB {
						t.Fatalf("got %v", got)
					}
				})
		}},
		{"int32", func(t *testing.T) {
			roundTrip(t,
				func(w *PacketWriter) { WriteShallow(w, int32(-12345)) },
				func(r *PacketReader) {
					if got := ReadShallow[int32](r); got != -12345 {
						t.Fatalf("got %v", got)
					}
				})
		}},
		{"float64", func(t *testing.T) {
			roundTrip(t,
				func(w *PacketWriter) { WriteShallow(w, 65.420) },
				func(r *PacketReader) {
					if got := ReadShallow[float64](r); got != 65.420 {
						t.Fatalf("got %v", got)
					}
				})
		}},
		{"struct with internal alignment", func(t *testing.T) {
			type pair struct {
				A uint8
				B uint64
			}
			roundTrip(t,
				func(w *PacketWriter) { WriteShallow(w, pair{A: 1, B: 0xFEEDFACE}) },
				func(r *PacketReader) {
					got := ReadShallow[pair](r)
					if got.A != 1 || got.B != 0xFEEDFACE {
						t.Fatalf("got %+v", got)
					}
				})
		}},
		{"mixed sequence preserves alignment padding both sides", func(t *testing.T) {
			roundTrip(t,
				func(w *PacketWriter) {
					WriteShallow(w, uint8(1))
					WriteShallow(w, uint64(2))
					WriteShallow(w, uint8(3))
				},
				func(r *PacketReader) {
					if ReadShallow[uint8](r) != 1 {
						t.Fatal("first byte mismatch")
					}
					if ReadShallow[uint64](r) != 2 {
						t.Fatal("u64 mismatch")
					}
					if ReadShallow[uint8](r) != 3 {
						t.Fatal("second byte mismatch")
					}
				})
		}},
	}
	for _, c := range cases {
		t.Run(c.name, c.run)
	}
}

func TestNullableShallowRoundTrip(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		v := uint32(7)
		roundTrip(t,
			func(w *PacketWriter) { WriteNullableShallow(w, &v) },
			func(r *PacketReader) {
				got := ReadNullableShallow[uint32](r)
				if got == nil || *got != 7 {
					t.Fatalf("got %v", got)
				}
			})
	})
	t.Run("null advances cursor exactly one byte", func(t *testing.T) {
		roundTrip(t,
			func(w *PacketWriter) { WriteNullableShallow[uint32](w, nil) },
			func(r *PacketReader) {
				if got := ReadNullableShallow[uint32](r); got != nil {
					t.Fatalf("expected nil, got %v", *got)
				}
			})
	})
}

func TestCountedArrayNonZero(t *testing.T) {
	roundTrip(t,
		func(w *PacketWriter) { WriteCountedArray[uint32](w, []uint32{1, 2, 3}, nil) },
		func(r *PacketReader) {
			got := ReadCountedArray[uint32](r, nil)
			if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
				t.Fatalf("got %v", got)
			}
		})
}

func TestCountedArrayNullInput(t *testing.T) {
	roundTrip(t,
		func(w *PacketWriter) { WriteCountedArray[uint32](w, nil, nil) },
		func(r *PacketReader) {
			got := ReadCountedArray[uint32](r, nil)
			if got != nil {
				t.Fatalf("expected nil array, got %v", got)
			}
		})
}

func TestCString(t *testing.T) {
	t.Run("non-null", func(t *testing.T) {
		s := "Hello world"
		roundTrip(t,
			func(w *PacketWriter) { w.WriteCString(&s) },
			func(r *PacketReader) {
				got := r.ReadCString()
				if got == nil || *got != "Hello world" {
					t.Fatalf("got %v", got)
				}
			})
	})
	t.Run("empty string is distinct from null", func(t *testing.T) {
		s := ""
		roundTrip(t,
			func(w *PacketWriter) { w.WriteCString(&s) },
			func(r *PacketReader) {
				got := r.ReadCString()
				if got == nil || *got != "" {
					t.Fatalf("got %v", got)
				}
			})
	})
	t.Run("null", func(t *testing.T) {
		roundTrip(t,
			func(w *PacketWriter) { w.WriteCString(nil) },
			func(r *PacketReader) {
				if got := r.ReadCString(); got != nil {
					t.Fatalf("expected nil, got %q", *got)
				}
			})
	})
}

func TestDeepWriteReadPresenceTag(t *testing.T) {
	type payload struct{ N int64 }
	write := func(w *PacketWriter, v *payload) { WriteShallow(w, v.N) }
	read := func(r *PacketReader) *payload { return &payload{N: ReadShallow[int64](r)} }

	t.Run("present", func(t *testing.T) {
		v := &payload{N: 99}
		roundTrip(t,
			func(w *PacketWriter) { WriteDeep(w, v, write) },
			func(r *PacketReader) {
				got := ReadDeep[payload](r, read)
				if got == nil || got.N != 99 {
					t.Fatalf("got %v", got)
				}
			})
	})
	t.Run("nil", func(t *testing.T) {
		roundTrip(t,
			func(w *PacketWriter) { WriteDeep[payload](w, nil, write) },
			func(r *PacketReader) {
				if got := ReadDeep[payload](r, read); got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
			})
	})
}

func TestWriterPanicsAfterSend(t *testing.T) {
	conn := newTestConnection()
	w := conn.NewPacket(1)
	w.done = true
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic writing to a consumed writer")
		}
	}()
	WriteShallow(w, uint32(1))
}

func TestReaderPanicsOnUnreadBytesRelease(t *testing.T) {
	conn := newTestConnection()
	w := conn.NewPacket(1)
	WriteShallow(w, uint64(1))
	WriteShallow(w, uint64(2))
	w.done = true

	h, _ := stampAndDecodeHeader(w.buf)
	r := newPacketReader(conn, w.buf, h)
	ReadShallow[uint64](r) // leave the second u64 unread

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing a reader with unread bytes")
		}
	}()
	r.release()
}
