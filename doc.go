// Package transport implements a duplex, multiplexed, request/response
// message bus for forwarding FFI calls between two processes across a
// shared byte stream (a guest VM and a host, a subprocess and its parent, or
// any pair of ends connected by something satisfying Stream).
//
// A Connection owns one Stream and runs two background goroutines: a writer
// that drains an outbound queue, and a reader that reassembles inbound
// frames and dispatches them either to a registered Handler or back to
// whichever goroutine is blocked waiting for a response.
//
//	handlers := transport.NewHandlerTable(map[uint64]transport.Handler{
//		6: func(r *transport.PacketReader) {
//			v := transport.ReadShallow[float64](r)
//			w := r.WriteResponse(nil)
//			transport.WriteShallow(w, uint32(42))
//			_ = v
//			if err := w.Send(); err != nil {
//				// stream faulted; the Connection is no longer usable
//			}
//		},
//	})
//
//	conn := transport.Open(stream, handlers)
//	defer conn.Close()
//
//	w := conn.NewPacket(6)
//	transport.WriteShallow(w, 65.420)
//	resp, err := w.SendWithResponse()
//	if err != nil {
//		// ...
//	}
//	answer := transport.ReadShallow[uint32](resp)
//
// The wire format is not self-describing: callers and handlers on both ends
// must agree out of band on the exact sequence of primitives for a given
// handler id. Generated ABI shims are the intended source of that
// agreement; this package only supplies the primitives and the scheduling
// around them.
package transport
