package transport

import (
	"bytes"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketStream adapts a *websocket.Conn's message-oriented API to the
// byte-stream Stream interface the transport requires, demonstrating that
// contract against a real, non-trivial transport.
//
// Read and Write are each exclusive to one goroutine at a time (the reader
// and writer goroutines respectively), matching gorilla/websocket's own
// concurrency contract: concurrent reads, and concurrent writes, are each
// unsafe, but one concurrent reader plus one concurrent writer is fine.
type WebSocketStream struct {
	conn *websocket.Conn

	readMu  sync.Mutex
	pending bytes.Reader
	haveMsg bool

	writeMu sync.Mutex
}

// NewWebSocketStream wraps conn for use as a transport.Stream.
func NewWebSocketStream(conn *websocket.Conn) *WebSocketStream {
	return &WebSocketStream{conn: conn}
}

// Read fills p from the current inbound WebSocket message, pulling a new
// message via ReadMessage once the previous one is exhausted. Binary and
// text frames are both treated as opaque bytes; the transport's own framing
// does not care which.
func (s *WebSocketStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for !s.haveMsg || s.pending.Len() == 0 {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		s.pending.Reset(data)
		s.haveMsg = true
	}
	return s.pending.Read(p)
}

// Write sends p as a single binary WebSocket message. Unlike a raw TCP
// stream, each Write call here is one discrete frame on the wire rather
// than an arbitrary byte run; this is transparent to the transport since
// the reader goroutine reassembles frames purely from the byte sequence it
// observes, regardless of how that sequence was chunked in transit.
func (s *WebSocketStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying WebSocket connection.
func (s *WebSocketStream) Close() error {
	return s.conn.Close()
}
