package transport

import "io"

// Stream is the duplex byte transport a Connection multiplexes over. Reads are exclusive to the reader goroutine; writes are
// serialized by Connection's write mutex, so implementations need not be
// safe for concurrent Read and Write calls from unrelated goroutines beyond
// that single-reader/single-writer pattern.
//
// *net.TCPConn, *net.UnixConn, and the pipe returned by net.Pipe already
// satisfy this; WebSocketStream adapts github.com/gorilla/websocket's
// message-oriented API to it.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}
