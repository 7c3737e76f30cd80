package transport

import "github.com/kestrelvm/transport/internal/bufpool"

// Buffer is a reusable, aligned byte buffer checked out from a Connection's
// pool. It is an alias rather than a wrapper so that PacketWriter/PacketReader
// can hand buffers directly to and from internal/bufpool without a
// conversion layer at the package boundary.
type Buffer = bufpool.Buffer

// bufferPool is satisfied by *bufpool.Stack. Connection holds a
// *bufpool.Stack directly and does not go through this interface.
type bufferPool interface {
	Pop() *Buffer
	Push(*Buffer)
}
