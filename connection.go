package transport

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/kestrelvm/transport/internal/bufpool"
	"github.com/kestrelvm/transport/internal/correlation"
	"github.com/kestrelvm/transport/internal/dispatch"
)

// Connection is the root of the object graph:
// it owns the Stream, the buffer pool, the handler table, the per-call
// mailboxes, the write queue, and two long-lived goroutines (writer,
// reader). Handler tasks run on a bounded dispatch pool shared by every
// inbound frame.
//
// The writer and reader goroutines hold only a weak.Pointer back to the
// Connection rather than a strong *Connection, so they never keep it alive
// on their own; they upgrade the weak pointer transiently for each unit of
// work and drop the strong reference again before blocking (on the wake
// event, or on the stream's Read). A Connection that is simply dropped
// without calling Close is eventually noticed this way once the GC reclaims
// it. Close is the deterministic path: it closes the stream directly, which
// faults both goroutines immediately.
type Connection struct {
	stream   Stream
	handlers *HandlerTable
	pool     *bufpool.Stack
	dispatch *dispatch.Pool

	mailboxes   mailboxTable
	correlation correlation.Source

	queue     writeQueue
	writeMu   sync.Mutex
	wakeEvent chan struct{} // auto-reset event, buffered size 1

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	closed       atomic.Bool
	faultErr     atomic.Pointer[error]

	partSize             int
	dispatchErrorHandler func(error)

	idleTeardown time.Duration
	lastActivity atomic.Int64
}

// Open constructs a Connection over stream, spawns its writer and reader
// goroutines, and returns the shared-ownership handle.
func Open(stream Stream, handlers *HandlerTable, opts ...Option) *Connection {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	workers := o.dispatchWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	c := &Connection{
		stream:               stream,
		handlers:             handlers,
		pool:                 bufpool.New(headerSize),
		dispatch:             dispatch.New(workers),
		wakeEvent:            make(chan struct{}, 1),
		shutdownCh:           make(chan struct{}),
		partSize:             o.partSize,
		dispatchErrorHandler: o.dispatchErrorHandler,
		idleTeardown:         o.idleTeardown,
	}

	c.touchActivity()
	// Once c is unreachable, closing wakeEvent wakes a writer goroutine
	// blocked on it so it sees the failed weak-pointer upgrade and exits.
	runtime.AddCleanup(c, func(wake chan struct{}) { close(wake) }, c.wakeEvent)

	weakConn := weak.Make(c)
	go c.writerLoop(weakConn)
	go c.readerLoop(weakConn)
	if c.idleTeardown > 0 {
		go c.idleWatch(weakConn)
	}
	return c
}

// NewPacket checks out a buffer and returns a PacketWriter addressed at
// handlerID.
func (c *Connection) NewPacket(handlerID uint64) *PacketWriter {
	return newPacketWriter(c, ToHandler(handlerID))
}

// Close faults the Connection by closing its Stream. Both goroutines observe
// the resulting I/O error on their next operation and exit; any caller
// already blocked in SendWithResponse stays blocked — Close does not attempt
// to unblock in-flight calls, since the transport does not track which
// mailboxes belong to which still-live caller.
func (c *Connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.shutdownOnce.Do(func() { close(c.shutdownCh) })
		c.dispatch.Stop()
		return c.stream.Close()
	}
	return nil
}

// Err returns the error that faulted the Connection, if any.
func (c *Connection) Err() error {
	p := c.faultErr.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (c *Connection) isClosed() bool { return c.closed.Load() }

func (c *Connection) fault(err error) {
	if c.closed.CompareAndSwap(false, true) {
		c.faultErr.Store(&err)
		c.stream.Close()
		c.shutdownOnce.Do(func() { close(c.shutdownCh) })
	}
}

func (c *Connection) touchActivity() {
	if c.idleTeardown > 0 {
		c.lastActivity.Store(time.Now().UnixNano())
	}
}

func (c *Connection) reportDispatchError(err error) {
	if c.dispatchErrorHandler != nil {
		c.dispatchErrorHandler(err)
	}
}

// releaseReadBuf returns a writer's borrowed read buffer (carried over from
// PacketReader.WriteResponse) to the pool once the writer has finished
// copying out of it — i.e. once the writer's own buffer has been fully
// serialized and is about to cross into the write queue or the stream.
func (c *Connection) releaseReadBuf(w *PacketWriter) {
	if w.readBuf != nil {
		c.pool.Push(w.readBuf)
		w.readBuf = nil
	}
}

// send implements the fire-and-forget path: stamp the header length, push
// onto the write queue, signal the wake event.
func (c *Connection) send(w *PacketWriter) error {
	if c.isClosed() {
		c.releaseReadBuf(w)
		return ErrStreamClosed
	}
	encodeHeader(w.buf.Bytes(), packetHeader{
		length:      uint64(w.buf.Len()),
		destination: w.destination,
	})
	c.releaseReadBuf(w)
	c.touchActivity()
	c.queue.push(w.buf)
	c.signalWake()
	return nil
}

// sendWithResponse implements the request/response path: stamp header length
// and a fresh correlation id, opportunistically try the write mutex to
// fast-path the frame, then block on the correlation id's mailbox until a
// response arrives.
func (c *Connection) sendWithResponse(w *PacketWriter) (*PacketReader, error) {
	if c.isClosed() {
		c.releaseReadBuf(w)
		return nil, ErrStreamClosed
	}

	id := c.correlation.Next()
	encodeHeader(w.buf.Bytes(), packetHeader{
		length:          uint64(w.buf.Len()),
		hasSenderThread: true,
		senderThreadID:  id,
		destination:     w.destination,
	})
	c.releaseReadBuf(w)
	c.touchActivity()

	ch := c.mailboxes.register(id)

	if c.writeMu.TryLock() {
		err := c.flushLocked(w.buf)
		c.writeMu.Unlock()
		if err != nil {
			c.mailboxes.unregister(id)
			c.fault(err)
			return nil, err
		}
	} else {
		c.queue.push(w.buf)
		c.signalWake()
	}

	buf, ok := <-ch
	c.mailboxes.unregister(id)
	if !ok || buf == nil {
		return nil, ErrStreamClosed
	}
	h, err := decodeHeader(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return newPacketReader(c, buf, h), nil
}

func (c *Connection) signalWake() {
	select {
	case c.wakeEvent <- struct{}{}:
	default:
	}
}

// flushLocked writes every queued buffer followed by latest directly to the
// stream. The caller must hold writeMu.
func (c *Connection) flushLocked(latest *Buffer) error {
	for _, buf := range c.queue.popAll() {
		if err := c.writeFrameLocked(buf); err != nil {
			return err
		}
	}
	return c.writeFrameLocked(latest)
}

func (c *Connection) writeFrameLocked(buf *Buffer) error {
	_, err := c.stream.Write(buf.Bytes())
	c.pool.Push(buf)
	return err
}

// writerLoop implements the writer goroutine's draining/idle state machine.
// It holds only a weak reference to the Connection, upgrading it transiently
// to drain the queue and dropping the strong reference again before
// blocking on the wake event.
func (c *Connection) writerLoop(weakConn weak.Pointer[Connection]) {
	for {
		conn := weakConn.Value()
		if conn == nil {
			return
		}
		wakeCh := conn.wakeEvent
		shutdownCh := conn.shutdownCh
		conn = nil // do not keep the Connection alive while blocked

		select {
		case <-wakeCh:
		case <-shutdownCh:
			return
		}

		if conn = weakConn.Value(); conn == nil {
			return
		}
		conn.drain()
	}
}

// drain is the writer goroutine's "Draining" state: hold the write mutex,
// pop and write every queued buffer until the queue is empty, then release.
func (c *Connection) drain() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for {
		items := c.queue.popAll()
		if len(items) == 0 {
			return
		}
		for _, buf := range items {
			if err := c.writeFrameLocked(buf); err != nil {
				c.fault(err)
				return
			}
		}
	}
}

// readerLoop implements the reader goroutine: it reads scratch
// chunks from the stream, reassembles them into frames, and dispatches each
// to a mailbox or a handler task. Like writerLoop, it holds the Connection
// only via a weak pointer, upgrading around each unit of work.
func (c *Connection) readerLoop(weakConn weak.Pointer[Connection]) {
	conn := weakConn.Value()
	if conn == nil {
		return
	}
	scratch := make([]byte, conn.partSize)
	assembly := conn.pool.Pop()
	assembly.Reset(0)
	declaredLen := uint64(headerSize)
	lenLatched := false
	conn = nil

	for {
		conn = weakConn.Value()
		if conn == nil {
			return
		}
		stream := conn.stream
		conn = nil

		n, readErr := stream.Read(scratch)

		conn = weakConn.Value()
		if conn == nil {
			return
		}
		if readErr != nil {
			conn.fault(readErr)
			return
		}

		remaining := scratch[:n]
		for len(remaining) > 0 {
			need := int(declaredLen) - assembly.Len()
			take := len(remaining)
			if take > need {
				take = need
			}
			assembly.Append(remaining[:take])
			remaining = remaining[take:]

			if !lenLatched && assembly.Len() >= headerSize {
				h, err := decodeHeader(assembly.Bytes())
				if err != nil {
					conn.fault(err)
					return
				}
				declaredLen = h.length
				lenLatched = true
			}

			if lenLatched && assembly.Len() == int(declaredLen) {
				h, _ := decodeHeader(assembly.Bytes())
				conn.dispatchFrame(h, assembly)
				assembly = conn.pool.Pop()
				assembly.Reset(0)
				declaredLen = uint64(headerSize)
				lenLatched = false
			}
		}
		conn = nil
	}
}

// dispatchFrame routes an assembled frame to its mailbox or handler task.
// Thread-addressed frames deliver synchronously in the reader goroutine;
// handler-addressed frames are submitted to the dispatch pool so the reader
// never blocks on handler work.
func (c *Connection) dispatchFrame(h packetHeader, buf *Buffer) {
	c.touchActivity()

	if tid, ok := h.destination.IsThread(); ok {
		if !c.mailboxes.deliver(tid, buf) {
			c.pool.Push(buf)
			c.reportDispatchError(ErrUnknownMailbox)
		}
		return
	}

	hid, _ := h.destination.IsHandler()
	handler, ok := c.handlers.lookup(hid)
	if !ok {
		c.pool.Push(buf)
		c.reportDispatchError(ErrUnknownHandler)
		return
	}
	c.dispatch.Submit(func() {
		r := newPacketReader(c, buf, h)
		defer r.release()
		handler(r)
	})
}

// idleWatch implements the optional idle-teardown convenience: it closes the
// Connection if no frame has crossed the wire in idleTeardown. Off by
// default.
func (c *Connection) idleWatch(weakConn weak.Pointer[Connection]) {
	conn := weakConn.Value()
	if conn == nil {
		return
	}
	interval := conn.idleTeardown / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	conn = nil

	for {
		conn = weakConn.Value()
		if conn == nil {
			return
		}
		shutdownCh := conn.shutdownCh
		idleTeardown := conn.idleTeardown
		conn = nil

		select {
		case <-shutdownCh:
			return
		case <-ticker.C:
		}

		conn = weakConn.Value()
		if conn == nil {
			return
		}
		last := conn.lastActivity.Load()
		if last != 0 && time.Since(time.Unix(0, last)) >= idleTeardown {
			conn.Close()
			return
		}
		conn = nil
	}
}

// writeQueue is an unbounded FIFO of buffers awaiting the stream, multiple
// producers (any sender), single logical consumer (the writer goroutine, or
// an opportunistic sender that drains it directly).
type writeQueue struct {
	mu    sync.Mutex
	items []*Buffer
}

func (q *writeQueue) push(b *Buffer) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
}

func (q *writeQueue) popAll() []*Buffer {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}
