package transport

import "time"

const defaultPartSize = 4096

// Option configures a Connection at Open time.
type Option func(*options)

type options struct {
	partSize             int
	dispatchWorkers      int
	idleTeardown         time.Duration
	dispatchErrorHandler func(error)
}

func defaultOptions() *options {
	return &options{
		partSize:        defaultPartSize,
		dispatchWorkers: 0, // resolved against runtime.GOMAXPROCS at Open time
	}
}

// WithPartSize sets the reader goroutine's scratch read size. The default is
// 4096 bytes. Larger values reduce syscall count at the cost of memory;
// correctness does not depend on this value.
func WithPartSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.partSize = n
		}
	}
}

// WithDispatchWorkers bounds the number of goroutines the Connection uses to
// run handler callbacks concurrently. A value <= 0 picks a default based on runtime.GOMAXPROCS.
func WithDispatchWorkers(n int) Option {
	return func(o *options) { o.dispatchWorkers = n }
}

// WithIdleTeardown closes the Connection's stream if no frame has crossed
// the wire for the given duration. This is a convenience layered on top of
// the core engine, not a core invariant; zero (the default) disables it.
func WithIdleTeardown(d time.Duration) Option {
	return func(o *options) { o.idleTeardown = d }
}

// WithDispatchErrorHandler registers a callback invoked when the reader
// goroutine cannot route an inbound frame (ErrUnknownHandler,
// ErrUnknownMailbox). Without one, such frames are silently dropped.
func WithDispatchErrorHandler(fn func(error)) Option {
	return func(o *options) { o.dispatchErrorHandler = fn }
}
