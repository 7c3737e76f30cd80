package transport

import "errors"

// ErrStreamClosed is returned by Connection operations once the Connection
// has been closed or the underlying stream has faulted. A stream fault is fatal: the Connection
// does not retry and does not recover.
var ErrStreamClosed = errors.New("transport: stream closed")

// ErrUnknownHandler is returned by the reader goroutine's internal dispatch
// when an inbound frame names a handler id that was never registered. The
// connection logs nothing itself (it has no logger) and drops the frame
// rather than aborting the process — chosen so that a single misconfigured
// handler id cannot take down an otherwise-healthy bus. The error is
// surfaced to an optional DispatchErrorHandler set via
// WithDispatchErrorHandler.
var ErrUnknownHandler = errors.New("transport: unknown handler id")

// ErrUnknownMailbox is returned when a response frame's destination
// correlation id has no registered mailbox. This indicates wire corruption
// or a serialization bug in a shim; like ErrUnknownHandler it is reported
// through DispatchErrorHandler rather than aborting the process, since
// aborting a whole guest or host process because of a single stray frame is
// disproportionate for a Go host embedding this package as a library.
var ErrUnknownMailbox = errors.New("transport: unknown mailbox id")

// protocolMisuseError marks a programming error: dropping a PacketWriter
// without sending it, or dropping a PacketReader with unread bytes. These
// are not ordinary errors because they can never be produced by a
// well-behaved caller and must not be silently tolerated; they are always
// raised as panics, never returned.
type protocolMisuseError struct {
	msg string
}

func (e *protocolMisuseError) Error() string { return "transport: protocol misuse: " + e.msg }

func misuse(msg string) error { return &protocolMisuseError{msg: msg} }
