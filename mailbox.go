package transport

import "sync"

// mailboxTable routes response frames back to the goroutine blocked waiting
// for them, keyed by the correlation id stamped on the original request.
// sync.Map is built for exactly this access pattern: a relatively stable set
// of keys (one per in-flight call) read far more often, by the single
// reader goroutine, than it is written.
type mailboxTable struct {
	boxes sync.Map // uint64 -> chan *Buffer
}

// register creates the one-shot delivery channel for id. It must be called
// by the blocking caller before the request frame reaches the wire, so the
// reader goroutine can never observe a destination id with no registered
// box.
func (t *mailboxTable) register(id uint64) chan *Buffer {
	ch := make(chan *Buffer, 1)
	t.boxes.Store(id, ch)
	return ch
}

// deliver routes buf to the box registered for id. It reports whether a box
// was found; on a miss the reader goroutine drops the frame and reports
// ErrUnknownMailbox.
func (t *mailboxTable) deliver(id uint64, buf *Buffer) bool {
	v, ok := t.boxes.Load(id)
	if !ok {
		return false
	}
	v.(chan *Buffer) <- buf
	return true
}

// unregister removes id's box once the blocking caller has consumed its
// response. Safe to call even if the box was never registered.
func (t *mailboxTable) unregister(id uint64) {
	t.boxes.Delete(id)
}
