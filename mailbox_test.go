package transport

import "testing"

func TestMailboxTableDeliverAndUnregister(t *testing.T) {
	var t1 mailboxTable
	ch := t1.register(42)

	buf := &Buffer{}
	if !t1.deliver(42, buf) {
		t.Fatal("deliver to registered id should succeed")
	}
	if got := <-ch; got != buf {
		t.Fatalf("got %v, want %v", got, buf)
	}

	t1.unregister(42)
	if t1.deliver(42, buf) {
		t.Fatal("deliver after unregister should fail")
	}
}

func TestMailboxTableUnknownID(t *testing.T) {
	var t1 mailboxTable
	if t1.deliver(1, &Buffer{}) {
		t.Fatal("deliver to an id that was never registered should fail")
	}
}
