package tests

import (
	"testing"
	"time"

	"github.com/momentics/bas-go/handler"
)

// overflowBusiness deliberately issues an over-length async_read to
// exercise spec.md §8 scenario 6: async_read(length=capacity+1) must
// close with NoBufferSpace and never observe on_read.
type overflowBusiness struct {
	handler.NopWorkHandler
	capacity int
	events   chan string
}

func (b *overflowBusiness) record(s string) {
	select {
	case b.events <- s:
	default:
	}
}

func (b *overflowBusiness) OnOpen(h *handler.ServiceHandler) {
	b.record("open")
	h.AsyncRead(b.capacity + 1)
}

func (b *overflowBusiness) OnRead(h *handler.ServiceHandler, n int) {
	b.record("read")
}

func (b *overflowBusiness) OnClose(h *handler.ServiceHandler, err error) {
	if err == nil {
		b.record("close:nil")
		return
	}
	b.record("close:" + err.Error())
}

func TestBufferOverflowClosesWithoutReading(t *testing.T) {
	const capacity = 32
	events := make(chan string, 8)

	addr, stop := startGroupWithBusiness(t, func() handler.WorkHandler {
		return &overflowBusiness{capacity: capacity, events: events}
	}, capacity)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	// The handler closes immediately on accept, before any data is
	// sent; observing EOF/closed on the client side is sufficient
	// confirmation alongside the server-side event trace.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, _ = conn.Read(buf)

	expectEvent(t, events, "open")
	select {
	case ev := <-events:
		if ev == "read" {
			t.Fatal("on_read should not have fired past buffer capacity")
		}
		if ev != "close:no buffer space" {
			t.Fatalf("expected NoBufferSpace close, got %q", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("on_close not observed")
	}
}
