package tests

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/momentics/bas-go/api"
	"github.com/momentics/bas-go/client"
	"github.com/momentics/bas-go/handler"
	"github.com/momentics/bas-go/handlerpool"
	"github.com/momentics/bas-go/reactor"
	"github.com/momentics/bas-go/server"
)

// outboundBusiness is the child-side work handler, grounded on
// original_source/examples/proxy/server/client_work.hpp: on_open
// notifies the parent, on_read forwards the byte count upward, and
// on_close propagates closure to the parent.
type outboundBusiness struct {
	handler.NopWorkHandler
	events chan string
}

func (b *outboundBusiness) record(s string) {
	select {
	case b.events <- s:
	default:
	}
}

func (b *outboundBusiness) OnOpen(h *handler.ServiceHandler) {
	b.record("child:open")
	h.PostParent(api.Event{State: api.StateOpen})
	h.AsyncReadSome()
}

func (b *outboundBusiness) OnRead(h *handler.ServiceHandler, n int) {
	b.record("child:read")
	h.PostParent(api.Event{State: api.StateWrite, Value: uint64(n)})
}

func (b *outboundBusiness) OnWrite(h *handler.ServiceHandler, n int) {
	b.record("child:write")
	h.AsyncReadSome()
}

func (b *outboundBusiness) OnParentEvent(h *handler.ServiceHandler, ev api.Event) {
	switch ev.State {
	case api.StateWrite:
		b.record("child:parent_write")
		if p := h.Parent(); p != nil {
			h.AsyncWritePeerBuffer(p, int(ev.Value))
		}
	}
}

func (b *outboundBusiness) OnClose(h *handler.ServiceHandler, err error) {
	b.record("child:close")
	if p := h.Parent(); p != nil {
		p.Close(nil)
	}
}

// inboundBusiness is the parent-side work handler, grounded on
// original_source/examples/proxy/server/server_work.hpp: on_open
// dials the backend via client.Connector.ConnectChild, on_read
// forwards bytes to the child, and on_child_event drives the
// request/response relay.
type inboundBusiness struct {
	handler.NopWorkHandler
	connector  *client.Connector
	events     chan string
	cancelDial context.CancelFunc
}

func (b *inboundBusiness) record(s string) {
	select {
	case b.events <- s:
	default:
	}
}

func (b *inboundBusiness) OnOpen(h *handler.ServiceHandler) {
	b.record("parent:open")
	// ConnectChild dispatches the dial onto a goroutine and returns
	// before it completes (handler.ServiceHandler.Connect), so the
	// context must outlive OnOpen itself; cancel is deferred to
	// OnChildEvent's StateOpen case instead of here, once the dial
	// has actually finished.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	b.cancelDial = cancel
	if _, ok := b.connector.ConnectChild(ctx, h); !ok {
		cancel()
		h.Close(nil)
	}
}

func (b *inboundBusiness) OnRead(h *handler.ServiceHandler, n int) {
	b.record("parent:read")
	if h.Child() != nil {
		h.PostChild(api.Event{State: api.StateWrite, Value: uint64(n)})
	}
}

func (b *inboundBusiness) OnWrite(h *handler.ServiceHandler, n int) {
	b.record("parent:write")
}

func (b *inboundBusiness) OnChildEvent(h *handler.ServiceHandler, ev api.Event) {
	switch ev.State {
	case api.StateOpen:
		b.record("parent:child_open")
		if b.cancelDial != nil {
			b.cancelDial()
		}
		h.AsyncReadSome()
	case api.StateWrite:
		b.record("parent:child_write")
		if c := h.Child(); c != nil {
			h.AsyncWritePeerBuffer(c, int(ev.Value))
		}
	}
}

func (b *inboundBusiness) OnClose(h *handler.ServiceHandler, err error) {
	b.record("parent:close")
	if b.cancelDial != nil {
		b.cancelDial()
	}
	if c := h.Child(); c != nil {
		c.Close(nil)
	}
}

func TestProxyForwardsToBackend(t *testing.T) {
	backendAddr, backendEvents, stopBackend := startEchoGroup(t, 1, 1, 1, 4, 2, 10*time.Millisecond, 0)
	defer stopBackend()

	childPool := handlerpool.New(handlerpool.Config{
		WorkFactory:    func() handler.WorkHandler { return &outboundBusiness{events: make(chan string, 32)} },
		StreamFactory:  handler.NewTCPStreamFactory(),
		ReadBufferSize: 64,
		InitialSize:    1,
		LowWatermark:   0,
		HighWatermark:  4,
		Increment:      1,
		Maximum:        4,
	})
	childPool.Init()
	defer childPool.Close()

	connector := client.New("tcp", backendAddr, childPool)

	parentEvents := make(chan string, 32)
	parentPool := handlerpool.New(handlerpool.Config{
		WorkFactory:     func() handler.WorkHandler { return &inboundBusiness{connector: connector, events: parentEvents} },
		StreamFactory:   handler.NewTCPStreamFactory(),
		ReadBufferSize:  64,
		WriteBufferSize: 64,
		InitialSize:     1,
		LowWatermark:    0,
		HighWatermark:   4,
		Increment:       1,
		Maximum:         4,
	})
	parentPool.Init()
	defer parentPool.Close()

	reactors := reactor.NewPool(1, 64)
	workers := reactor.NewWorkerPool(1, 1, 10, 64)
	group := reactor.NewGroup(reactors, workers)
	group.Start()
	defer func() { group.SetForceStop(true); group.Stop() }()

	a := server.New("127.0.0.1:0", parentPool, reactors, workers, server.WithAcceptQueueLength(1))
	if err := a.Start(); err != nil {
		t.Fatalf("proxy acceptor start failed: %v", err)
	}
	defer a.Stop()

	conn := dial(t, a.ListenAddr().String())
	defer conn.Close()

	msg := []byte("echo server test message.\r\n")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write to proxy failed: %v", err)
	}

	echoed := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := readFull(conn, echoed); err != nil {
		t.Fatalf("read from proxy failed: %v", err)
	}
	if string(echoed) != string(msg) {
		t.Fatalf("proxy echo mismatch: got %q want %q", echoed, msg)
	}

	expectEvent(t, backendEvents, "open")
	expectEvent(t, backendEvents, "read")
	expectEvent(t, backendEvents, "write")
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
