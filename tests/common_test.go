// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end scenario tests exercising server.Acceptor, client.Connector,
// handlerpool.Pool and reactor.Group together, grounded on spec.md §8's
// seed test scenarios and on original_source/examples/echo and
// original_source/examples/proxy's observed callback sequences.
package tests

import (
	"net"
	"testing"
	"time"

	"github.com/momentics/bas-go/handler"
	"github.com/momentics/bas-go/handlerpool"
	"github.com/momentics/bas-go/reactor"
	"github.com/momentics/bas-go/server"
)

// echoBusiness implements the same echo loop as
// original_source/examples/echo/server/server_work.hpp's on_read
// calling async_write(bytes_transferred) followed by on_write
// re-arming async_read_some.
type echoBusiness struct {
	handler.NopWorkHandler
	events chan string
}

func newEchoBusiness(events chan string) func() handler.WorkHandler {
	return func() handler.WorkHandler { return &echoBusiness{events: events} }
}

func (b *echoBusiness) record(s string) {
	select {
	case b.events <- s:
	default:
	}
}

func (b *echoBusiness) OnOpen(h *handler.ServiceHandler) {
	b.record("open")
	h.AsyncReadSome()
}

func (b *echoBusiness) OnRead(h *handler.ServiceHandler, n int) {
	b.record("read")
	h.AsyncWrite(n)
}

func (b *echoBusiness) OnWrite(h *handler.ServiceHandler, n int) {
	b.record("write")
	h.ReadBuffer().Clear()
	h.AsyncReadSome()
}

func (b *echoBusiness) OnClose(h *handler.ServiceHandler, err error) {
	b.record("close")
}

func startEchoGroup(t *testing.T, reactors, workers, handlerInitial, handlerMax, acceptQueue int, acceptDelay time.Duration, sessionTimeout time.Duration) (addr string, events chan string, stop func()) {
	t.Helper()
	events = make(chan string, 256)

	pool := handlerpool.New(handlerpool.Config{
		WorkFactory:    newEchoBusiness(events),
		StreamFactory:  handler.NewTCPStreamFactory(),
		ReadBufferSize: 64,
		SessionTimeout: sessionTimeout,
		InitialSize:    handlerInitial,
		LowWatermark:   0,
		HighWatermark:  handlerMax,
		Increment:      1,
		Maximum:        handlerMax,
	})
	pool.Init()

	reactorPool := reactor.NewPool(reactors, 64)
	workerPool := reactor.NewWorkerPool(workers, workers, 10, 64)
	group := reactor.NewGroup(reactorPool, workerPool)
	group.Start()

	a := server.New("127.0.0.1:0", pool, reactorPool, workerPool,
		server.WithAcceptQueueLength(acceptQueue),
		server.WithAcceptDelay(acceptDelay))
	if err := a.Start(); err != nil {
		t.Fatalf("acceptor start failed: %v", err)
	}

	addr = acceptorAddr(a)
	stop = func() {
		a.Stop()
		group.SetForceStop(true)
		group.Stop()
		pool.Close()
	}
	return addr, events, stop
}

// startGroupWithBusiness is startEchoGroup generalized to an
// arbitrary WorkFactory and buffer size, for scenarios that need
// non-echo business logic (e.g. the buffer-overflow scenario). Event
// tracing is left to the supplied WorkFactory's own channel.
func startGroupWithBusiness(t *testing.T, work func() handler.WorkHandler, readBufferSize int) (addr string, stop func()) {
	t.Helper()

	pool := handlerpool.New(handlerpool.Config{
		WorkFactory:    work,
		StreamFactory:  handler.NewTCPStreamFactory(),
		ReadBufferSize: readBufferSize,
		InitialSize:    1,
		LowWatermark:   0,
		HighWatermark:  4,
		Increment:      1,
		Maximum:        4,
	})
	pool.Init()

	reactorPool := reactor.NewPool(1, 32)
	workerPool := reactor.NewWorkerPool(1, 1, 10, 32)
	group := reactor.NewGroup(reactorPool, workerPool)
	group.Start()

	a := server.New("127.0.0.1:0", pool, reactorPool, workerPool, server.WithAcceptQueueLength(1))
	if err := a.Start(); err != nil {
		t.Fatalf("acceptor start failed: %v", err)
	}

	addr = acceptorAddr(a)
	stop = func() {
		a.Stop()
		group.SetForceStop(true)
		group.Stop()
		pool.Close()
	}
	return addr, stop
}

// acceptorAddr reaches into the acceptor's listener for the ephemeral
// port chosen by the OS; tests dial this address directly.
func acceptorAddr(a *server.Acceptor) string {
	return a.ListenAddr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s failed: %v", addr, err)
	}
	return conn
}

func expectEvent(t *testing.T, events chan string, want string) {
	t.Helper()
	select {
	case got := <-events:
		if got != want {
			t.Fatalf("expected event %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event %q", want)
	}
}
