// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ServiceHandler is the per-connection state machine (spec.md §4.3),
// grounded line-for-line on original_source/bas/service_handler.hpp:
// the same Idle/Bound/Connecting/Running/Closing/Closed states, the
// same session-timer/io-timer arm-cancel pairing, and the same
// dispatch-to-reactor-loop / post-to-worker-loop split for every
// public method. Where service_handler.hpp leaves read/write buffer
// bookkeeping to the business handler, this package applies it
// automatically before invoking on_read/on_write, per spec.md §4.3's
// explicit "produce/consume already applied by the core".
package handler

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/bas-go/api"
	"github.com/momentics/bas-go/iobuf"
	"github.com/momentics/bas-go/reactor"
)

// State is a ServiceHandler lifecycle state (spec.md §4.3.1).
type State int32

const (
	StateIdle State = iota
	StateBound
	StateConnecting
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBound:
		return "bound"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WorkHandler is the business-code trait invoked by a ServiceHandler
// (spec.md §4.3). All methods are safe to leave as no-ops by
// embedding NopWorkHandler; a real handler overrides only the ones it
// needs.
type WorkHandler interface {
	OnBind(h *ServiceHandler)
	OnOpen(h *ServiceHandler)
	OnRead(h *ServiceHandler, n int)
	OnWrite(h *ServiceHandler, n int)
	OnClose(h *ServiceHandler, err error)
	OnParentEvent(h *ServiceHandler, ev api.Event)
	OnChildEvent(h *ServiceHandler, ev api.Event)
	OnSetParent(h *ServiceHandler, parent *ServiceHandler)
	OnSetChild(h *ServiceHandler, child *ServiceHandler)
}

// NopWorkHandler gives every WorkHandler method a no-op body so
// concrete business handlers can embed it and override only what
// they use.
type NopWorkHandler struct{}

func (NopWorkHandler) OnBind(*ServiceHandler)                      {}
func (NopWorkHandler) OnOpen(*ServiceHandler)                      {}
func (NopWorkHandler) OnRead(*ServiceHandler, int)                 {}
func (NopWorkHandler) OnWrite(*ServiceHandler, int)                {}
func (NopWorkHandler) OnClose(*ServiceHandler, error)              {}
func (NopWorkHandler) OnParentEvent(*ServiceHandler, api.Event)    {}
func (NopWorkHandler) OnChildEvent(*ServiceHandler, api.Event)     {}
func (NopWorkHandler) OnSetParent(*ServiceHandler, *ServiceHandler) {}
func (NopWorkHandler) OnSetChild(*ServiceHandler, *ServiceHandler)  {}

// ServiceHandler owns one stream and drives it through its
// lifecycle. Every exported method is safe to call from any
// goroutine; state mutation is always funneled through the bound
// reactor loop.
type ServiceHandler struct {
	work WorkHandler

	readBuf  *iobuf.Buffer
	writeBuf *iobuf.Buffer

	sessionTimeout time.Duration
	ioTimeout      time.Duration

	state   atomic.Int32
	stopped atomic.Bool

	stream api.Stream

	reactorLoop *reactor.Loop
	workerLoop  *reactor.Loop

	sessionTimer *time.Timer
	ioTimer      *time.Timer
	sessionGen   atomic.Uint64
	ioGen        atomic.Uint64

	parent atomic.Pointer[ServiceHandler]
	child  atomic.Pointer[ServiceHandler]

	release func(*ServiceHandler)
}

// NewServiceHandler constructs a handler in the Idle state, not yet
// bound to any loops or stream. readBufSize/writeBufSize,
// sessionTimeout and ioTimeout correspond to the handler pool's
// per-handler construction parameters (spec.md §4.2).
func NewServiceHandler(work WorkHandler, readBufSize, writeBufSize int, sessionTimeout, ioTimeout time.Duration) *ServiceHandler {
	h := &ServiceHandler{
		work:           work,
		readBuf:        iobuf.New(readBufSize),
		sessionTimeout: sessionTimeout,
		ioTimeout:      ioTimeout,
	}
	if writeBufSize > 0 {
		h.writeBuf = iobuf.New(writeBufSize)
	}
	h.stopped.Store(true)
	h.state.Store(int32(StateIdle))
	return h
}

func (h *ServiceHandler) State() State             { return State(h.state.Load()) }
func (h *ServiceHandler) ReadBuffer() *iobuf.Buffer  { return h.readBuf }
func (h *ServiceHandler) WriteBuffer() *iobuf.Buffer { return h.writeBuf }
func (h *ServiceHandler) Stream() api.Stream         { return h.stream }
func (h *ServiceHandler) ReactorLoop() *reactor.Loop  { return h.reactorLoop }
func (h *ServiceHandler) WorkerLoop() *reactor.Loop   { return h.workerLoop }
func (h *ServiceHandler) Parent() *ServiceHandler     { return h.parent.Load() }
func (h *ServiceHandler) Child() *ServiceHandler      { return h.child.Load() }

// Bind installs a fresh stream and loop pair (pool acquisition,
// spec.md §4.3.1 Idle→Bound). release is invoked once the handler
// reaches Closed, so the pool can reclaim it. Called by
// handlerpool.Pool.Acquire; business code never calls this directly.
func (h *ServiceHandler) Bind(stream api.Stream, reactorLoop, workerLoop *reactor.Loop, release func(*ServiceHandler)) {
	h.stream = stream
	h.reactorLoop = reactorLoop
	h.workerLoop = workerLoop
	h.release = release
	h.readBuf.Clear()
	if h.writeBuf != nil {
		h.writeBuf.Clear()
	}
	h.stopped.Store(false)
	h.state.Store(int32(StateBound))
	h.parent.Store(nil)
	h.child.Store(nil)
	h.work.OnBind(h)
}

// StartAccepted transitions Bound→Running for a server-side accepted
// connection: arms the session timer and posts on_open (spec.md
// §4.3.1, grounded on service_handler.hpp's start()).
func (h *ServiceHandler) StartAccepted() {
	h.reactorLoop.Dispatch(func() {
		if h.stopped.Load() {
			return
		}
		h.state.Store(int32(StateRunning))
		h.armSessionTimer()
		h.postOpen()
	})
}

// Connect transitions Bound→Connecting and issues an asynchronous
// connect to peer, optionally binding to local first (spec.md
// §4.3.1, grounded on service_handler.hpp's connect_i()).
func (h *ServiceHandler) Connect(ctx context.Context, peer, local net.Addr) {
	h.reactorLoop.Dispatch(func() {
		if h.stopped.Load() {
			return
		}
		h.state.Store(int32(StateConnecting))
		h.armSessionTimer()
		h.armIOTimer()

		go func() {
			err := h.stream.Connect(ctx, peer, local)
			h.reactorLoop.Dispatch(func() { h.handleConnect(err) })
		}()
	})
}

func (h *ServiceHandler) handleConnect(err error) {
	if h.stopped.Load() {
		return
	}
	h.cancelIOTimer()
	if err != nil {
		h.closeLocked(err)
		return
	}
	h.state.Store(int32(StateRunning))
	h.armSessionTimer()
	h.postOpen()
}

func (h *ServiceHandler) postOpen() {
	h.workerLoop.Post(func() {
		if h.stopped.Load() {
			return
		}
		h.work.OnOpen(h)
	})
}

func (h *ServiceHandler) armSessionTimer() {
	if h.sessionTimeout <= 0 {
		return
	}
	gen := h.sessionGen.Add(1)
	h.sessionTimer = time.AfterFunc(h.sessionTimeout, func() {
		h.reactorLoop.Dispatch(func() { h.handleTimeout(gen, &h.sessionGen, api.ErrTimeout) })
	})
}

func (h *ServiceHandler) cancelSessionTimer() {
	h.sessionGen.Add(1)
	if h.sessionTimer != nil {
		h.sessionTimer.Stop()
	}
}

func (h *ServiceHandler) armIOTimer() {
	if h.ioTimeout <= 0 {
		return
	}
	gen := h.ioGen.Add(1)
	h.ioTimer = time.AfterFunc(h.ioTimeout, func() {
		h.reactorLoop.Dispatch(func() { h.handleTimeout(gen, &h.ioGen, api.ErrTimeout) })
	})
}

func (h *ServiceHandler) cancelIOTimer() {
	h.ioGen.Add(1)
	if h.ioTimer != nil {
		h.ioTimer.Stop()
	}
}

// handleTimeout fires on the reactor loop. gen must still match the
// generation counter's current value, otherwise a newer arm/cancel
// has already superseded this timer and the firing is stale.
func (h *ServiceHandler) handleTimeout(gen uint64, counter *atomic.Uint64, err error) {
	if h.stopped.Load() || counter.Load() != gen {
		return
	}
	h.closeLocked(err)
}

// AsyncReadSome starts a read into the read buffer's free tail
// (spec.md §4.3, grounded on service_handler.hpp's
// async_read_some()).
func (h *ServiceHandler) AsyncReadSome() {
	h.reactorLoop.Dispatch(func() { h.startRead(h.readBuf.Space(), false) })
}

// AsyncRead starts a read of exactly length bytes into the read
// buffer's free tail.
func (h *ServiceHandler) AsyncRead(length int) {
	h.reactorLoop.Dispatch(func() { h.startRead(length, true) })
}

func (h *ServiceHandler) startRead(length int, exact bool) {
	if h.stopped.Load() {
		return
	}
	if length <= 0 || length > h.readBuf.Space() {
		h.closeLocked(api.ErrNoBufferSpace)
		return
	}
	h.armIOTimer()
	target := h.readBuf.Tail()[:length]
	go func() {
		var n int
		var err error
		if exact {
			n, err = io.ReadFull(h.stream, target)
		} else {
			n, err = h.stream.Read(target)
		}
		h.reactorLoop.Dispatch(func() { h.handleRead(n, err) })
	}()
}

func (h *ServiceHandler) handleRead(n int, err error) {
	if h.stopped.Load() {
		return
	}
	h.cancelIOTimer()
	if err != nil {
		h.closeLocked(err)
		return
	}
	h.readBuf.Produce(n)
	h.workerLoop.Post(func() {
		if h.stopped.Load() {
			return
		}
		h.work.OnRead(h, n)
	})
}

// AsyncWrite writes length bytes from the read buffer's committed
// region — the default write source (spec.md §4.3: "default source
// is the read buffer's committed region"), matching the common
// pattern of echoing data straight out of what was just read without
// a dedicated write buffer. On completion the read buffer is
// consumed by length bytes before on_write fires.
func (h *ServiceHandler) AsyncWrite(length int) {
	h.reactorLoop.Dispatch(func() {
		if length <= 0 || length > h.readBuf.Size() {
			h.closeLocked(api.ErrNoBufferSpace)
			return
		}
		h.startWrite(length, h.readBuf)
	})
}

// AsyncWriteBuffer writes length bytes from the dedicated write
// buffer (spec.md §6: write_buffer_size, nonzero to enable). Only
// valid on handlers constructed with a nonzero write buffer size.
func (h *ServiceHandler) AsyncWriteBuffer(length int) {
	h.reactorLoop.Dispatch(func() {
		if h.writeBuf == nil || length <= 0 || length > h.writeBuf.Size() {
			h.closeLocked(api.ErrNoBufferSpace)
			return
		}
		h.startWrite(length, h.writeBuf)
	})
}

// AsyncWritePeerBuffer writes length bytes sourced from peer's read
// buffer rather than h's own (spec.md §4.3's "async_write(buffers)"
// overload), grounded on the proxy pattern's actual usage in
// original_source/examples/proxy/server/{client_work,server_work}.hpp,
// where each side's on_child_event/on_parent_event writes directly
// out of the OTHER handler's read buffer rather than copying through
// its own. On completion peer's read buffer (not h's) is consumed by
// length bytes, exactly as if peer itself had written that data.
func (h *ServiceHandler) AsyncWritePeerBuffer(peer *ServiceHandler, length int) {
	h.reactorLoop.Dispatch(func() {
		buf := peer.ReadBuffer()
		if length <= 0 || length > buf.Size() {
			h.closeLocked(api.ErrNoBufferSpace)
			return
		}
		h.startWrite(length, buf)
	})
}

func (h *ServiceHandler) startWrite(length int, buf *iobuf.Buffer) {
	if h.stopped.Load() {
		return
	}
	h.armIOTimer()
	source := buf.Data()[:length]
	go func() {
		n, err := h.stream.Write(source)
		h.reactorLoop.Dispatch(func() { h.handleWrite(n, err, buf) })
	}()
}

func (h *ServiceHandler) handleWrite(n int, err error, buf *iobuf.Buffer) {
	if h.stopped.Load() {
		return
	}
	h.cancelIOTimer()
	if err != nil {
		h.closeLocked(err)
		return
	}
	buf.Consume(n)
	h.workerLoop.Post(func() {
		if h.stopped.Load() {
			return
		}
		h.work.OnWrite(h, n)
	})
}

// Close initiates shutdown with the given error (nil means success).
// Safe to call from any thread; idempotent (spec.md §4.3.1).
func (h *ServiceHandler) Close(err error) {
	h.reactorLoop.Dispatch(func() { h.closeLocked(err) })
}

func (h *ServiceHandler) closeLocked(err error) {
	if h.stopped.Load() {
		return
	}
	h.stopped.Store(true)
	h.state.Store(int32(StateClosing))

	if h.stream != nil {
		_ = h.stream.Shutdown()
		_ = h.stream.Close()
	}
	h.cancelSessionTimer()
	h.cancelIOTimer()

	h.notifyPeerOfClose(err)

	h.workerLoop.Post(func() {
		h.work.OnClose(h, err)
		h.reactorLoop.Dispatch(func() { h.doneClosing() })
	})
}

func (h *ServiceHandler) doneClosing() {
	h.state.Store(int32(StateClosed))
	parent := h.parent.Swap(nil)
	child := h.child.Swap(nil)
	_ = parent
	_ = child
	if h.release != nil {
		h.release(h)
	}
}

// notifyPeerOfClose posts a Close event to whichever peer link is
// still installed, unless the peer's own close already triggered
// this one (spec.md §4.3.3: "unless the peer's close was the cause").
func (h *ServiceHandler) notifyPeerOfClose(err error) {
	ev := api.Event{State: api.StateClose, Err: err}
	if p := h.parent.Load(); p != nil && !p.stopped.Load() {
		h.PostParent(ev)
	}
	if c := h.child.Load(); c != nil && !c.stopped.Load() {
		h.PostChild(ev)
	}
}

// PostParent publishes an event about this handler to its parent,
// delivered as on_child_event on the parent's worker loop (spec.md
// §4.3.3, §4.6; the callback is named for what the PARENT is being
// told: news about its child).
func (h *ServiceHandler) PostParent(ev api.Event) {
	p := h.parent.Load()
	if p == nil {
		return
	}
	p.workerLoop.Post(func() {
		if p.stopped.Load() {
			return
		}
		p.work.OnChildEvent(p, ev)
	})
}

// PostChild publishes an event about this handler to its child,
// delivered as on_parent_event on the child's worker loop.
func (h *ServiceHandler) PostChild(ev api.Event) {
	c := h.child.Load()
	if c == nil {
		return
	}
	c.workerLoop.Post(func() {
		if c.stopped.Load() {
			return
		}
		c.work.OnParentEvent(c, ev)
	})
}

// SetParent installs the parent link and fires on_set_parent
// (spec.md §4.3.3, §4.5: installed by the connector before
// connecting, so the link is legal for the duration of the
// handshake).
func (h *ServiceHandler) SetParent(parent *ServiceHandler) {
	h.reactorLoop.Dispatch(func() {
		if h.stopped.Load() {
			return
		}
		h.parent.Store(parent)
		h.work.OnSetParent(h, parent)
	})
}

// SetChild installs the child link and fires on_set_child.
func (h *ServiceHandler) SetChild(child *ServiceHandler) {
	h.reactorLoop.Dispatch(func() {
		if h.stopped.Load() {
			return
		}
		h.child.Store(child)
		h.work.OnSetChild(h, child)
	})
}
