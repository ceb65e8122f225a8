// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package server implements the listening half of the framework
// (spec.md §4.4), grounded on original_source/trunk/bas/server.hpp:
// SO_REUSEADDR on listen, a configurable number of concurrently
// outstanding accepts, and a fixed-delay retry on handler-pool
// saturation.
//
// bas's accept_one_i() (original_source/trunk/bas/server.hpp:237-260)
// acquires a handler from the pool BEFORE issuing the OS-level
// accept: when get_service_handler returns null it arms the delay
// timer and never calls async_accept, leaving the pending connection
// sitting in the kernel backlog until a handler frees up. This
// Acceptor does the same: acceptLoop calls pool.Acquire first and
// only calls listener.AcceptTCP once a handler is in hand, so a
// saturated pool throttles-and-retries the acquire without ever
// touching the listener — nothing is accepted-then-dropped, and
// every connection that ever reaches AcceptTCP is guaranteed a
// handler.
package server

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/momentics/bas-go/api"
	"github.com/momentics/bas-go/handler"
	"github.com/momentics/bas-go/handlerpool"
	"github.com/momentics/bas-go/reactor"
)

// Options configures an Acceptor (spec.md §6: accept_queue_length,
// accept_delay_seconds).
type Options struct {
	AcceptQueueLength int
	AcceptDelay       time.Duration
}

// Option mutates Options; NewAcceptor applies defaults first.
type Option func(*Options)

func WithAcceptQueueLength(n int) Option {
	return func(o *Options) { o.AcceptQueueLength = n }
}

func WithAcceptDelay(d time.Duration) Option {
	return func(o *Options) { o.AcceptDelay = d }
}

func defaultOptions() Options {
	return Options{AcceptQueueLength: 250, AcceptDelay: time.Second}
}

// Acceptor listens on one TCP endpoint and feeds accepted connections
// into handlers drawn from a handlerpool.Pool, distributing their
// reactor/worker affinity across a reactor.Pool/reactor.WorkerPool
// pair.
type Acceptor struct {
	addr     string
	listener *net.TCPListener
	pool     *handlerpool.Pool
	reactors *reactor.Pool
	workers  *reactor.WorkerPool
	opts     Options

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs an Acceptor bound to addr, not yet listening.
func New(addr string, pool *handlerpool.Pool, reactors *reactor.Pool, workers *reactor.WorkerPool, opts ...Option) *Acceptor {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return &Acceptor{addr: addr, pool: pool, reactors: reactors, workers: workers, opts: o, stopCh: make(chan struct{})}
}

// Start opens the listen socket with SO_REUSEADDR (best-effort
// SO_REUSEPORT on Linux) and launches AcceptQueueLength concurrent
// accept loops (spec.md §4.4).
func (a *Acceptor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", a.addr)
	if err != nil {
		return err
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err
	}
	if rc, err := ln.SyscallConn(); err == nil {
		_ = reactor.TuneListenSocket(rc)
	}
	a.listener = ln
	a.started = true
	a.stopCh = make(chan struct{})

	for i := 0; i < a.opts.AcceptQueueLength; i++ {
		a.wg.Add(1)
		go a.acceptLoop()
	}
	return nil
}

// Stop closes the listen socket; outstanding accept loops observe
// net.ErrClosed and exit (spec.md §4.4: acceptor cancellation closes
// the handler cleanly rather than with an error).
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	close(a.stopCh)
	ln := a.listener
	a.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	a.wg.Wait()
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		h, ok := a.acquire()
		if !ok {
			log.Printf("server: %v, retrying in %s", api.ErrSaturated, a.opts.AcceptDelay)
			a.throttle()
			continue
		}

		conn, err := a.listener.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				h.Close(nil)
				return
			}
			h.Close(err)
			log.Printf("server: accept error: %v", err)
			continue
		}

		select {
		case <-a.stopCh:
			_ = conn.Close()
			h.Close(nil)
			return
		default:
		}

		a.attach(h, conn)
	}
}

// acquire obtains a reactor/worker loop pair and a pool handler,
// reporting api.ErrSaturated (logged, not returned: acceptLoop has no
// caller to surface it to) when the pool has no handler to give.
func (a *Acceptor) acquire() (*handler.ServiceHandler, bool) {
	reactorLoop := a.reactors.GetLoop()
	workerLoop := a.workers.GetLoopForLoad(a.pool.OutstandingLoad())

	h, ok := a.pool.Acquire(reactorLoop, workerLoop)
	if !ok {
		return nil, false
	}
	return h, true
}

// attach binds the accepted connection to an already-acquired
// handler.
func (a *Acceptor) attach(h *handler.ServiceHandler, conn *net.TCPConn) {
	attacher, ok := h.Stream().(handler.Attacher)
	if !ok {
		_ = conn.Close()
		h.Close(errors.New("server: stream does not support accept attachment"))
		return
	}
	if err := attacher.Attach(conn); err != nil {
		h.Close(err)
		return
	}
	h.StartAccepted()
}

// ListenAddr returns the acceptor's bound local address, including
// the OS-assigned port when addr specified port 0. Only valid after
// Start has returned successfully.
func (a *Acceptor) ListenAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener.Addr()
}

func (a *Acceptor) throttle() {
	select {
	case <-time.After(a.opts.AcceptDelay):
	case <-a.stopCh:
	}
}
