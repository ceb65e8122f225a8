// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package handlerpool implements the watermark-managed pool of
// reusable ServiceHandlers (spec.md §4.2), grounded on
// original_source/bas/service_handler_pool.hpp: the same
// low-watermark-triggers-growth / high-watermark-triggers-destruction
// / hard-maximum policy, one mutex guarding everything, and a push/pop
// freelist. The freelist itself is backed by github.com/eapache/queue
// (present in the teacher's go.mod but never imported there) instead
// of a bare slice, per SPEC_FULL.md's domain-stack wiring.
package handlerpool

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/bas-go/api"
	"github.com/momentics/bas-go/handler"
	"github.com/momentics/bas-go/reactor"
)

// Config carries the construction parameters of a Pool (spec.md §4.2,
// §6's handler_* and *_buffer_size/*_timeout options).
type Config struct {
	WorkFactory   func() handler.WorkHandler
	StreamFactory api.StreamFactory

	ReadBufferSize  int
	WriteBufferSize int
	SessionTimeout  time.Duration
	IOTimeout       time.Duration

	InitialSize  int
	LowWatermark int
	HighWatermark int
	Increment    int
	Maximum      int
}

// Pool is a watermark-managed freelist of bound-on-demand
// ServiceHandlers.
type Pool struct {
	mu     sync.Mutex
	idle   *queue.Queue
	count  int
	closed bool

	cfg Config
}

// New constructs a Pool; call Init to preallocate before use.
func New(cfg Config) *Pool {
	return &Pool{idle: queue.New(), cfg: cfg}
}

// Init fills the pool to its configured initial size (spec.md §4.2
// init()).
func (p *Pool) Init() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
	p.createLocked(p.cfg.InitialSize)
}

// Close drains the pool: every idle handler is dropped and the pool
// is marked closed, so any handler returned afterward is destroyed
// instead of stored (spec.md §4.2 close()).
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.idle = queue.New()
}

// Acquire returns a handler already bound to reactorLoop/workerLoop,
// or ok=false if the pool is saturated: count at maximum and no idle
// handler available (spec.md §4.2 acquire()).
func (p *Pool) Acquire(reactorLoop, workerLoop *reactor.Loop) (*handler.ServiceHandler, bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false
	}
	if p.idle.Length() <= p.cfg.LowWatermark && p.count < p.cfg.Maximum {
		p.createLocked(p.cfg.Increment)
	}
	if p.idle.Length() == 0 {
		p.mu.Unlock()
		return nil, false
	}
	h := p.idle.Remove().(*handler.ServiceHandler)
	p.mu.Unlock()

	h.Bind(p.cfg.StreamFactory(), reactorLoop, workerLoop, p.release)
	return h, true
}

// OutstandingLoad reports count - idle_count (spec.md §4.2
// outstanding_load()).
func (p *Pool) OutstandingLoad() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count - p.idle.Length()
}

// release returns a handler to the idle list, or destroys it if the
// pool is closed or already at its high watermark (spec.md §4.2
// release()). Wired as the ServiceHandler's release hook at bind
// time, invoked once a handler reaches Closed.
func (p *Pool) release(h *handler.ServiceHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.idle.Length() >= p.cfg.HighWatermark {
		p.count--
		return
	}
	p.idle.Add(h)
}

func (p *Pool) createLocked(n int) {
	for i := 0; i < n && p.count < p.cfg.Maximum; i++ {
		h := handler.NewServiceHandler(
			p.cfg.WorkFactory(),
			p.cfg.ReadBufferSize,
			p.cfg.WriteBufferSize,
			p.cfg.SessionTimeout,
			p.cfg.IOTimeout,
		)
		p.idle.Add(h)
		p.count++
	}
}
