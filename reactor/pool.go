// Package reactor implements the two-tier thread-pool fabric of
// spec.md §2/§4.1: a fixed-size Pool of reactor loops and an elastic
// WorkerPool of worker loops, each loop being a
// concurrency.Loop running on its own goroutine.
//
// Grounded on original_source/bas/io_service_pool.hpp: round-robin
// loop selection, load-triggered growth, and the graceful-stop
// "repeat start/stop until idle" loop are all translated directly
// from that file's get_io_service/start/stop methods.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor

import (
	"sync"

	"github.com/momentics/bas-go/internal/concurrency"
)

// Loop is the unit of scheduling: one goroutine, one task queue.
type Loop = concurrency.Loop

// Pool is a fixed-size round-robin collection of reactor loops.
// Reactor pools never grow after Start (spec.md §4.1).
type Pool struct {
	mu      sync.Mutex
	loops   []*Loop
	tokens  []*concurrency.Token
	wg      sync.WaitGroup
	next    int
	started bool
	queueCap int
}

// NewPool creates a reactor Pool with a fixed thread count.
// 1 <= initial must hold (spec.md §4.1).
func NewPool(initial int, queueCap int) *Pool {
	if initial < 1 {
		initial = 1
	}
	p := &Pool{queueCap: queueCap}
	p.loops = make([]*Loop, initial)
	for i := range p.loops {
		p.loops[i] = concurrency.NewLoop(queueCap)
	}
	return p
}

// Start brings up one goroutine per loop, each held alive by a
// keep-alive token. Calling Start twice is a no-op (spec.md §4.1).
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.tokens = make([]*concurrency.Token, len(p.loops))
	for i, l := range p.loops {
		p.tokens[i] = l.Acquire()
		p.wg.Add(1)
		go func(l *Loop) {
			defer p.wg.Done()
			l.Run()
		}(l)
	}
}

// Wait blocks until every loop's Run has returned. Start itself
// always returns immediately; calling Wait after it gives the
// blocking form (spec.md §4.1 "Non-blocking returns immediately;
// blocking joins").
func (p *Pool) Wait() {
	p.wg.Wait()
}

// GetLoop returns the next loop, round-robin.
func (p *Pool) GetLoop() *Loop {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return l
}

// Stop drops every loop's keep-alive token (graceful) or additionally
// force-stops each loop (force). In graceful mode the caller should
// call Stop repeatedly, re-arming between calls via Rearm, until
// IsIdle reports true — mirroring io_service_pool::stop's "allow
// pending handlers to drain" contract (spec.md §4.1, §5).
func (p *Pool) Stop(force bool) {
	p.mu.Lock()
	tokens := p.tokens
	loops := append([]*Loop(nil), p.loops...)
	p.tokens = nil
	p.started = false
	p.mu.Unlock()

	for _, t := range tokens {
		if t != nil {
			t.Release()
		}
	}
	if force {
		for _, l := range loops {
			l.ForceStop()
		}
	}
	p.wg.Wait()
}

// Rearm restarts every loop with a fresh keep-alive token, used by
// graceful shutdown's drain loop (spec.md §4.1, §5): after Stop lets
// a loop's Run return, handlers it had queued may themselves queue
// more work (e.g. on_close scheduling a pool release); Rearm plus
// another Run/Stop cycle lets that drain to completion.
func (p *Pool) Rearm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.tokens = make([]*concurrency.Token, len(p.loops))
	for i, l := range p.loops {
		l.Reopen()
		p.tokens[i] = l.Acquire()
		p.wg.Add(1)
		go func(l *Loop) {
			defer p.wg.Done()
			l.Run()
		}(l)
	}
}

// IsIdle reports whether no loop has executed a task since the last
// ResetIdle call (spec.md §4.1).
func (p *Pool) IsIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.loops {
		if !l.Idle() {
			return false
		}
	}
	return true
}

// ResetIdle clears every loop's activity flag.
func (p *Pool) ResetIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.loops {
		l.ResetActivity()
	}
}

// Size returns the current loop count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loops)
}

// DrainUntilIdle repeatedly rearms and stops the pool until IsIdle
// reports true, the direct translation of
// io_service_group::stop's "while (!force_stop_) { ... }" loop.
func (p *Pool) DrainUntilIdle() {
	for {
		p.ResetIdle()
		p.Rearm()
		p.Stop(false)
		if p.IsIdle() {
			return
		}
	}
}
