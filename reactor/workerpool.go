// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"sync"

	"github.com/momentics/bas-go/internal/concurrency"
)

// WorkerPool is an elastic collection of worker loops that grows
// under load up to a hard cap (spec.md §3 WorkerPool, §4.1). Growth
// only happens while the pool is started and not in force-stop mode.
type WorkerPool struct {
	mu         sync.Mutex
	loops      []*Loop
	tokens     []*concurrency.Token
	wg         sync.WaitGroup
	next       int
	started    bool
	forceStop  bool
	high       int
	threadLoad int
	queueCap   int
}

// NewWorkerPool creates a WorkerPool with initial loops, a hard cap
// of high loops, and a threadLoad target outstanding-connections per
// loop before growth is considered (spec.md §6 worker_initial,
// worker_high, worker_load).
func NewWorkerPool(initial, high, threadLoad, queueCap int) *WorkerPool {
	if initial < 1 {
		initial = 1
	}
	if high < initial {
		high = initial
	}
	if threadLoad < 1 {
		threadLoad = 1
	}
	wp := &WorkerPool{high: high, threadLoad: threadLoad, queueCap: queueCap}
	wp.loops = make([]*Loop, initial)
	for i := range wp.loops {
		wp.loops[i] = concurrency.NewLoop(queueCap)
	}
	return wp
}

// Start brings the pool up, as Pool.Start does.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true
	wp.forceStop = false
	wp.tokens = make([]*concurrency.Token, len(wp.loops))
	for i, l := range wp.loops {
		wp.tokens[i] = l.Acquire()
		wp.wg.Add(1)
		go func(l *Loop) {
			defer wp.wg.Done()
			l.Run()
		}(l)
	}
}

// Stop mirrors Pool.Stop.
func (wp *WorkerPool) Stop(force bool) {
	wp.mu.Lock()
	tokens := wp.tokens
	loops := append([]*Loop(nil), wp.loops...)
	wp.tokens = nil
	wp.started = false
	wp.forceStop = force
	wp.mu.Unlock()

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
	wp.wg.Wait()
}

// Rearm mirrors Pool.Rearm.
func (wp *WorkerPool) Rearm() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true
	wp.forceStop = false
	wp.tokens = make([]*concurrency.Token, len(wp.loops))
	for i, l := range wp.loops {
		l.Reopen()
		wp.tokens[i] = l.Acquire()
		wp.wg.Add(1)
		go func(l *Loop) {
			defer wp.wg.Done()
			l.Run()
		}(l)
	}
}

// IsIdle mirrors Pool.IsIdle.
func (wp *WorkerPool) IsIdle() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	for _, l := range wp.loops {
		if !l.Idle() {
			return false
		}
	}
	return true
}

// ResetIdle mirrors Pool.ResetIdle.
func (wp *WorkerPool) ResetIdle() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	for _, l := range wp.loops {
		l.ResetActivity()
	}
}

// DrainUntilIdle mirrors Pool.DrainUntilIdle.
func (wp *WorkerPool) DrainUntilIdle() {
	for {
		wp.ResetIdle()
		wp.Rearm()
		wp.Stop(false)
		if wp.IsIdle() {
			return
		}
	}
}

// Size returns the current loop count.
func (wp *WorkerPool) Size() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.loops)
}

// GetLoop returns the next loop round-robin, without considering
// growth (spec.md §4.1 get_loop()).
func (wp *WorkerPool) GetLoop() *Loop {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.nextLoopLocked()
}

func (wp *WorkerPool) nextLoopLocked() *Loop {
	l := wp.loops[wp.next]
	wp.next = (wp.next + 1) % len(wp.loops)
	return l
}

// GetLoopForLoad returns a loop, growing the pool by one if load
// divided by threadLoad exceeds the current loop count and the pool
// has room below its high watermark (spec.md §4.1, §3 WorkerPool):
//
//	load/threadLoad > current_threads && current < high_watermark
//
// grounded on original_source/bas/io_service_pool.hpp's
// get_io_service(load).
func (wp *WorkerPool) GetLoopForLoad(load int) *Loop {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	current := len(wp.loops)
	if wp.started && !wp.forceStop && load/wp.threadLoad > current && current < wp.high {
		l := concurrency.NewLoop(wp.queueCap)
		wp.loops = append(wp.loops, l)
		t := l.Acquire()
		wp.tokens = append(wp.tokens, t)
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			l.Run()
		}()
		wp.next = current
	}
	return wp.nextLoopLocked()
}
