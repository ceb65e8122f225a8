// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Group pairs one reactor Pool with one WorkerPool (spec.md §3
// PoolGroup), grounded on original_source/bas/io_service_group.hpp's
// two-pool pairing and its graceful-vs-force stop ordering.

package reactor

import "sync"

// Group aggregates a reactor Pool and a WorkerPool under one
// started/force-stop lifecycle.
type Group struct {
	mu        sync.Mutex
	Reactors  *Pool
	Workers   *WorkerPool
	started   bool
	forceStop bool
}

// NewGroup constructs a Group from an already-built Pool/WorkerPool
// pair. Construction of the pools themselves is left to the caller
// (NewPool / NewWorkerPool) per spec.md §6's construction surface.
func NewGroup(reactors *Pool, workers *WorkerPool) *Group {
	return &Group{Reactors: reactors, Workers: workers}
}

// SetForceStop configures graceful vs force shutdown mode. Only
// effective before Start (spec.md §4.1 "Failure: any attempt to ...
// resize while already started is a no-op").
func (g *Group) SetForceStop(force bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		g.forceStop = force
	}
}

// Started reports whether the group has been started.
func (g *Group) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Start brings up both pools in non-blocking mode.
func (g *Group) Start() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	g.Reactors.Start()
	g.Workers.Start()
}

// Stop shuts both pools down. In graceful mode it repeats the
// rearm/stop cycle on each pool until both report idle, exactly
// io_service_group::stop's drain loop; in force mode it stops once,
// immediately, abandoning in-flight work.
//
// Workers are stopped before reactors. A worker task's closeLocked
// (handler.ServiceHandler) ends in a blocking reactorLoop.Dispatch
// back onto a reactor loop; if the reactor loop's keep-alive token
// were dropped first, its Run could return for lack of queued work
// while that Dispatch is still in flight, stranding the dispatched
// closure in a queue nobody drains and hanging the worker goroutine
// (and Workers.Stop's wg.Wait) forever. Keeping reactor loops running
// until every worker has drained gives that back-dispatch a live
// target every time.
func (g *Group) Stop() {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	force := g.forceStop
	g.started = false
	g.mu.Unlock()

	g.Workers.Stop(force)
	g.Reactors.Stop(force)

	if force {
		return
	}

	for {
		reactorsIdle := g.Reactors.IsIdle()
		workersIdle := g.Workers.IsIdle()
		if reactorsIdle && workersIdle {
			return
		}
		g.Reactors.ResetIdle()
		g.Workers.ResetIdle()
		g.Reactors.Rearm()
		g.Workers.Rearm()
		g.Workers.Stop(false)
		g.Reactors.Stop(false)
	}
}
