// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package client implements the outbound-connection half of the
// framework (spec.md §4.5), grounded on
// original_source/bas/client.hpp: a resolved target endpoint plus a
// handler pool, with two ways to obtain a bound handler and drive it
// through connect — bare, and parented to an existing handler so the
// pair can exchange events via OnParentEvent/OnChildEvent.
//
// bas's client resolves its target endpoint once at construction
// time, using a fresh io_service purely to run the resolver. Go's
// net.Dialer resolves lazily on each dial, so Connector instead
// stores the address and resolves it per-call inside the handler's
// own goroutine, matching the rest of the package's "resolve where
// the work happens" style.
package client

import (
	"context"
	"net"

	"github.com/momentics/bas-go/handler"
	"github.com/momentics/bas-go/handlerpool"
	"github.com/momentics/bas-go/reactor"
)

// Connector drives outbound connections to one target address,
// drawing handlers from a handlerpool.Pool (spec.md §4.5).
type Connector struct {
	network string
	address string
	pool    *handlerpool.Pool
}

// New constructs a Connector targeting network/address (e.g. "tcp",
// "127.0.0.1:9000"). network defaults to "tcp" when empty.
func New(network, address string, pool *handlerpool.Pool) *Connector {
	if network == "" {
		network = "tcp"
	}
	return &Connector{network: network, address: address, pool: pool}
}

// Connect acquires a handler on reactorLoop/workerLoop and starts an
// asynchronous connect to the Connector's target (spec.md §4.5's
// bare connect(io_service, work_service) overload). ok is false if
// the pool is saturated.
func (c *Connector) Connect(ctx context.Context, reactorLoop, workerLoop *reactor.Loop) (*handler.ServiceHandler, bool) {
	h, ok := c.pool.Acquire(reactorLoop, workerLoop)
	if !ok {
		return nil, false
	}
	h.Connect(ctx, c.resolvedAddr(), nil)
	return h, true
}

// ConnectChild acquires a handler on the SAME reactor/worker loops as
// parent, links the two via SetParent/SetChild before issuing the
// connect, and starts the connect (spec.md §4.5's
// connect(parent_handler) overload, grounded on
// examples/proxy/server/server_work.hpp's on_open calling
// client_.connect(&handler)). Linking before Connect ensures the new
// handler's on_open (and any earlier failure's on_close) can reach
// the parent via PostParent immediately.
func (c *Connector) ConnectChild(ctx context.Context, parent *handler.ServiceHandler) (*handler.ServiceHandler, bool) {
	h, ok := c.pool.Acquire(parent.ReactorLoop(), parent.WorkerLoop())
	if !ok {
		return nil, false
	}
	parent.SetChild(h)
	h.SetParent(parent)
	h.Connect(ctx, c.resolvedAddr(), nil)
	return h, true
}

// resolvedAddr returns a net.Addr describing the target; actual
// resolution happens inside ServiceHandler.Connect's dial, so this is
// a plain carrier, not a live lookup.
func (c *Connector) resolvedAddr() net.Addr {
	return addr{network: c.network, address: c.address}
}

type addr struct {
	network string
	address string
}

func (a addr) Network() string { return a.network }
func (a addr) String() string  { return a.address }
