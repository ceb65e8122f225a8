// File: api/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stream is the capability set a service handler needs from its
// underlying connection: enough to read, write, connect, and shut down,
// without committing to plain TCP. A TLS-wrapped connection satisfies
// the same set, so supporting TLS reduces to supplying a different
// Stream implementation (spec.md §1, §9 design notes).

package api

import (
	"context"
	"net"
)

// Stream abstracts the socket operations a ServiceHandler drives.
type Stream interface {
	// Read behaves like net.Conn.Read.
	Read(b []byte) (int, error)
	// Write behaves like net.Conn.Write.
	Write(b []byte) (int, error)
	// Connect dials peer, optionally binding to local first.
	Connect(ctx context.Context, peer, local net.Addr) error
	// Shutdown half-closes both directions of the stream, best-effort.
	Shutdown() error
	// Close releases the underlying file descriptor.
	Close() error
	// LocalAddr and RemoteAddr mirror net.Conn.
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// StreamFactory creates a new, unconnected Stream. Handler pools use
// one factory per pool so that swapping plain TCP for TLS is a single
// constructor argument (spec.md §9 design notes).
type StreamFactory func() Stream
