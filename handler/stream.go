// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// tcpStream is the plain-TCP api.Stream implementation. It is the
// default StreamFactory product; a TLS stream satisfying the same
// api.Stream (and Attacher) interfaces is a drop-in replacement
// (spec.md §9 design notes). Grounded on the teacher's
// internal/transport/transport_linux.go for TCP_NODELAY tuning via
// golang.org/x/sys/unix, wired here through reactor.TuneConnSocket.
package handler

import (
	"context"
	"net"

	"github.com/momentics/bas-go/api"
	"github.com/momentics/bas-go/reactor"
)

// Attacher is implemented by server-side streams that accept an
// already-established net.Conn instead of dialing one (spec.md
// §4.4: the acceptor binds a fresh handler before the accept
// completes, then hands the accepted connection to its stream).
type Attacher interface {
	Attach(conn net.Conn) error
}

type tcpStream struct {
	conn net.Conn
}

// NewTCPStreamFactory returns a factory producing unconnected plain
// TCP streams, suitable for both client.Connector (dials on Connect)
// and server.Acceptor (binds via Attach).
func NewTCPStreamFactory() api.StreamFactory {
	return func() api.Stream { return &tcpStream{} }
}

func (s *tcpStream) Attach(conn net.Conn) error {
	s.conn = conn
	if tc, ok := conn.(*net.TCPConn); ok {
		if rc, err := tc.SyscallConn(); err == nil {
			_ = reactor.TuneConnSocket(rc)
		}
	}
	return nil
}

func (s *tcpStream) Read(b []byte) (int, error) {
	return s.conn.Read(b)
}

func (s *tcpStream) Write(b []byte) (int, error) {
	return s.conn.Write(b)
}

func (s *tcpStream) Connect(ctx context.Context, peer, local net.Addr) error {
	dialer := net.Dialer{}
	if local != nil {
		dialer.LocalAddr = local
	}
	network := "tcp"
	if peer != nil {
		network = peer.Network()
	}
	conn, err := dialer.DialContext(ctx, network, peer.String())
	if err != nil {
		return err
	}
	return s.Attach(conn)
}

func (s *tcpStream) Shutdown() error {
	if s.conn == nil {
		return nil
	}
	if tc, ok := s.conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return err
		}
		return tc.CloseRead()
	}
	return nil
}

func (s *tcpStream) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *tcpStream) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *tcpStream) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}
