//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux-specific listen-socket tuning applied by server.Acceptor to
// the listen socket once net.ListenTCP has bound it and started
// listening (spec.md §4.4: "Listens ... with SO_REUSEADDR"); the
// SO_REUSEADDR in force at bind time is the one the net package sets
// on Linux listeners by default.
// Grounded on the teacher's internal/transport/transport_linux.go,
// which reaches for golang.org/x/sys/unix for the same family of
// socket options (TCP_NODELAY there, SO_REUSEADDR/SO_REUSEPORT here).

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// TuneListenSocket sets SO_REUSEADDR (always) and best-effort
// SO_REUSEPORT (ignored if the kernel rejects it) on the raw fd
// backing a *net.TCPListener, via the syscall.RawConn Control hook.
func TuneListenSocket(rc syscall.RawConn) error {
	var ctrlErr error
	err := rc.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if ctrlErr != nil {
			return
		}
		// SO_REUSEPORT is a best-effort optimization for multi-acceptor
		// fan-out; some kernels/namespaces disallow it, which should not
		// fail the whole listen.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// TuneConnSocket sets TCP_NODELAY on an accepted/connected socket, so
// small writes (e.g. a handler's async_write of a short reply) are
// not held back by the Nagle algorithm.
func TuneConnSocket(rc syscall.RawConn) error {
	var ctrlErr error
	err := rc.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
