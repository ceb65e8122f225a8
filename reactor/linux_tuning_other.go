//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "syscall"

// TuneListenSocket is a no-op outside Linux; SO_REUSEADDR is already
// the net package's default on these platforms and SO_REUSEPORT has
// no portable equivalent worth reaching for here.
func TuneListenSocket(rc syscall.RawConn) error { return nil }

// TuneConnSocket is a no-op outside Linux.
func TuneConnSocket(rc syscall.RawConn) error { return nil }
