// File: api/event.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event is the plain value type carried between paired handlers
// (spec.md §3, §4.6). It mirrors the C++ library's event_t but drops
// the any-typed payload in favor of a fixed numeric Value, which is
// what every call site in original_source/ actually uses it for.

package api

// State enumerates the kind of an Event.
type State uint

const (
	StateNone State = iota
	StateOpen
	StateRead
	StateWrite
	StateWriteRead
	StateClose
	StateNotify
	// StateUser is the base of the user-defined event range; values
	// StateUser+k are reserved for application-specific events.
	StateUser State = 1000
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateOpen:
		return "open"
	case StateRead:
		return "read"
	case StateWrite:
		return "write"
	case StateWriteRead:
		return "write_read"
	case StateClose:
		return "close"
	case StateNotify:
		return "notify"
	default:
		if s >= StateUser {
			return "user"
		}
		return "unknown"
	}
}

// Event is posted between a parent and child handler (spec.md §4.6).
type Event struct {
	State State
	Value uint64
	Err   error
}
