package api

import (
	"fmt"

	"github.com/amxdbg/amxdbg/pkg/amx"
)

// SessionStatus is the last known execution status of the remote virtual
// machine.
type SessionStatus uint8

const (
	// Stopped means the virtual machine is suspended and the register
	// snapshot is current.
	Stopped SessionStatus = iota
	// Running means the virtual machine executes freely, snapshots are
	// stale.
	Running
)

func (s SessionStatus) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	}
	return fmt.Sprintf("SessionStatus(%d)", uint8(s))
}

// EventKind identifies an asynchronous event reported by a session.
type EventKind uint8

const (
	// BreakpointHit is reported for every notification received while the
	// virtual machine runs.
	BreakpointHit EventKind = iota
	// ListenerLost is reported when the notification listener stopped
	// because of a connection error.
	ListenerLost
)

func (k EventKind) String() string {
	switch k {
	case BreakpointHit:
		return "breakpoint hit"
	case ListenerLost:
		return "listener lost"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is an asynchronous event reported by a session. Events are
// delivered on the listener goroutine.
type Event struct {
	Kind EventKind
	// Registers carried by a breakpoint notification.
	Registers amx.Registers
	// Hits is the number of notifications observed so far, this one
	// included.
	Hits int
	// Err is the error that stopped the listener.
	Err error
}

// CIP returns the instruction pointer carried by the event.
func (ev Event) CIP() uint32 {
	return ev.Registers.Get(amx.CIP)
}

// State summarizes a session for display.
type State struct {
	Status      SessionStatus
	Connected   bool
	Addr        string
	Breakpoints []uint32
	Hits        int
}
