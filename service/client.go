package service

import (
	"context"

	"github.com/amxdbg/amxdbg/pkg/amx"
	"github.com/amxdbg/amxdbg/service/api"
)

// Client represents a session with a remote AMX debugger. Commands are
// synchronous and serialized, read accessors never perform I/O.
type Client interface {
	// Connect establishes the connection to the remote debugger if it
	// does not exist yet.
	Connect(ctx context.Context) error
	// Connected reports whether a connection is currently established.
	Connected() bool
	// Close stops the notification listener and closes the connection.
	Close() error

	// Run resumes the virtual machine. Returns false if it was already
	// running or the remote refused.
	Run(ctx context.Context) (bool, error)
	// Stop suspends the virtual machine. Returns false if it was already
	// stopped.
	Stop(ctx context.Context) (bool, error)
	// StepSingle executes a single instruction.
	StepSingle(ctx context.Context) error
	// StepLine executes up to the next source line.
	StepLine(ctx context.Context) error

	// BreakpointAdd arms a breakpoint at cip. Returns whether the remote
	// accepted it.
	BreakpointAdd(ctx context.Context, cip uint32) (bool, error)
	// BreakpointRemove disarms the breakpoint at cip. Returns whether the
	// remote accepted it.
	BreakpointRemove(ctx context.Context, cip uint32) (bool, error)

	// QueryRegisters refreshes the register snapshot.
	QueryRegisters(ctx context.Context) (amx.Registers, error)
	// QueryMemory refreshes the memory snapshot with length cells starting
	// at offset.
	QueryMemory(ctx context.Context, offset, length uint32) (amx.MemoryRegion, error)

	// Status returns the last known execution status.
	Status() api.SessionStatus
	// State returns a summary of the session.
	State() api.State
	// Registers returns the last register snapshot.
	Registers() amx.Registers
	// Memory returns the last memory snapshot, ok is false if memory was
	// never queried.
	Memory() (region amx.MemoryRegion, ok bool)
	// Breakpoints returns the armed breakpoints in ascending order.
	Breakpoints() []uint32
	// Hits returns the number of breakpoint notifications observed.
	Hits() int

	// SetEventHandler installs the function receiving asynchronous events.
	SetEventHandler(fn func(api.Event))
}
