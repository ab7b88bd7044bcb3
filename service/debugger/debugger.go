// Package debugger implements the session state machine on top of the
// transport: it tracks whether the remote virtual machine runs, keeps the
// last register and memory snapshots and mirrors the armed breakpoints.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/amxdbg/amxdbg/pkg/amx"
	"github.com/amxdbg/amxdbg/pkg/logflags"
	"github.com/amxdbg/amxdbg/pkg/transport"
	"github.com/amxdbg/amxdbg/pkg/wire"
	"github.com/amxdbg/amxdbg/service"
	"github.com/amxdbg/amxdbg/service/api"
)

// ErrRequestFailed is returned when the remote debugger answers a query
// with a failure outcome.
var ErrRequestFailed = errors.New("remote debugger refused the request")

// Transport is the part of *transport.Transport used by the Debugger.
type Transport interface {
	Addr() string
	Connect(ctx context.Context) error
	Connected() bool
	SendRequest(ctx context.Context, task wire.Task, apply transport.ApplyFunc) error
	SetNotificationHandler(notify transport.NotifyFunc, onError transport.ErrorFunc)
	Close() error
}

var _ service.Client = (*Debugger)(nil)

// Debugger is a session with a remote AMX debugger.
//
// Commands are serialized by cmdMu. The snapshots are guarded by stateMu
// alone, which is also the only lock taken by the notification handler:
// a command holds cmdMu while the transport waits for the listener to
// exit, so the listener must never need cmdMu.
type Debugger struct {
	tr  Transport
	log *logrus.Entry

	cmdMu sync.Mutex

	stateMu sync.RWMutex
	status  api.SessionStatus
	regs    amx.Registers
	mem     amx.MemoryRegion
	hasMem  bool
	bps     amx.BreakpointSet
	hits    int
	onEvent func(api.Event)
}

// New creates a Debugger using tr. The session starts Stopped with
// unobserved registers, no I/O is performed.
func New(tr Transport) *Debugger {
	d := &Debugger{
		tr:     tr,
		log:    logflags.DebuggerLogger(),
		status: api.Stopped,
		regs:   amx.InitialRegisters(),
		bps:    amx.NewBreakpointSet(),
	}
	tr.SetNotificationHandler(d.handleNotification, d.handleListenerError)
	return d
}

// Connect establishes the connection to the remote debugger.
func (d *Debugger) Connect(ctx context.Context) error {
	return d.tr.Connect(ctx)
}

// Connected reports whether the transport is connected.
func (d *Debugger) Connected() bool {
	return d.tr.Connected()
}

// Close closes the transport.
func (d *Debugger) Close() error {
	return d.tr.Close()
}

// Run resumes the virtual machine. It returns false without any I/O if
// the session is already running, and false with a nil error if the
// remote refused to run.
func (d *Debugger) Run(ctx context.Context) (bool, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if d.Status() == api.Running {
		d.log.Info("run: already running")
		return false, nil
	}

	started := false
	err := d.tr.SendRequest(ctx, wire.NewRun(), func(resp wire.Response) bool {
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		if resp.Outcome != wire.Success {
			d.log.Warn("run: refused by remote debugger")
			return false
		}
		d.status = api.Running
		started = true
		return true
	})
	if err != nil {
		return false, err
	}
	return started, nil
}

// Stop suspends the virtual machine by single stepping it. It returns
// false without any I/O if the session is already stopped.
func (d *Debugger) Stop(ctx context.Context) (bool, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if d.Status() == api.Stopped {
		d.log.Info("stop: already stopped")
		return false, nil
	}

	err := d.tr.SendRequest(ctx, wire.NewStepSingle(), func(resp wire.Response) bool {
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		d.status = api.Stopped
		d.applyRegisters(resp)
		return false
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// StepSingle executes one instruction. A running session is stopped.
func (d *Debugger) StepSingle(ctx context.Context) error {
	return d.step(ctx, wire.NewStepSingle())
}

// StepLine executes up to the next line. A running session is stopped.
func (d *Debugger) StepLine(ctx context.Context) error {
	return d.step(ctx, wire.NewStepLine())
}

func (d *Debugger) step(ctx context.Context, task wire.Task) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	return d.tr.SendRequest(ctx, task, func(resp wire.Response) bool {
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		if d.status == api.Running {
			d.log.Debugf("%s: forcing session to stopped", task)
		}
		d.status = api.Stopped
		if resp.Outcome != wire.Success {
			d.log.Warnf("%s: failure reported by remote debugger", task)
		}
		d.applyRegisters(resp)
		return false
	})
}

// BreakpointAdd arms a breakpoint at cip. The local mirror is only
// updated if the remote accepted it.
func (d *Debugger) BreakpointAdd(ctx context.Context, cip uint32) (bool, error) {
	return d.breakpoint(ctx, wire.NewBreakpointAdd(cip), func() {
		d.bps.Add(cip)
	})
}

// BreakpointRemove disarms the breakpoint at cip. The local mirror is
// only updated if the remote accepted it.
func (d *Debugger) BreakpointRemove(ctx context.Context, cip uint32) (bool, error) {
	return d.breakpoint(ctx, wire.NewBreakpointRemove(cip), func() {
		d.bps.Remove(cip)
	})
}

func (d *Debugger) breakpoint(ctx context.Context, task wire.Task, mirror func()) (bool, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	ok := false
	err := d.tr.SendRequest(ctx, task, func(resp wire.Response) bool {
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		d.applyRegisters(resp)
		if resp.Outcome == wire.Success {
			mirror()
			ok = true
		} else {
			d.log.Warnf("%s: refused by remote debugger", task)
		}
		return d.status == api.Running
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// QueryRegisters refreshes the register snapshot and returns it.
func (d *Debugger) QueryRegisters(ctx context.Context) (amx.Registers, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if regs := d.Registers(); d.Status() == api.Stopped && regs.Observed() {
		d.log.Debug("query registers: session is stopped, values cannot have changed")
	}

	var (
		regs   amx.Registers
		cmdErr error
	)
	task := wire.NewQueryRegisters()
	err := d.tr.SendRequest(ctx, task, func(resp wire.Response) bool {
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		if resp.Outcome != wire.Success || resp.Registers == nil {
			cmdErr = fmt.Errorf("%s: %w", task, ErrRequestFailed)
		} else {
			d.regs = *resp.Registers
		}
		regs = d.regs
		return d.status == api.Running
	})
	if err != nil {
		return amx.Registers{}, err
	}
	return regs, cmdErr
}

// QueryMemory replaces the memory snapshot with length cells starting at
// offset and returns it. A region read while running is marked volatile.
func (d *Debugger) QueryMemory(ctx context.Context, offset, length uint32) (amx.MemoryRegion, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	var (
		region amx.MemoryRegion
		cmdErr error
	)
	task := wire.NewQueryMemory(offset, length)
	err := d.tr.SendRequest(ctx, task, func(resp wire.Response) bool {
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		running := d.status == api.Running
		if resp.Outcome != wire.Success {
			cmdErr = fmt.Errorf("%s: %w", task, ErrRequestFailed)
			return running
		}
		if uint32(len(resp.Cells)) != length {
			d.log.Warnf("%s: got %d cells", task, len(resp.Cells))
		}
		d.mem = amx.MemoryRegion{
			Offset:   offset,
			Length:   uint32(len(resp.Cells)),
			Cells:    append([]byte(nil), resp.Cells...),
			Volatile: running,
		}
		d.hasMem = true
		region = d.mem
		return running
	})
	if err != nil {
		return amx.MemoryRegion{}, err
	}
	return region, cmdErr
}

// applyRegisters replaces the register snapshot with the one carried by
// resp, if any. Must be called with stateMu held.
func (d *Debugger) applyRegisters(resp wire.Response) {
	if resp.Registers != nil {
		d.regs = *resp.Registers
	}
}

// handleNotification runs on the listener goroutine for every
// breakpoint notification.
func (d *Debugger) handleNotification(resp wire.Response) {
	d.stateMu.Lock()
	d.applyRegisters(resp)
	d.hits++
	ev := api.Event{Kind: api.BreakpointHit, Registers: d.regs, Hits: d.hits}
	onEvent := d.onEvent
	d.stateMu.Unlock()

	d.log.Infof("breakpoint hit at %#x (hit %d)", ev.CIP(), ev.Hits)
	if onEvent != nil {
		onEvent(ev)
	}
}

func (d *Debugger) handleListenerError(err error) {
	d.stateMu.RLock()
	onEvent := d.onEvent
	d.stateMu.RUnlock()

	d.log.Errorf("notification listener lost: %v", err)
	if onEvent != nil {
		onEvent(api.Event{Kind: api.ListenerLost, Err: err})
	}
}

// SetEventHandler installs fn as the receiver of asynchronous events. fn
// runs on the listener goroutine and must not issue commands.
func (d *Debugger) SetEventHandler(fn func(api.Event)) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.onEvent = fn
}

// Status returns the last known execution status.
func (d *Debugger) Status() api.SessionStatus {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.status
}

// Registers returns the last register snapshot.
func (d *Debugger) Registers() amx.Registers {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.regs
}

// Memory returns the last memory snapshot.
func (d *Debugger) Memory() (amx.MemoryRegion, bool) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	region := d.mem
	region.Cells = append([]byte(nil), d.mem.Cells...)
	return region, d.hasMem
}

// Breakpoints returns the mirrored breakpoints in ascending order.
func (d *Debugger) Breakpoints() []uint32 {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.bps.Sorted()
}

// Hits returns the number of breakpoint notifications observed.
func (d *Debugger) Hits() int {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.hits
}

// State returns a summary of the session.
func (d *Debugger) State() api.State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return api.State{
		Status:      d.status,
		Connected:   d.tr.Connected(),
		Addr:        d.tr.Addr(),
		Breakpoints: d.bps.Sorted(),
		Hits:        d.hits,
	}
}
