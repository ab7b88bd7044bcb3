package debugger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amxdbg/amxdbg/pkg/amx"
	"github.com/amxdbg/amxdbg/pkg/amx/amxtest"
	"github.com/amxdbg/amxdbg/pkg/transport"
	"github.com/amxdbg/amxdbg/pkg/wire"
	"github.com/amxdbg/amxdbg/service/api"
)

func startSession(t *testing.T) (*Debugger, *amxtest.Stub) {
	t.Helper()
	stub := amxtest.NewStub(t)
	d := New(transport.New(transport.Config{Addr: stub.Addr(), PollInterval: 10 * time.Millisecond}))
	t.Cleanup(func() { d.Close() })
	return d, stub
}

// fakeTransport answers every request with resp, or fails with err.
type fakeTransport struct {
	resp     wire.Response
	err      error
	requests int
}

func (f *fakeTransport) Addr() string                      { return "fake" }
func (f *fakeTransport) Connect(ctx context.Context) error { return f.err }
func (f *fakeTransport) Connected() bool                   { return f.err == nil }
func (f *fakeTransport) Close() error                      { return nil }
func (f *fakeTransport) SetNotificationHandler(transport.NotifyFunc, transport.ErrorFunc) {
}

func (f *fakeTransport) SendRequest(ctx context.Context, task wire.Task, apply transport.ApplyFunc) error {
	f.requests++
	if f.err != nil {
		return f.err
	}
	if apply != nil {
		apply(f.resp)
	}
	return nil
}

func TestInitialState(t *testing.T) {
	d := New(&fakeTransport{})
	require.Equal(t, api.Stopped, d.Status())
	regs := d.Registers()
	require.False(t, regs.Observed())
	require.Equal(t, amx.Unobserved, regs.Get(amx.CIP))
	_, ok := d.Memory()
	require.False(t, ok)
	require.Empty(t, d.Breakpoints())
	require.Equal(t, 0, d.Hits())
}

func TestRunAndStop(t *testing.T) {
	d, stub := startSession(t)
	ctx := context.Background()
	start := stub.Registers()

	ok, err := d.Run(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, api.Running, d.Status())
	require.True(t, stub.Running())

	ok, err = d.Run(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second run should report already running")
	require.Len(t, stub.Tasks(), 1)

	ok, err = d.Stop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, api.Stopped, d.Status())
	regs := d.Registers()
	require.Equal(t, start.Get(amx.CIP)+amxtest.StepSize, regs.Get(amx.CIP))

	ok, err = d.Stop(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second stop should report already stopped")
	require.Equal(t, []wire.TaskKind{wire.Run, wire.StepSingle}, stub.TaskKinds())
}

func TestRunRefused(t *testing.T) {
	d, stub := startSession(t)
	stub.RefuseRun(true)

	ok, err := d.Run(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, api.Stopped, d.Status())
}

func TestStepLeavesSessionStopped(t *testing.T) {
	d, stub := startSession(t)
	ctx := context.Background()
	start := stub.Registers()

	require.NoError(t, d.StepSingle(ctx))
	require.Equal(t, api.Stopped, d.Status())

	_, err := d.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, api.Running, d.Status())

	require.NoError(t, d.StepLine(ctx))
	require.Equal(t, api.Stopped, d.Status())
	regs := d.Registers()
	require.Equal(t, start.Get(amx.CIP)+amxtest.StepSize+amxtest.LineSize, regs.Get(amx.CIP))
	require.Equal(t, []wire.TaskKind{wire.StepSingle, wire.Run, wire.StepLine}, stub.TaskKinds())
}

func TestBreakpointMirror(t *testing.T) {
	d, stub := startSession(t)
	ctx := context.Background()

	ok, err := d.BreakpointAdd(ctx, 0x40)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.BreakpointAdd(ctx, 0x20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []uint32{0x20, 0x40}, d.Breakpoints())
	require.Equal(t, []uint32{0x20, 0x40}, stub.Breakpoints())

	// the stub refuses to remove a breakpoint it does not have
	ok, err = d.BreakpointRemove(ctx, 0x80)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []uint32{0x20, 0x40}, d.Breakpoints())

	ok, err = d.BreakpointRemove(ctx, 0x40)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []uint32{0x20}, d.Breakpoints())

	regs := d.Registers()
	require.True(t, regs.Observed())
}

func TestQueryMemory(t *testing.T) {
	d, stub := startSession(t)
	ctx := context.Background()
	want := []byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6}
	stub.SetMemory(0, want)

	region, err := d.QueryMemory(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, want, region.Cells)
	require.Equal(t, uint32(0), region.Offset)
	require.Equal(t, uint32(10), region.Length)
	require.False(t, region.Volatile)

	got, ok := d.Memory()
	require.True(t, ok)
	require.Equal(t, region, got)

	// out of range, the snapshot is left untouched
	_, err = d.QueryMemory(ctx, 1000, 10)
	require.True(t, errors.Is(err, ErrRequestFailed), "got %v", err)
	got, _ = d.Memory()
	require.Equal(t, want, got.Cells)

	_, err = d.Run(ctx)
	require.NoError(t, err)
	region, err = d.QueryMemory(ctx, 4, 2)
	require.NoError(t, err)
	require.True(t, region.Volatile)
	require.Equal(t, []byte{1, 2}, region.Cells)
	require.Equal(t, api.Running, d.Status())
}

func TestQueryRegisters(t *testing.T) {
	d, stub := startSession(t)
	stub.SetRegister(amx.FRM, 0x1234)

	regs, err := d.QueryRegisters(context.Background())
	require.NoError(t, err)
	require.Equal(t, stub.Registers(), regs)
	require.Equal(t, uint32(0x1234), regs.Get(amx.FRM))
	require.Equal(t, regs, d.Registers())

	// stopped with an observed snapshot, the query still goes out
	stub.SetRegister(amx.FRM, 0x5678)
	regs, err = d.QueryRegisters(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(0x5678), regs.Get(amx.FRM))
}

func TestQueryMemoryShortReply(t *testing.T) {
	ft := &fakeTransport{resp: wire.Response{Outcome: wire.Success, Cells: []byte{7, 8}}}
	d := New(ft)

	region, err := d.QueryMemory(context.Background(), 0x10, 10)
	require.NoError(t, err)
	require.Equal(t, uint32(0x10), region.Offset)
	require.Equal(t, uint32(2), region.Length)
	require.Equal(t, []byte{7, 8}, region.Cells)
	got, ok := d.Memory()
	require.True(t, ok)
	require.Equal(t, uint32(len(got.Cells)), got.Length)
}

func TestBreakpointNotification(t *testing.T) {
	d, stub := startSession(t)
	ctx := context.Background()

	events := make(chan api.Event, 1)
	d.SetEventHandler(func(ev api.Event) { events <- ev })

	ok, err := d.Run(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stub.HitBreakpoint(0x200))
	select {
	case ev := <-events:
		require.Equal(t, api.BreakpointHit, ev.Kind)
		require.Equal(t, uint32(0x200), ev.CIP())
		require.Equal(t, 1, ev.Hits)
	case <-time.After(5 * time.Second):
		t.Fatal("breakpoint notification not delivered")
	}
	require.Equal(t, 1, d.Hits())
	require.Equal(t, api.Running, d.Status())
	regs := d.Registers()
	require.Equal(t, uint32(0x200), regs.Get(amx.CIP))

	require.NoError(t, d.StepSingle(ctx))
	require.Equal(t, api.Stopped, d.Status())
	regs = d.Registers()
	require.Equal(t, uint32(0x200+amxtest.StepSize), regs.Get(amx.CIP))
	require.Equal(t, []wire.TaskKind{wire.Run, wire.StepSingle}, stub.TaskKinds())
}

func TestListenerLost(t *testing.T) {
	d, stub := startSession(t)

	events := make(chan api.Event, 1)
	d.SetEventHandler(func(ev api.Event) { events <- ev })
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	stub.DropConnection()
	select {
	case ev := <-events:
		require.Equal(t, api.ListenerLost, ev.Kind)
		require.True(t, transport.IsOffline(ev.Err), "got %v", ev.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener error not reported")
	}
	require.Equal(t, api.Running, d.Status())
}

func TestOfflineLeavesStateUnchanged(t *testing.T) {
	regs := amx.InitialRegisters()
	regs.Set(amx.CIP, 0x10)
	ft := &fakeTransport{resp: wire.Response{Outcome: wire.Success, Registers: &regs}}
	d := New(ft)
	ctx := context.Background()

	ok, err := d.Run(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = d.BreakpointAdd(ctx, 0x10)
	require.NoError(t, err)
	before := d.Registers()

	ft.err = &transport.OfflineError{Op: "send", Addr: "fake", WasConnected: true, Err: errors.New("reset")}

	require.True(t, transport.IsOffline(d.StepSingle(ctx)))
	_, err = d.BreakpointRemove(ctx, 0x10)
	require.True(t, transport.IsOffline(err))
	_, err = d.QueryMemory(ctx, 0, 10)
	require.True(t, transport.IsOffline(err))
	_, err = d.QueryRegisters(ctx)
	require.True(t, transport.IsOffline(err))
	ok, err = d.Stop(ctx)
	require.True(t, transport.IsOffline(err))
	require.False(t, ok)

	require.Equal(t, api.Running, d.Status())
	require.Equal(t, before, d.Registers())
	require.Equal(t, []uint32{0x10}, d.Breakpoints())
	_, hasMem := d.Memory()
	require.False(t, hasMem)
}

func TestRunOffline(t *testing.T) {
	ft := &fakeTransport{err: &transport.OfflineError{Op: "connect", Addr: "fake", Attempts: 3}}
	d := New(ft)

	ok, err := d.Run(context.Background())
	require.False(t, ok)
	require.True(t, errors.Is(err, transport.ErrDebuggerOffline))
	require.Equal(t, api.Stopped, d.Status())
	require.Equal(t, 1, ft.requests)
}
