// Package amxtest provides an in-process fake of the remote AMX debugger
// for tests. The fake accepts one connection at a time, answers every
// task like a tiny virtual machine would and can push breakpoint
// notifications at any moment.
package amxtest

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/amxdbg/amxdbg/pkg/amx"
	"github.com/amxdbg/amxdbg/pkg/wire"
)

const (
	// StepSize is how far StepSingle moves CIP.
	StepSize = 4
	// LineSize is how far StepLine moves CIP.
	LineSize = 12
)

// HandlerFunc overrides the default behavior of the stub for a task. If
// it returns ok == false the default behavior is used.
type HandlerFunc func(task wire.Task) (resp wire.Response, ok bool)

// Stub is a fake remote debugger listening on a loopback port.
type Stub struct {
	t  testing.TB
	ln net.Listener

	mu        sync.Mutex
	regs      amx.Registers
	memory    []byte
	running   bool
	bps       amx.BreakpointSet
	tasks     []wire.Task
	accepted  int
	answered  int
	conn      net.Conn
	refuseRun bool
	delay     time.Duration
	handler   HandlerFunc
	taskCh    chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewStub starts a stub on 127.0.0.1 and registers its shutdown with
// t.Cleanup.
func NewStub(t testing.TB) *Stub {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	s := &Stub{
		t:      t,
		ln:     ln,
		memory: make([]byte, 256),
		bps:    amx.NewBreakpointSet(),
		taskCh: make(chan struct{}, 1024),
	}
	for i := range s.regs {
		s.regs[i] = uint32(0x100 * (i + 1))
	}
	for i := range s.memory {
		s.memory[i] = byte(i)
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the address the stub listens on.
func (s *Stub) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting connections and closes the current one.
func (s *Stub) Close() {
	s.ln.Close()
	s.DropConnection()
	s.wg.Wait()
}

// DropConnection closes the current connection, if any.
func (s *Stub) DropConnection() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Stub) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.conn = conn
		s.mu.Unlock()
		s.serveConn(conn)
	}
}

func (s *Stub) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		task, err := wire.ReadTask(conn)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.tasks = append(s.tasks, task)
		delay := s.delay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		resp := s.handle(task)
		s.writeMu.Lock()
		err = wire.WriteResponse(conn, resp)
		s.writeMu.Unlock()
		s.mu.Lock()
		s.answered++
		s.mu.Unlock()
		select {
		case s.taskCh <- struct{}{}:
		default:
		}
		if err != nil {
			return
		}
	}
}

func (s *Stub) handle(task wire.Task) wire.Response {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		if resp, ok := handler(task); ok {
			return resp
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch task.Kind {
	case wire.QueryRegisters:
		return s.registersLocked(wire.Success)
	case wire.Run:
		if s.refuseRun || s.running {
			return wire.Response{Outcome: wire.Failure}
		}
		s.running = true
		return wire.Response{Outcome: wire.Success}
	case wire.StepSingle:
		s.running = false
		s.regs[amx.CIP] += StepSize
		return s.registersLocked(wire.Success)
	case wire.StepLine:
		s.running = false
		s.regs[amx.CIP] += LineSize
		return s.registersLocked(wire.Success)
	case wire.BreakpointAdd:
		s.bps.Add(task.InstructionPointer)
		return s.registersLocked(wire.Success)
	case wire.BreakpointRemove:
		if !s.bps.Remove(task.InstructionPointer) {
			return s.registersLocked(wire.Failure)
		}
		return s.registersLocked(wire.Success)
	case wire.QueryMemory:
		start, end := uint64(task.Offset), uint64(task.Offset)+uint64(task.Length)
		if end > uint64(len(s.memory)) {
			return wire.Response{Outcome: wire.Failure}
		}
		cells := make([]byte, end-start)
		copy(cells, s.memory[start:end])
		return wire.Response{Outcome: wire.Success, Cells: cells}
	}
	return wire.Response{Outcome: wire.Failure}
}

func (s *Stub) registersLocked(outcome wire.Outcome) wire.Response {
	regs := s.regs
	return wire.Response{Outcome: outcome, Registers: &regs}
}

// HitBreakpoint moves CIP to cip and pushes a breakpoint notification on
// the current connection.
func (s *Stub) HitBreakpoint(cip uint32) error {
	s.mu.Lock()
	s.regs[amx.CIP] = cip
	resp := s.registersLocked(wire.Success)
	s.mu.Unlock()
	return s.Notify(resp)
}

// Notify pushes an unsolicited response on the current connection.
func (s *Stub) Notify(resp wire.Response) error {
	return s.NotifySplit(resp, 0, 0)
}

// NotifySplit pushes an unsolicited response writing the first split
// bytes of the frame, waiting pause, then writing the rest. Responses to
// tasks are held back until the whole frame has been written.
func (s *Stub) NotifySplit(resp wire.Response, split int, pause time.Duration) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}
	frame := wire.AppendFrame(nil, resp.Marshal())
	if split <= 0 || split >= len(frame) {
		split = len(frame)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := conn.Write(frame[:split]); err != nil {
		return err
	}
	if split == len(frame) {
		return nil
	}
	time.Sleep(pause)
	_, err := conn.Write(frame[split:])
	return err
}

// WaitTasks waits until n tasks have been answered since the stub
// started.
func (s *Stub) WaitTasks(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		got := s.answered
		s.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-s.taskCh:
		case <-deadline:
			return false
		}
	}
}

// Tasks returns the tasks received so far.
func (s *Stub) Tasks() []wire.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Task(nil), s.tasks...)
}

// TaskKinds returns the kinds of the tasks received so far.
func (s *Stub) TaskKinds() []wire.TaskKind {
	tasks := s.Tasks()
	r := make([]wire.TaskKind, len(tasks))
	for i := range tasks {
		r[i] = tasks[i].Kind
	}
	return r
}

// Accepted returns the number of connections accepted so far.
func (s *Stub) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Running reports whether the fake virtual machine is running.
func (s *Stub) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Registers returns the register values of the fake virtual machine.
func (s *Stub) Registers() amx.Registers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs
}

// SetRegister changes a register of the fake virtual machine.
func (s *Stub) SetRegister(reg amx.Register, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg] = v
}

// SetMemory overwrites memory starting at offset, growing it if needed.
func (s *Stub) SetMemory(offset uint32, cells []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := int(offset) + len(cells)
	if end > len(s.memory) {
		s.memory = append(s.memory, make([]byte, end-len(s.memory))...)
	}
	copy(s.memory[offset:], cells)
}

// Breakpoints returns the breakpoints armed on the stub.
func (s *Stub) Breakpoints() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bps.Sorted()
}

// RefuseRun makes every Run task fail.
func (s *Stub) RefuseRun(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuseRun = refuse
}

// SetDelay delays every response by d.
func (s *Stub) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Handle installs a handler consulted before the default behavior.
func (s *Stub) Handle(h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}
