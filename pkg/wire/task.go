// Package wire implements the message vocabulary spoken with the remote
// AMX debugger and the length prefixed framing that carries it.
//
// Requests (Task) and replies (Response) are protocol buffer messages.
// They are encoded by hand with protowire so that no generated code is
// needed:
//
//	message Task {
//	  Type type = 1;
//	  Breakpoint breakpoint = 2;     // { uint32 instruction_pointer = 1; }
//	  MemoryQuery memory_query = 3;  // { uint32 offset = 1; uint32 length = 2; }
//	}
//
//	message Response {
//	  Type type = 1;
//	  Registers registers = 2;         // { uint32 PRI = 1; ... uint32 CIP = 10; }
//	  MemoryRegion memory_region = 3;  // { bytes cells = 1; }
//	}
//
// Every message on the connection, in both directions, is preceded by its
// length as a 32 bit big endian integer.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// TaskKind is the type of a request.
type TaskKind int32

const (
	QueryRegisters TaskKind = iota
	Run
	StepSingle
	StepLine
	BreakpointAdd
	BreakpointRemove
	QueryMemory
)

var taskKindNames = map[TaskKind]string{
	QueryRegisters:   "QUERY_REGISTERS",
	Run:              "RUN",
	StepSingle:       "STEP_SINGLE",
	StepLine:         "STEP_LINE",
	BreakpointAdd:    "BREAKPOINT_ADD",
	BreakpointRemove: "BREAKPOINT_REMOVE",
	QueryMemory:      "QUERY_MEMORY",
}

func (k TaskKind) String() string {
	if s, ok := taskKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TaskKind(%d)", int32(k))
}

const (
	taskTypeField        protowire.Number = 1
	taskBreakpointField  protowire.Number = 2
	taskMemoryQueryField protowire.Number = 3

	breakpointIPField protowire.Number = 1

	memoryQueryOffsetField protowire.Number = 1
	memoryQueryLengthField protowire.Number = 2
)

// Task is a single request to the remote debugger. Build tasks with the
// constructor functions; a Task is never modified after construction.
type Task struct {
	Kind TaskKind

	// InstructionPointer is only meaningful for BreakpointAdd and
	// BreakpointRemove.
	InstructionPointer uint32

	// Offset and Length are only meaningful for QueryMemory.
	Offset uint32
	Length uint32
}

func NewQueryRegisters() Task { return Task{Kind: QueryRegisters} }
func NewRun() Task            { return Task{Kind: Run} }
func NewStepSingle() Task     { return Task{Kind: StepSingle} }
func NewStepLine() Task       { return Task{Kind: StepLine} }

func NewBreakpointAdd(cip uint32) Task {
	return Task{Kind: BreakpointAdd, InstructionPointer: cip}
}

func NewBreakpointRemove(cip uint32) Task {
	return Task{Kind: BreakpointRemove, InstructionPointer: cip}
}

func NewQueryMemory(offset, length uint32) Task {
	return Task{Kind: QueryMemory, Offset: offset, Length: length}
}

func (t Task) String() string {
	switch t.Kind {
	case BreakpointAdd, BreakpointRemove:
		return fmt.Sprintf("%s{cip=%#x}", t.Kind, t.InstructionPointer)
	case QueryMemory:
		return fmt.Sprintf("%s{offset=%#x length=%d}", t.Kind, t.Offset, t.Length)
	}
	return t.Kind.String()
}

// Marshal encodes t as a Task protocol buffer message.
func (t Task) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, taskTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Kind))

	switch t.Kind {
	case BreakpointAdd, BreakpointRemove:
		var bp []byte
		bp = appendUint32(bp, breakpointIPField, t.InstructionPointer)
		b = protowire.AppendTag(b, taskBreakpointField, protowire.BytesType)
		b = protowire.AppendBytes(b, bp)
	case QueryMemory:
		var mq []byte
		mq = appendUint32(mq, memoryQueryOffsetField, t.Offset)
		mq = appendUint32(mq, memoryQueryLengthField, t.Length)
		b = protowire.AppendTag(b, taskMemoryQueryField, protowire.BytesType)
		b = protowire.AppendBytes(b, mq)
	}
	return b
}

// UnmarshalTask decodes a Task message. It is the counterpart of Marshal
// used by stub implementations.
func UnmarshalTask(b []byte) (Task, error) {
	var t Task
	err := consumeFields(b, "task", func(num protowire.Number, typ protowire.Type, v uint64, sub []byte) error {
		switch num {
		case taskTypeField:
			t.Kind = TaskKind(v)
		case taskBreakpointField:
			return consumeFields(sub, "task.breakpoint", func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				if num == breakpointIPField {
					t.InstructionPointer = uint32(v)
				}
				return nil
			})
		case taskMemoryQueryField:
			return consumeFields(sub, "task.memory_query", func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				switch num {
				case memoryQueryOffsetField:
					t.Offset = uint32(v)
				case memoryQueryLengthField:
					t.Length = uint32(v)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	if _, ok := taskKindNames[t.Kind]; !ok {
		return Task{}, &ProtocolError{Context: "task", Reason: fmt.Sprintf("unknown task type %d", int32(t.Kind))}
	}
	return t, nil
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// consumeFields walks the fields of a message calling fn for each one. For
// varint fields v holds the value, for length delimited fields sub holds
// the payload. Fields of any other wire type are skipped.
func consumeFields(b []byte, context string, fn func(num protowire.Number, typ protowire.Type, v uint64, sub []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &ProtocolError{Context: context, Reason: "bad tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return &ProtocolError{Context: context, Reason: fmt.Sprintf("bad varint in field %d", num), Err: protowire.ParseError(n)}
			}
			b = b[n:]
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return &ProtocolError{Context: context, Reason: fmt.Sprintf("bad length delimited field %d", num), Err: protowire.ParseError(n)}
			}
			b = b[n:]
			if err := fn(num, typ, 0, sub); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return &ProtocolError{Context: context, Reason: fmt.Sprintf("bad field %d", num), Err: protowire.ParseError(n)}
			}
			b = b[n:]
		}
	}
	return nil
}
