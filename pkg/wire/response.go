package wire

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/amxdbg/amxdbg/pkg/amx"
)

// Outcome is the result carried by every response.
type Outcome int32

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	}
	return fmt.Sprintf("Outcome(%d)", int32(o))
}

const (
	responseTypeField         protowire.Number = 1
	responseRegistersField    protowire.Number = 2
	responseMemoryRegionField protowire.Number = 3

	memoryRegionCellsField protowire.Number = 1
)

// Response is the reply to a Task, or an unsolicited notification sent
// while the virtual machine runs (a breakpoint was hit).
type Response struct {
	Outcome Outcome

	// Registers is nil unless the message carried a register snapshot.
	Registers *amx.Registers

	// Cells is nil unless the message carried a memory region.
	Cells []byte
}

// HasMemory reports whether the message carried a memory region. An empty
// region is still a region.
func (r *Response) HasMemory() bool {
	return r.Cells != nil
}

func (r Response) String() string {
	var b strings.Builder
	b.WriteString(r.Outcome.String())
	if r.Registers != nil {
		fmt.Fprintf(&b, " registers{%s}", r.Registers)
	}
	if r.Cells != nil {
		fmt.Fprintf(&b, " memory{%d cells}", len(r.Cells))
	}
	return b.String()
}

// Marshal encodes r as a Response protocol buffer message.
func (r Response) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, responseTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Outcome))
	if r.Registers != nil {
		var regs []byte
		for i, v := range r.Registers {
			regs = appendUint32(regs, protowire.Number(i+1), v)
		}
		b = protowire.AppendTag(b, responseRegistersField, protowire.BytesType)
		b = protowire.AppendBytes(b, regs)
	}
	if r.Cells != nil {
		var mem []byte
		mem = protowire.AppendTag(mem, memoryRegionCellsField, protowire.BytesType)
		mem = protowire.AppendBytes(mem, r.Cells)
		b = protowire.AppendTag(b, responseMemoryRegionField, protowire.BytesType)
		b = protowire.AppendBytes(b, mem)
	}
	return b
}

// UnmarshalResponse decodes a Response message. Register fields missing
// from a snapshot decode as zero, like any other proto3 scalar.
func UnmarshalResponse(b []byte) (Response, error) {
	var r Response
	err := consumeFields(b, "response", func(num protowire.Number, typ protowire.Type, v uint64, sub []byte) error {
		switch num {
		case responseTypeField:
			r.Outcome = Outcome(v)
		case responseRegistersField:
			regs := new(amx.Registers)
			err := consumeFields(sub, "response.registers", func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				if num >= 1 && int(num) <= amx.NumRegisters {
					regs.Set(amx.Register(num-1), uint32(v))
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Registers = regs
		case responseMemoryRegionField:
			cells := []byte{}
			err := consumeFields(sub, "response.memory_region", func(num protowire.Number, typ protowire.Type, v uint64, data []byte) error {
				if num == memoryRegionCellsField && typ == protowire.BytesType {
					cells = append(cells, data...)
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Cells = cells
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	if r.Outcome != Success && r.Outcome != Failure {
		return Response{}, &ProtocolError{Context: "response", Reason: fmt.Sprintf("unknown response type %d", int32(r.Outcome))}
	}
	return r, nil
}
