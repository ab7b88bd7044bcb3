// Package amx describes the state of a remote AMX virtual machine as seen
// by the debugger client: its registers, a window of its memory and the
// set of armed breakpoints.
//
// None of the values held here are interpreted. They are opaque numbers
// copied from the wire.
package amx

import (
	"fmt"
	"strings"
)

// Register identifies one of the registers of the AMX virtual machine.
// The numeric order of the constants is the display order.
type Register uint8

const (
	PRI Register = iota // primary register
	ALT                 // alternate register
	COD                 // code segment base
	DAT                 // data segment base
	HLW                 // heap low water mark
	HEA                 // current heap top
	STP                 // stack top
	STK                 // stack index
	FRM                 // frame pointer
	CIP                 // instruction pointer

	NumRegisters = int(CIP) + 1
)

// Unobserved is the value every register holds before the first snapshot
// arrives from the remote debugger.
const Unobserved uint32 = 0xDEADBEEF

var registerNames = [NumRegisters]string{"PRI", "ALT", "COD", "DAT", "HLW", "HEA", "STP", "STK", "FRM", "CIP"}

func (r Register) String() string {
	if int(r) < NumRegisters {
		return registerNames[r]
	}
	return fmt.Sprintf("Register(%d)", uint8(r))
}

// Special returns the wire index of r if it is one of the special
// registers (COD through CIP).
func (r Register) Special() (int, bool) {
	if r < COD || int(r) >= NumRegisters {
		return 0, false
	}
	return int(r - COD), true
}

// AllRegisters returns every register in display order.
func AllRegisters() []Register {
	r := make([]Register, NumRegisters)
	for i := range r {
		r[i] = Register(i)
	}
	return r
}

// SpecialRegisters returns the special registers ordered by wire index.
func SpecialRegisters() []Register {
	return AllRegisters()[COD:]
}

// ParseRegister looks up a register by name, ignoring case.
func ParseRegister(name string) (Register, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range registerNames {
		if n == name {
			return Register(i), nil
		}
	}
	return 0, fmt.Errorf("invalid register %q, available registers: %s", name, strings.Join(registerNames[:], ", "))
}

// Registers is a snapshot of all registers, indexed by Register.
type Registers [NumRegisters]uint32

// InitialRegisters returns a snapshot where every register holds
// Unobserved.
func InitialRegisters() Registers {
	var r Registers
	for i := range r {
		r[i] = Unobserved
	}
	return r
}

// Get returns the value of reg.
func (r *Registers) Get(reg Register) uint32 {
	return r[reg]
}

// Set changes the value of reg.
func (r *Registers) Set(reg Register, v uint32) {
	r[reg] = v
}

// Observed reports whether any register holds a value other than the
// Unobserved sentinel.
func (r *Registers) Observed() bool {
	for _, v := range r {
		if v != Unobserved {
			return true
		}
	}
	return false
}

func (r Registers) String() string {
	var b strings.Builder
	for i, v := range r {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%#x", Register(i), v)
	}
	return b.String()
}
