package amx

import "fmt"

// MemoryRegion is a window of the data segment of the virtual machine,
// as returned by a single memory query.
type MemoryRegion struct {
	Offset uint32
	Length uint32
	Cells  []byte

	// Volatile is true when the region was read while the virtual machine
	// was running.
	Volatile bool
}

// End returns the offset one past the last cell requested.
func (m *MemoryRegion) End() uint64 {
	return uint64(m.Offset) + uint64(m.Length)
}

// Contains reports whether addr falls inside the cells that were
// actually returned.
func (m *MemoryRegion) Contains(addr uint32) bool {
	return addr >= m.Offset && uint64(addr) < uint64(m.Offset)+uint64(len(m.Cells))
}

// At returns the cell at absolute address addr.
func (m *MemoryRegion) At(addr uint32) (byte, bool) {
	if !m.Contains(addr) {
		return 0, false
	}
	return m.Cells[addr-m.Offset], true
}

func (m MemoryRegion) String() string {
	return fmt.Sprintf("memory[%#x:%#x] (%d cells)", m.Offset, m.End(), len(m.Cells))
}
