package api

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/amxdbg/amxdbg/pkg/amx"
)

const (
	// StaleRegistersNote is printed under a snapshot taken before the
	// virtual machine was resumed.
	StaleRegistersNote = "(Those are last known values)"
	// VolatileRegistersNote is printed under a snapshot queried while the
	// virtual machine runs.
	VolatileRegistersNote = "(Will change in a microsecond, don't get too attached)"
)

// PrettyRegister writes a single register as NAME: 0x000000. If colorize
// is not nil it is applied to the register name.
func PrettyRegister(w io.Writer, reg amx.Register, v uint32, colorize func(string) string) {
	name := reg.String()
	if colorize != nil {
		name = colorize(name)
	}
	fmt.Fprintf(w, "%s: 0x%06X\n", name, v)
}

// PrettyRegisters writes every register in display order.
func PrettyRegisters(w io.Writer, regs amx.Registers, colorize func(string) string) {
	for _, reg := range amx.AllRegisters() {
		PrettyRegister(w, reg, regs.Get(reg), colorize)
	}
}

// PrettyExamineMemory formats memArea as rows of cells starting at address.
// Format is one of 'x' (hex), 'd' (decimal), 'o' (octal) or 'b' (binary).
func PrettyExamineMemory(address uint32, memArea []byte, format byte) string {
	var (
		cols      int
		colFormat string
	)

	switch format {
	case 'b':
		cols = 4
		colFormat = "%08b"
	case 'o':
		cols = 8
		colFormat = "0%03o" // always keep one leading zero for octal
	case 'd':
		cols = 8
		colFormat = "%03d"
	case 'x':
		cols = 8
		colFormat = "0x%02x"
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(memArea)
	rows := l / cols
	if l%cols != 0 {
		rows++
	}

	// use the width of the last address so that every row lines up
	addrLen := 0
	if l != 0 {
		addrLen = len(fmt.Sprintf("%x", uint64(address)+uint64(l)))
	}
	addrFmt := "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	addr := uint64(address)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, addrFmt, addr)
		for j := 0; j < cols; j++ {
			offset := i*cols + j
			if offset < l {
				fmt.Fprintf(w, colFormat, memArea[offset])
			}
		}
		fmt.Fprintln(w, "")
		addr += uint64(cols)
	}
	w.Flush()
	return b.String()
}

// FormatBreakpoints returns a comma separated list of breakpoint
// addresses, or "none".
func FormatBreakpoints(bps []uint32) string {
	if len(bps) == 0 {
		return "none"
	}
	s := make([]string, len(bps))
	for i, bp := range bps {
		s[i] = fmt.Sprintf("0x%X", bp)
	}
	return strings.Join(s, ", ")
}
