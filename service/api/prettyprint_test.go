package api

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/amxdbg/amxdbg/pkg/amx"
)

func TestPrettyExamineMemory(t *testing.T) {
	// Test whether always use the last addr's len to format when the lens of two adjacent address are different
	addr := uint32(0xffff)
	memArea := []byte("abcdefghijklmnopqrstuvwxyz")

	display := []string{
		"0x0ffff:   0141   0142   0143   0144   0145   0146   0147   0150   ",
		"0x10007:   0151   0152   0153   0154   0155   0156   0157   0160   ",
		"0x1000f:   0161   0162   0163   0164   0165   0166   0167   0170   ",
		"0x10017:   0171   0172"}
	res := strings.Split(strings.TrimSpace(PrettyExamineMemory(addr, memArea, 'o')), "\n")

	if len(display) != len(res) {
		t.Fatalf("wrong lines return, expected %d but got %d", len(display), len(res))
	}

	for i := 0; i < len(display); i++ {
		if display[i] != res[i] {
			errInfo := fmt.Sprintf("wrong display return at line %d\n", i+1)
			errInfo += fmt.Sprintf("expected:\n   %q\n", display[i])
			errInfo += fmt.Sprintf("but got:\n   %q\n", res[i])
			t.Fatal(errInfo)
		}
	}
}

func TestPrettyExamineMemoryHex(t *testing.T) {
	memArea := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	res := strings.Split(strings.TrimSpace(PrettyExamineMemory(0, memArea, 'x')), "\n")
	expected := []string{
		"0x0:   0x00   0x01   0x02   0x03   0x04   0x05   0x06   0x07   ",
		"0x8:   0x08   0x09",
	}
	if len(res) != len(expected) {
		t.Fatalf("expected %d lines, got %d: %q", len(expected), len(res), res)
	}
	for i := range expected {
		if res[i] != expected[i] {
			t.Errorf("line %d: expected %q got %q", i, expected[i], res[i])
		}
	}
}

func TestPrettyExamineMemoryFormats(t *testing.T) {
	tests := []struct {
		format byte
		want   string
	}{
		{'b', "0x0:   00001010"},
		{'d', "0x0:   010"},
		{'x', "0x0:   0x0a"},
		{'o', "0x0:   0012"},
	}
	for _, tt := range tests {
		got := strings.TrimSpace(PrettyExamineMemory(0, []byte{10}, tt.format))
		if got != tt.want {
			t.Errorf("format %q: expected %q got %q", tt.format, tt.want, got)
		}
	}
	if got := PrettyExamineMemory(0, []byte{1}, 'q'); !strings.HasPrefix(got, "not supported format") {
		t.Errorf("unexpected output for unknown format: %q", got)
	}
}

func TestPrettyRegisters(t *testing.T) {
	regs := amx.InitialRegisters()
	regs.Set(amx.CIP, 0x1234)
	var buf bytes.Buffer
	PrettyRegisters(&buf, regs, nil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != amx.NumRegisters {
		t.Fatalf("expected %d lines, got %d", amx.NumRegisters, len(lines))
	}
	if lines[0] != "PRI: 0xDEADBEEF" {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if lines[amx.NumRegisters-1] != "CIP: 0x001234" {
		t.Errorf("unexpected last line %q", lines[amx.NumRegisters-1])
	}

	buf.Reset()
	PrettyRegister(&buf, amx.ALT, 7, func(s string) string { return "<" + s + ">" })
	if got := buf.String(); got != "<ALT>: 0x000007\n" {
		t.Errorf("unexpected colorized register %q", got)
	}
}

func TestFormatBreakpoints(t *testing.T) {
	if got := FormatBreakpoints(nil); got != "none" {
		t.Errorf("expected none, got %q", got)
	}
	if got := FormatBreakpoints([]uint32{0x10, 0x2a}); got != "0x10, 0x2A" {
		t.Errorf("unexpected list %q", got)
	}
}

func TestSessionStatusString(t *testing.T) {
	if Stopped.String() != "stopped" || Running.String() != "running" {
		t.Errorf("unexpected status names %q %q", Stopped, Running)
	}
}
