package amx

import "testing"

func TestRegisterOrder(t *testing.T) {
	want := []string{"PRI", "ALT", "COD", "DAT", "HLW", "HEA", "STP", "STK", "FRM", "CIP"}
	regs := AllRegisters()
	if len(regs) != len(want) {
		t.Fatalf("expected %d registers, got %d", len(want), len(regs))
	}
	for i, r := range regs {
		if r.String() != want[i] {
			t.Errorf("register %d: expected %s, got %s", i, want[i], r)
		}
	}
}

func TestSpecialRegisters(t *testing.T) {
	for _, r := range []Register{PRI, ALT} {
		if _, ok := r.Special(); ok {
			t.Errorf("%s should not be special", r)
		}
	}
	for i, r := range SpecialRegisters() {
		idx, ok := r.Special()
		if !ok || idx != i {
			t.Errorf("%s: expected special index %d, got %d (%v)", r, i, idx, ok)
		}
	}
	if idx, _ := CIP.Special(); idx != 7 {
		t.Errorf("CIP index: expected 7, got %d", idx)
	}
}

func TestParseRegister(t *testing.T) {
	tests := []struct {
		in  string
		out Register
		err bool
	}{
		{"pri", PRI, false},
		{"CIP", CIP, false},
		{" Frm ", FRM, false},
		{"rip", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		r, err := ParseRegister(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("%q: expected error, got %s", tc.in, r)
			}
			continue
		}
		if err != nil || r != tc.out {
			t.Errorf("%q: expected %s, got %s (%v)", tc.in, tc.out, r, err)
		}
	}
}

func TestInitialRegisters(t *testing.T) {
	regs := InitialRegisters()
	if regs.Observed() {
		t.Fatal("initial snapshot should not be observed")
	}
	regs.Set(CIP, 0x80)
	if !regs.Observed() || regs.Get(CIP) != 0x80 {
		t.Fatalf("unexpected snapshot %v", regs)
	}
}

func TestMemoryRegion(t *testing.T) {
	m := MemoryRegion{Offset: 0x10, Length: 4, Cells: []byte{1, 2, 3}}
	if b, ok := m.At(0x12); !ok || b != 3 {
		t.Errorf("At(0x12): got %d %v", b, ok)
	}
	if _, ok := m.At(0x13); ok {
		t.Error("At(0x13) should be outside the returned cells")
	}
	if _, ok := m.At(0xf); ok {
		t.Error("At(0xf) should be before the region")
	}
	if m.End() != 0x14 {
		t.Errorf("End: got %#x", m.End())
	}
}

func TestBreakpointSet(t *testing.T) {
	var s BreakpointSet
	if !s.Add(0x80) || !s.Add(0x10) || s.Add(0x80) {
		t.Fatal("unexpected Add results")
	}
	if got := s.Sorted(); len(got) != 2 || got[0] != 0x10 || got[1] != 0x80 {
		t.Fatalf("Sorted: got %v", got)
	}
	if !s.Remove(0x10) || s.Remove(0x10) || s.Has(0x10) || s.Len() != 1 {
		t.Fatal("unexpected Remove results")
	}
}
