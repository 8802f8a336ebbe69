package vmsched

import (
	"strings"
	"testing"
)

func TestRegisterConstants(t *testing.T) {
	if NumRegs != 34 {
		t.Errorf("NumRegs = %d, want 34", NumRegs)
	}
	if RegFP != 29 || RegLR != 30 {
		t.Errorf("RegFP/RegLR = %d/%d, want 29/30", RegFP, RegLR)
	}

	names := make(map[string]bool)
	for r := RegX0; r <= RegCPSR; r++ {
		name := r.String()
		if names[name] {
			t.Errorf("duplicate register name %q", name)
		}
		names[name] = true
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	testRegs := []struct {
		reg   Reg
		value uint64
	}{
		{RegX0, 0x1234567890abcdef},
		{RegX1, 0x0},
		{RegX2, 0xffffffffffffffff},
		{RegX3, 0x5a5a5a5a5a5a5a5a},
		{RegSP, 0x80000},
		{RegPC, 0x4000},
		{RegCPSR, 0x3c5},
	}

	var regs Regs
	for _, test := range testRegs {
		t.Run(test.reg.String(), func(t *testing.T) {
			if err := regs.Set(test.reg, test.value); err != nil {
				t.Fatalf("Set(%v, 0x%x) failed: %v", test.reg, test.value, err)
			}
			got, err := regs.Get(test.reg)
			if err != nil {
				t.Fatalf("Get(%v) failed: %v", test.reg, err)
			}
			if got != test.value {
				t.Errorf("Get(%v) = 0x%x, want 0x%x", test.reg, got, test.value)
			}
		})
	}
}

func TestInvalidRegister(t *testing.T) {
	var regs Regs
	for _, r := range []Reg{-1, RegCPSR + 1, 100} {
		if _, err := regs.Get(r); err == nil {
			t.Errorf("Get(%d) succeeded", r)
		}
		if err := regs.Set(r, 1); err == nil {
			t.Errorf("Set(%d) succeeded", r)
		}
	}
}

func TestRegBatch(t *testing.T) {
	var regs Regs
	in := RegBatch{RegX0: 1, RegLR: 0x4010, RegPC: 0x4000}
	if err := regs.Apply(in); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	out, err := regs.Batch(RegX0, RegLR, RegPC)
	if err != nil {
		t.Fatalf("Batch() failed: %v", err)
	}
	for reg, want := range in {
		if out[reg] != want {
			t.Errorf("Batch()[%v] = 0x%x, want 0x%x", reg, out[reg], want)
		}
	}

	if _, err := regs.Batch(RegX0, Reg(99)); err == nil {
		t.Error("Batch() with an invalid register succeeded")
	}
}

func TestRegsFormat(t *testing.T) {
	var regs Regs
	_ = regs.Set(RegPC, 0x4000)
	_ = regs.Set(RegX5, 0x55)

	short := regs.Format(VerboseLevel0)
	if !strings.Contains(short, "PC=0x4000") || strings.Contains(short, "X5=") {
		t.Errorf("Format(VerboseLevel0) = %q", short)
	}
	full := regs.Format(VerboseAll)
	if !strings.Contains(full, "X5=0x55") || !strings.Contains(full, "LR=") {
		t.Errorf("Format(VerboseAll) = %q", full)
	}
}

func TestRegsAccessors(t *testing.T) {
	var regs Regs
	_ = regs.Apply(RegBatch{RegPC: 0x4000, RegSP: 0x80000})
	if regs.PC() != 0x4000 {
		t.Errorf("PC() = 0x%x, want 0x4000", regs.PC())
	}
	if regs.SP() != 0x80000 {
		t.Errorf("SP() = 0x%x, want 0x80000", regs.SP())
	}
}
