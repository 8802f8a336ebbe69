package vmsched

import (
	"fmt"
	"strings"
)

// Reg represents an ARM64 general/system register in a guest register block.
type Reg int

const (
	RegX0 Reg = iota
	RegX1
	RegX2
	RegX3
	RegX4
	RegX5
	RegX6
	RegX7
	RegX8
	RegX9
	RegX10
	RegX11
	RegX12
	RegX13
	RegX14
	RegX15
	RegX16
	RegX17
	RegX18
	RegX19
	RegX20
	RegX21
	RegX22
	RegX23
	RegX24
	RegX25
	RegX26
	RegX27
	RegX28
	RegFP // X29
	RegLR // X30
	RegSP // Stack pointer (SP_EL1 of the guest)
	RegPC
	RegCPSR

	NumRegs = int(RegCPSR) + 1
)

func (r Reg) String() string {
	switch {
	case r >= RegX0 && r <= RegX28:
		return fmt.Sprintf("X%d", int(r))
	case r == RegFP:
		return "FP"
	case r == RegLR:
		return "LR"
	case r == RegSP:
		return "SP"
	case r == RegPC:
		return "PC"
	case r == RegCPSR:
		return "CPSR"
	default:
		return fmt.Sprintf("Reg(%d)", int(r))
	}
}

func (r Reg) valid() bool { return r >= RegX0 && r <= RegCPSR }

// Regs is the architecture register block of one guest. The scheduler treats
// it as opaque; only the Registers collaborator interprets its contents.
type Regs struct {
	r [NumRegs]uint64
}

// Get returns the value of register r.
func (rs *Regs) Get(r Reg) (uint64, error) {
	if !r.valid() {
		return 0, fmt.Errorf("sched: invalid register %d (must be %d-%d)", r, RegX0, RegCPSR)
	}
	return rs.r[r], nil
}

// Set writes v into register r.
func (rs *Regs) Set(r Reg, v uint64) error {
	if !r.valid() {
		return fmt.Errorf("sched: invalid register %d (must be %d-%d)", r, RegX0, RegCPSR)
	}
	rs.r[r] = v
	return nil
}

// PC returns the program counter.
func (rs *Regs) PC() uint64 { return rs.r[RegPC] }

// SP returns the stack pointer.
func (rs *Regs) SP() uint64 { return rs.r[RegSP] }

// RegBatch represents a batch of register values keyed by register.
type RegBatch map[Reg]uint64

// Batch returns the requested registers as a RegBatch.
func (rs *Regs) Batch(regs ...Reg) (RegBatch, error) {
	batch := make(RegBatch, len(regs))
	for _, reg := range regs {
		val, err := rs.Get(reg)
		if err != nil {
			return nil, err
		}
		batch[reg] = val
	}
	return batch, nil
}

// Apply writes every register in batch.
func (rs *Regs) Apply(batch RegBatch) error {
	for reg, val := range batch {
		if err := rs.Set(reg, val); err != nil {
			return err
		}
	}
	return nil
}

// Verbosity selects how much of a register block a Dump prints.
type Verbosity uint8

const (
	VerboseLevel0 Verbosity = 1 << iota
	VerboseLevel1
	VerboseLevel2
	VerboseLevel3

	VerboseAll = VerboseLevel0 | VerboseLevel1 | VerboseLevel2 | VerboseLevel3
)

// Format renders the block as text. Level 0 prints PC/SP/CPSR only, higher
// levels add the link and frame registers and then the general purpose set.
func (rs *Regs) Format(level Verbosity) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PC=0x%x SP=0x%x CPSR=0x%x", rs.r[RegPC], rs.r[RegSP], rs.r[RegCPSR])
	if level&(VerboseLevel1|VerboseLevel2|VerboseLevel3) != 0 {
		fmt.Fprintf(&sb, " LR=0x%x FP=0x%x", rs.r[RegLR], rs.r[RegFP])
	}
	if level&(VerboseLevel2|VerboseLevel3) != 0 {
		for r := RegX0; r <= RegX28; r++ {
			fmt.Fprintf(&sb, " %s=0x%x", r, rs.r[r])
		}
	}
	return sb.String()
}
