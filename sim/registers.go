package sim

import (
	"go.uber.org/zap"

	"github.com/blacktop/go-vmsched"
)

const (
	guestRAMBase  = 0x40000000
	guestRAMSize  = 0x100000
	guestStackTop = guestRAMSize - 0x10

	// EL1h with DAIF masked.
	guestInitialCPSR = 0x3c5
)

// EntryPC returns the address a guest starts executing at.
func EntryPC(id vmsched.VMID) uint64 {
	return guestRAMBase + uint64(id)*guestRAMSize
}

// RegisterFile implements vmsched.Registers over plain memory: the saved
// block of each guest lives in its registry record.
type RegisterFile struct {
	rec    *Recorder
	logger *zap.Logger
	// dumpMask selects which Dump verbosity levels are logged.
	dumpMask vmsched.Verbosity
}

// Init places the guest at its entry point with an empty stack.
func (f *RegisterFile) Init(g *vmsched.Guest, regs *vmsched.Regs) error {
	*regs = vmsched.Regs{}
	err := regs.Apply(vmsched.RegBatch{
		vmsched.RegPC:   EntryPC(g.VMID),
		vmsched.RegSP:   EntryPC(g.VMID) + guestStackTop,
		vmsched.RegCPSR: guestInitialCPSR,
	})
	f.rec.add(g.CPU, "regs.init", g.VMID)
	return err
}

// Save copies the live context into the guest's record.
func (f *RegisterFile) Save(g *vmsched.Guest, regs *vmsched.Regs) error {
	g.Regs = *regs
	f.rec.add(g.CPU, "regs.save", g.VMID)
	return nil
}

// Restore copies the guest's record into the live context.
func (f *RegisterFile) Restore(g *vmsched.Guest, regs *vmsched.Regs) error {
	*regs = g.Regs
	f.rec.add(g.CPU, "regs.restore", g.VMID)
	return nil
}

// Dump logs regs when level is enabled.
func (f *RegisterFile) Dump(level vmsched.Verbosity, regs *vmsched.Regs) {
	if level&f.dumpMask == 0 || regs == nil {
		return
	}
	f.logger.Debug("Guest registers", zap.String("regs", regs.Format(level)))
}
