package vmsched

import (
	"fmt"

	"go.uber.org/zap"
)

// Init registers every guest of this CPU's partition, running the register
// collaborator's Init on each, and arms the scheduling tick.
//
// A timer failure is reported as ErrTimerArm but leaves the CPU usable:
// Start still dispatches the first guest, which then runs alone.
func (c *CPU) Init() error {
	c.logger.Debug("Initializing guests", zap.Stringer("range", c.rng))

	c.mu.Lock()
	for id := c.rng.First; id <= c.rng.Last; id++ {
		g, err := c.sched.registry.slot(id)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		g.VMID = id
		g.CPU = c.id
		if err := c.sched.collab.Registers.Init(g, &g.Regs); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("failed to init guest %d: %w", id, err)
		}
	}
	c.mu.Unlock()

	interval := c.sched.cfg.TickInterval
	if err := c.sched.collab.Timer.Arm(c.id, interval, c.Tick); err != nil {
		c.logger.Error("Timer startup failed", zap.Duration("interval", interval), zap.Error(err))
		return schedErr(StatusTimerArm, err)
	}

	c.logger.Info("Guests initialized",
		zap.Int("guests", c.rng.Len()),
		zap.Duration("tick_interval", interval),
	)
	return nil
}

// Tick is the timer handler. It only records which guest should run next;
// the switch itself happens at the following reentry, never in interrupt
// context.
func (c *CPU) Tick(regs *Regs) {
	c.sched.counters.ticks.Add(1)
	if regs != nil {
		c.sched.collab.Registers.Dump(VerboseLevel3, regs)
	}
	// An ignored request just means the cell is locked.
	_ = c.RequestSwitch(c.DetermineNext(), false)
}

// Start performs the first dispatch of this CPU: it selects the first guest
// of the partition and enters it. On hardware Start does not return. When
// the Entry collaborator does return, Start reports ErrEntryReturned; any
// other error means no guest could be dispatched. The guest runs in the frame
// handed to Entry.Enter; trap handlers must pass that same pointer to
// GuestPerformSwitch.
func (c *CPU) Start() error {
	c.mu.Lock()
	c.state = Uninitialized{}
	first, err := c.sched.registry.slot(c.rng.First)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sched.collab.Registers.Dump(VerboseLevel0, &first.Regs)
	c.mu.Unlock()

	c.logger.Info("Switching to initial guest", zap.Int("vmid", int(c.rng.First)))
	if err := c.RequestSwitch(c.rng.First, false); err != nil {
		c.logger.Debug("Initial request ignored, dispatching pending guest", zap.Error(err))
	}
	return c.GuestPerformSwitch(nil)
}

// DumpRegs prints every register of regs through the register collaborator.
func (c *CPU) DumpRegs(regs *Regs) {
	c.sched.collab.Registers.Dump(VerboseAll, regs)
}
