package vmsched

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PerformSwitch moves this CPU from its resident guest to target, with regs
// as the live register context. On return regs holds target's state, so
// resuming from regs resumes the incoming guest.
//
// Switching to the resident guest reports ErrIgnored and a target outside
// the CPU's partition reports ErrInvalidVMID; both return before touching
// any state. Otherwise the whole save, pivot and restore sequence always
// runs. Collaborator failures are collected and reported afterwards as
// ErrCollaboratorFailed rather than leaving hardware half switched.
func (c *CPU) PerformSwitch(regs *Regs, target VMID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.performSwitchLocked(regs, target)
}

func (c *CPU) performSwitchLocked(regs *Regs, target VMID) error {
	cur, running := c.currentLocked()
	if running && cur == target {
		c.sched.counters.ignored.Add(1)
		return ErrIgnored
	}
	if !c.rng.Contains(target) {
		c.sched.counters.invalidTargets.Add(1)
		c.logger.Error("Rejected switch outside partition",
			zap.Int("vmid", int(target)),
			zap.Stringer("range", c.rng),
		)
		return schedErrf(StatusInvalidVMID, "cpu %d: vmid %d outside %s", c.id, target, c.rng)
	}
	if regs == nil {
		regs = &c.live
	}

	reg := c.sched.registry
	incoming, err := reg.slot(target)
	if err != nil {
		return err
	}
	col := c.sched.collab
	start := time.Now()

	var errs error
	if running {
		outgoing, err := reg.slot(cur)
		if err != nil {
			return err
		}
		errs = multierr.Combine(
			step("registers save", col.Registers.Save(outgoing, regs)),
			step("memory save", col.Memory.Save()),
			step("interrupts save", col.Interrupts.Save(cur)),
		)
		if c.owner {
			errs = multierr.Append(errs, step("devices save", col.Devices.Save(cur)))
		}
	}

	c.state = Running{VMID: target}

	col.Registers.Dump(VerboseLevel3, &incoming.Regs)

	if c.owner {
		errs = multierr.Append(errs, step("devices restore", col.Devices.Restore(target)))
	}
	errs = multierr.Append(errs, step("interrupts restore", col.Interrupts.Restore(target)))
	errs = multierr.Append(errs, step("memory restore", col.Memory.Restore(target)))
	errs = multierr.Append(errs, step("registers restore", col.Registers.Restore(incoming, regs)))

	elapsed := time.Since(start)
	c.sched.counters.recordSwitch(!running, elapsed)

	if errs != nil {
		failures := multierr.Errors(errs)
		c.sched.counters.collabErrors.Add(uint64(len(failures)))
		c.logger.Error("Switch completed with collaborator failures",
			zap.Int("to", int(target)),
			zap.Int("failures", len(failures)),
			zap.Error(errs),
		)
		return schedErr(StatusCollaboratorFailed, errs)
	}

	c.logger.Debug("Switched guest",
		zap.Int("from", int(cur)),
		zap.Int("to", int(target)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// GuestPerformSwitch is the reentry point, called each time this CPU traps
// back into the hypervisor with regs holding the interrupted guest's state.
//
// On a CPU that has never run a guest it performs the first dispatch toward
// the pending guest and enters it through the Entry collaborator, which on
// hardware does not return. When the pending guest differs from the resident
// one the switch is applied and the pending slot cleared. Anything else is
// ErrIgnored. Every path except the first dispatch clears the lock.
//
// regs must be the frame the CPU was entered with (the pointer passed to
// Entry.Enter); a different frame saves the wrong state for the outgoing guest.
func (c *CPU) GuestPerformSwitch(regs *Regs) error {
	c.mu.Lock()
	if _, ok := c.state.(Uninitialized); ok {
		return c.firstDispatch(regs)
	}
	defer c.mu.Unlock()
	defer func() { c.locked = false }()

	cur, _ := c.currentLocked()
	next := c.next
	if next == NoVMID || next == cur {
		c.sched.counters.ignored.Add(1)
		return ErrIgnored
	}

	c.logger.Debug("Performing switch", zap.Int("curr", int(cur)), zap.Int("next", int(next)))
	err := c.performSwitchLocked(regs, next)
	c.next = NoVMID
	return err
}

// firstDispatch is entered with c.mu held and releases it before handing
// the CPU to the guest.
func (c *CPU) firstDispatch(regs *Regs) error {
	next := c.next
	if regs == nil {
		regs = &c.live
	}
	c.logger.Info("Launching the first guest", zap.Int("vmid", int(next)))

	err := c.performSwitchLocked(regs, next)
	c.mu.Unlock()
	if err != nil && !errors.Is(err, ErrCollaboratorFailed) {
		return err
	}

	c.sched.collab.Entry.Enter(c.id, regs)

	// Only reachable when Entry is not a real exception return.
	return multierr.Append(err, ErrEntryReturned)
}

func step(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
