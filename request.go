package vmsched

import "go.uber.org/zap"

// PolicyView is the read-only view of a CPU that a Policy decides on.
type PolicyView interface {
	CurrentID() (VMID, bool)
	Range() Range
	Override() (VMID, bool)
}

// Policy picks the guest a CPU should run next. Implementations must not
// have side effects; they are evaluated from the timer tick.
type Policy interface {
	Next(cpu PolicyView) VMID
}

// RoundRobin is the default policy: a manual override wins, otherwise the
// successor of the current guest within the CPU's partition, wrapping from
// the last identifier back to the first.
type RoundRobin struct{}

// Next implements Policy.
func (RoundRobin) Next(cpu PolicyView) VMID {
	if id, ok := cpu.Override(); ok {
		return id
	}

	r := cpu.Range()
	cur, ok := cpu.CurrentID()
	if !ok || !r.Contains(cur) || cur == r.Last {
		return r.First
	}
	return cur + 1
}

// DetermineNext evaluates the scheduling policy for this CPU.
func (c *CPU) DetermineNext() VMID {
	return c.sched.policy.Next(c)
}

// RequestSwitch records target as the guest to switch to at the next
// reentry. While the cell is locked the request is ignored and the pending
// guest is kept. A true lock arms the lock whatever the outcome, letting a
// caller claim the next switch even when its own request was ignored.
//
// target is not validated here; PerformSwitch rejects identifiers outside
// this CPU's partition.
func (c *CPU) RequestSwitch(target VMID, lock bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sched.counters.requests.Add(1)

	var err error
	if !c.locked {
		c.next = target
		c.logger.Debug("Switch requested", zap.Int("vmid", int(target)), zap.Bool("lock", lock))
	} else {
		err = ErrIgnored
		c.sched.counters.lockedRejects.Add(1)
		c.logger.Debug("Next vmid locked",
			zap.Int("pending", int(c.next)),
			zap.Int("rejected", int(target)),
		)
	}

	if lock {
		c.locked = true
	}
	return err
}
