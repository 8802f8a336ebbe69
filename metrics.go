package vmsched

import (
	"sync/atomic"
	"time"
)

// counters holds the scheduler's operation counters.
type counters struct {
	requests        atomic.Uint64
	lockedRejects   atomic.Uint64
	switches        atomic.Uint64
	ignored         atomic.Uint64
	firstDispatches atomic.Uint64
	ticks           atomic.Uint64
	collabErrors    atomic.Uint64
	invalidTargets  atomic.Uint64

	// nanoseconds
	totalSwitchTime atomic.Uint64
}

// Metrics is a point-in-time snapshot of scheduler activity across all CPUs.
type Metrics struct {
	Requests         uint64 `json:"requests"`
	LockedRejects    uint64 `json:"locked_rejects"`
	Switches         uint64 `json:"switches"`
	Ignored          uint64 `json:"ignored"`
	FirstDispatches  uint64 `json:"first_dispatches"`
	Ticks            uint64 `json:"ticks"`
	CollaboratorErrs uint64 `json:"collaborator_errors"`
	InvalidTargets   uint64 `json:"invalid_targets"`
	AvgSwitchTimeNs  uint64 `json:"avg_switch_time_ns"`
}

// Metrics returns current scheduler metrics.
func (s *Scheduler) Metrics() Metrics {
	c := &s.counters
	switches := c.switches.Load()
	firsts := c.firstDispatches.Load()

	var avg uint64
	if n := switches + firsts; n > 0 {
		avg = c.totalSwitchTime.Load() / n
	}

	return Metrics{
		Requests:         c.requests.Load(),
		LockedRejects:    c.lockedRejects.Load(),
		Switches:         switches,
		Ignored:          c.ignored.Load(),
		FirstDispatches:  firsts,
		Ticks:            c.ticks.Load(),
		CollaboratorErrs: c.collabErrors.Load(),
		InvalidTargets:   c.invalidTargets.Load(),
		AvgSwitchTimeNs:  avg,
	}
}

// ResetMetrics clears all counters.
func (s *Scheduler) ResetMetrics() {
	c := &s.counters
	c.requests.Store(0)
	c.lockedRejects.Store(0)
	c.switches.Store(0)
	c.ignored.Store(0)
	c.firstDispatches.Store(0)
	c.ticks.Store(0)
	c.collabErrors.Store(0)
	c.invalidTargets.Store(0)
	c.totalSwitchTime.Store(0)
}

func (c *counters) recordSwitch(first bool, d time.Duration) {
	if first {
		c.firstDispatches.Add(1)
	} else {
		c.switches.Add(1)
	}
	c.totalSwitchTime.Add(uint64(d.Nanoseconds()))
}
