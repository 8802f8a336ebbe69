package vmsched

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is the scheduling state of one physical CPU: either Uninitialized
// (no guest has been dispatched yet) or Running a guest.
type State interface {
	isState()
	String() string
}

// Uninitialized is the state of a CPU before its first dispatch.
type Uninitialized struct{}

// Running is the state of a CPU with a guest resident in hardware.
type Running struct {
	VMID VMID
}

func (Uninitialized) isState()       {}
func (Uninitialized) String() string { return "uninitialized" }
func (Running) isState()             {}
func (r Running) String() string     { return fmt.Sprintf("running(%d)", r.VMID) }

// CPU is the scheduling cell of one physical CPU together with the
// operations that act on it. A CPU never reads or writes another CPU's cell.
type CPU struct {
	id     int
	rng    Range
	owner  bool
	sched  *Scheduler
	logger *zap.Logger

	// mu stands in for local interrupt masking: the tick handler and the
	// reentry path of this CPU never interleave inside a cell operation.
	mu     sync.Mutex
	state  State
	next   VMID
	locked bool

	// live is the hypervisor trap frame of this CPU, used when the caller
	// has no context of its own (the first dispatch).
	live Regs
}

func newCPU(s *Scheduler, id int, rng Range) *CPU {
	return &CPU{
		id:     id,
		rng:    rng,
		owner:  id == s.cfg.DeviceOwner,
		sched:  s,
		logger: s.logger.With(zap.Int("cpu", id)),
		state:  Uninitialized{},
		next:   NoVMID,
	}
}

// ID returns the physical CPU index.
func (c *CPU) ID() int { return c.id }

// Range returns the guest identifiers this CPU may schedule.
func (c *CPU) Range() Range { return c.rng }

// FirstVMID returns the first identifier of this CPU's partition.
func (c *CPU) FirstVMID() VMID { return c.rng.First }

// LastVMID returns the last identifier of this CPU's partition.
func (c *CPU) LastVMID() VMID { return c.rng.Last }

// IsDeviceOwner reports whether this CPU serializes shared device state.
func (c *CPU) IsDeviceOwner() bool { return c.owner }

// State returns the current scheduling state.
func (c *CPU) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentID returns the resident guest, or false before the first dispatch.
func (c *CPU) CurrentID() (VMID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *CPU) currentLocked() (VMID, bool) {
	if r, ok := c.state.(Running); ok {
		return r.VMID, true
	}
	return NoVMID, false
}

// PendingID returns the requested-but-not-applied guest, or NoVMID.
func (c *CPU) PendingID() VMID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Locked reports whether further switch requests are being rejected.
func (c *CPU) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Override returns the process-wide manual override.
func (c *CPU) Override() (VMID, bool) { return c.sched.Override() }
