package vmsched

import "time"

// Registers saves, restores and initializes the architecture register
// state of a guest.
type Registers interface {
	// Init sets up the initial CPU state of a newly registered guest.
	Init(g *Guest, regs *Regs) error
	// Save persists the live hardware state in regs into g.
	Save(g *Guest, regs *Regs) error
	// Restore loads g's persisted state into the live context regs.
	Restore(g *Guest, regs *Regs) error
	// Dump is diagnostic only and must not change any state.
	Dump(level Verbosity, regs *Regs)
}

// Memory persists and reloads stage-2 address translation state. Save is not
// guest scoped: it captures the per-CPU MMU context that is live.
type Memory interface {
	Save() error
	Restore(id VMID) error
}

// Interrupts persists and reloads virtual interrupt controller state.
type Interrupts interface {
	Save(id VMID) error
	Restore(id VMID) error
}

// Devices persists and reloads the virtual device model. The model is shared
// by every physical CPU; only the device-owner CPU ever calls it.
type Devices interface {
	Save(id VMID) error
	Restore(id VMID) error
}

// TickFunc is invoked by a Timer on every scheduling tick with the register
// context that was live when the tick interrupted the guest (may be nil).
type TickFunc func(regs *Regs)

// Timer schedules periodic invocation of a tick handler on one CPU.
type Timer interface {
	Arm(cpu int, interval time.Duration, fn TickFunc) error
}

// Entry resumes execution as the guest whose state is in regs. On hardware
// this is the exception return into the guest and it never comes back to the
// caller; implementations that do return make Start report ErrEntryReturned.
type Entry interface {
	Enter(cpu int, regs *Regs)
}

// Collaborators bundles the hardware domains the scheduler drives. Every
// field is required.
type Collaborators struct {
	Registers  Registers
	Memory     Memory
	Interrupts Interrupts
	Devices    Devices
	Timer      Timer
	Entry      Entry
}

func (c Collaborators) validate() error {
	missing := func(name string) error {
		return &SchedError{Code: StatusUnsupported, message: "sched: collaborator unavailable: " + name}
	}
	switch {
	case c.Registers == nil:
		return missing("registers")
	case c.Memory == nil:
		return missing("memory")
	case c.Interrupts == nil:
		return missing("interrupts")
	case c.Devices == nil:
		return missing("devices")
	case c.Timer == nil:
		return missing("timer")
	case c.Entry == nil:
		return missing("entry")
	}
	return nil
}
