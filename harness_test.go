package vmsched

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// call is one recorded collaborator invocation.
type call struct {
	Op   string
	VMID VMID
}

// harness implements every collaborator and records what the engine asks of
// them, in order.
type harness struct {
	mu    sync.Mutex
	calls []call
	dumps []Verbosity
	fail  map[string]error

	armed    map[int]TickFunc
	interval time.Duration
	armErr   error

	entered []int
	entryPC []uint64
	// frames holds the live frame each CPU's first dispatch entered with.
	frames map[int]*Regs
}

func newHarness() *harness {
	return &harness{
		fail:   make(map[string]error),
		armed:  make(map[int]TickFunc),
		frames: make(map[int]*Regs),
	}
}

func (h *harness) collaborators() Collaborators {
	return Collaborators{
		Registers:  fakeRegisters{h},
		Memory:     fakeMemory{h},
		Interrupts: fakeInterrupts{h},
		Devices:    fakeDevices{h},
		Timer:      fakeTimer{h},
		Entry:      fakeEntry{h},
	}
}

func (h *harness) record(op string, id VMID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call{Op: op, VMID: id})
	return h.fail[op]
}

func (h *harness) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
	h.dumps = nil
	h.entered = nil
	h.entryPC = nil
}

func (h *harness) recorded() []call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call(nil), h.calls...)
}

func (h *harness) tick(t *testing.T, cpu int, regs *Regs) {
	t.Helper()
	h.mu.Lock()
	fn := h.armed[cpu]
	h.mu.Unlock()
	if fn == nil {
		t.Fatalf("no tick armed for cpu %d", cpu)
	}
	fn(regs)
}

// guestPC is the entry point fakeRegisters gives each guest.
func guestPC(id VMID) uint64 { return 0x40000000 + uint64(id)*0x100000 }

type fakeRegisters struct{ h *harness }

func (f fakeRegisters) Init(g *Guest, regs *Regs) error {
	_ = regs.Set(RegPC, guestPC(g.VMID))
	_ = regs.Set(RegX0, uint64(g.VMID))
	return f.h.record("regs.init", g.VMID)
}

func (f fakeRegisters) Save(g *Guest, regs *Regs) error {
	g.Regs = *regs
	return f.h.record("regs.save", g.VMID)
}

func (f fakeRegisters) Restore(g *Guest, regs *Regs) error {
	*regs = g.Regs
	return f.h.record("regs.restore", g.VMID)
}

func (f fakeRegisters) Dump(level Verbosity, regs *Regs) {
	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	f.h.dumps = append(f.h.dumps, level)
}

type fakeMemory struct{ h *harness }

func (f fakeMemory) Save() error           { return f.h.record("mem.save", NoVMID) }
func (f fakeMemory) Restore(id VMID) error { return f.h.record("mem.restore", id) }

type fakeInterrupts struct{ h *harness }

func (f fakeInterrupts) Save(id VMID) error    { return f.h.record("irq.save", id) }
func (f fakeInterrupts) Restore(id VMID) error { return f.h.record("irq.restore", id) }

type fakeDevices struct{ h *harness }

func (f fakeDevices) Save(id VMID) error    { return f.h.record("vdev.save", id) }
func (f fakeDevices) Restore(id VMID) error { return f.h.record("vdev.restore", id) }

type fakeTimer struct{ h *harness }

func (f fakeTimer) Arm(cpu int, interval time.Duration, fn TickFunc) error {
	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	if f.h.armErr != nil {
		return f.h.armErr
	}
	f.h.armed[cpu] = fn
	f.h.interval = interval
	return nil
}

// fakeEntry returns instead of resuming a guest, which is how tests observe
// the first dispatch.
type fakeEntry struct{ h *harness }

func (f fakeEntry) Enter(cpu int, regs *Regs) {
	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	f.h.entered = append(f.h.entered, cpu)
	f.h.entryPC = append(f.h.entryPC, regs.PC())
	f.h.frames[cpu] = regs
}

func newTestScheduler(t *testing.T, cfg Config, opts ...Option) (*Scheduler, *harness) {
	t.Helper()
	h := newHarness()
	s, err := New(cfg, h.collaborators(), opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, h
}

func mustCPU(t *testing.T, s *Scheduler, index int) *CPU {
	t.Helper()
	cpu, err := s.CPU(index)
	if err != nil {
		t.Fatalf("CPU(%d) failed: %v", index, err)
	}
	return cpu
}

// bootCPU runs Init and Start on cpu, checks the first dispatch reached the
// entry collaborator and returns the live frame it entered with. Later
// switches on cpu must use that frame, as a trap handler would.
func bootCPU(t *testing.T, cpu *CPU) *Regs {
	t.Helper()
	if err := cpu.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := cpu.Start(); !errors.Is(err, ErrEntryReturned) {
		t.Fatalf("Start() = %v, want ErrEntryReturned", err)
	}
	entry, ok := cpu.sched.collab.Entry.(fakeEntry)
	if !ok {
		t.Fatalf("entry collaborator is %T, want fakeEntry", cpu.sched.collab.Entry)
	}
	entry.h.mu.Lock()
	defer entry.h.mu.Unlock()
	frame := entry.h.frames[cpu.ID()]
	if frame == nil {
		t.Fatalf("cpu %d entered without a frame", cpu.ID())
	}
	return frame
}
