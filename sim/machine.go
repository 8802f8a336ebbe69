// Package sim runs the scheduler against in-process collaborators: every
// physical CPU is a goroutine, every guest a register context that executes
// one instruction per quantum, and the scheduling tick a ticker or a manually
// injected interrupt.
package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/blacktop/go-vmsched"
)

const (
	// DefaultQuantum is how often a resident guest retires an instruction.
	DefaultQuantum = time.Millisecond
)

// Options configures a Machine.
type Options struct {
	Logger *zap.Logger
	// Recorder receives every collaborator call. Nil discards.
	Recorder *Recorder
	// Quantum between guest instructions. Zero means DefaultQuantum.
	Quantum time.Duration
	// Manual disables the wall clock: instructions retire and ticks arrive
	// only through Machine.Interrupt.
	Manual bool
	// NoTimer makes arming the scheduling tick fail.
	NoTimer bool
	// DumpMask selects which register dump levels are logged.
	DumpMask vmsched.Verbosity
}

// Machine is a simulated multi-CPU host.
type Machine struct {
	sched   *vmsched.Scheduler
	regs    *RegisterFile
	mem     *Stage2
	irq     *VGIC
	dev     *VDevices
	timer   *Timer
	logger  *zap.Logger
	quantum time.Duration
	manual  bool

	pcpus []*pcpu

	mu   sync.Mutex
	ctx  context.Context
	errs error

	booted     atomic.Int32
	bootedOnce sync.Once
	bootedCh   chan struct{}
}

type pcpu struct {
	cpu     *vmsched.CPU
	irq     chan chan struct{}
	retired atomic.Uint64
}

// New builds the collaborators and the scheduler for cfg.
func New(cfg vmsched.Config, opts Options) (*Machine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Quantum <= 0 {
		opts.Quantum = DefaultQuantum
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	partition, err := cfg.Partition()
	if err != nil {
		return nil, err
	}

	m := &Machine{
		regs:     &RegisterFile{rec: opts.Recorder, logger: opts.Logger, dumpMask: opts.DumpMask},
		mem:      newStage2(partition, opts.Recorder),
		irq:      newVGIC(partition, opts.Recorder),
		dev:      newVDevices(cfg.DeviceOwner, opts.Recorder),
		timer:    newTimer(opts.NoTimer),
		logger:   opts.Logger.With(zap.String("component", "machine")),
		quantum:  opts.Quantum,
		manual:   opts.Manual,
		bootedCh: make(chan struct{}),
	}

	m.sched, err = vmsched.New(cfg, vmsched.Collaborators{
		Registers:  m.regs,
		Memory:     m.mem,
		Interrupts: m.irq,
		Devices:    m.dev,
		Timer:      m.timer,
		Entry:      m,
	}, vmsched.WithLogger(opts.Logger))
	if err != nil {
		return nil, err
	}

	m.pcpus = make([]*pcpu, m.sched.NumCPUs())
	for i := range m.pcpus {
		cpu, err := m.sched.CPU(i)
		if err != nil {
			return nil, err
		}
		m.pcpus[i] = &pcpu{cpu: cpu, irq: make(chan chan struct{})}
	}
	return m, nil
}

// Scheduler returns the scheduler driving this machine.
func (m *Machine) Scheduler() *vmsched.Scheduler { return m.sched }

// Stage2 returns the memory collaborator.
func (m *Machine) Stage2() *Stage2 { return m.mem }

// VGIC returns the interrupt collaborator.
func (m *Machine) VGIC() *VGIC { return m.irq }

// Devices returns the shared device model.
func (m *Machine) Devices() *VDevices { return m.dev }

// Run boots every CPU on its own goroutine and blocks until ctx is done and
// every CPU has halted. It returns the boot errors of the CPUs that could
// not dispatch a guest.
func (m *Machine) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range m.pcpus {
		wg.Add(1)
		go func(p *pcpu) {
			defer wg.Done()
			m.boot(p)
		}(p)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs
}

func (m *Machine) boot(p *pcpu) {
	log := m.logger.With(zap.Int("cpu", p.cpu.ID()))

	if err := p.cpu.Init(); err != nil {
		if !errors.Is(err, vmsched.ErrTimerArm) {
			m.fail(err)
			return
		}
		log.Warn("Running without a scheduling tick", zap.Error(err))
	}

	// Start only comes back when the first dispatch failed; a successful
	// dispatch ends in runtime.Goexit from Enter.
	err := p.cpu.Start()
	log.Error("First dispatch failed", zap.Error(err))
	m.fail(err)
}

func (m *Machine) fail(err error) {
	m.mu.Lock()
	m.errs = multierr.Append(m.errs, err)
	m.mu.Unlock()
}

// Enter is the guest run loop of one CPU. It never returns: when the run
// context is done the goroutine exits.
func (m *Machine) Enter(cpu int, regs *vmsched.Regs) {
	p := m.pcpus[cpu]
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	log := m.logger.With(zap.Int("cpu", cpu))

	if m.booted.Add(1) == int32(len(m.pcpus)) {
		m.bootedOnce.Do(func() { close(m.bootedCh) })
	}

	var tick, exec <-chan time.Time
	if !m.manual {
		if a, ok := m.timer.lookup(cpu); ok {
			t := time.NewTicker(a.interval)
			defer t.Stop()
			tick = t.C
		}
		q := time.NewTicker(m.quantum)
		defer q.Stop()
		exec = q.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug("CPU halted")
			runtime.Goexit()
		case <-exec:
			retire(regs)
			p.retired.Add(1)
		case <-tick:
			m.trap(p, regs)
		case done := <-p.irq:
			retire(regs)
			p.retired.Add(1)
			m.trap(p, regs)
			close(done)
		}
	}
}

// trap is one timer exception: the tick handler runs, then the CPU reenters
// the scheduler before returning to whichever guest is now resident.
func (m *Machine) trap(p *pcpu, regs *vmsched.Regs) {
	if a, ok := m.timer.lookup(p.cpu.ID()); ok {
		a.fn(regs)
	}
	err := p.cpu.GuestPerformSwitch(regs)
	if err != nil && !vmsched.IsIgnored(err) {
		m.logger.Warn("Switch failed", zap.Int("cpu", p.cpu.ID()), zap.Error(err))
	}
}

// retire executes one guest instruction: PC advances and X0 counts.
func retire(regs *vmsched.Regs) {
	pc, _ := regs.Get(vmsched.RegPC)
	n, _ := regs.Get(vmsched.RegX0)
	_ = regs.Apply(vmsched.RegBatch{vmsched.RegPC: pc + 4, vmsched.RegX0: n + 1})
}

// WaitBooted blocks until every CPU has entered its first guest.
func (m *Machine) WaitBooted(ctx context.Context) error {
	select {
	case <-m.bootedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt delivers one timer interrupt to cpu and waits until the CPU has
// handled it and resumed a guest.
func (m *Machine) Interrupt(ctx context.Context, cpu int) error {
	if cpu < 0 || cpu >= len(m.pcpus) {
		return fmt.Errorf("sim: no cpu %d", cpu)
	}
	done := make(chan struct{})
	select {
	case m.pcpus[cpu].irq <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retired returns how many instructions cpu has executed.
func (m *Machine) Retired(cpu int) uint64 {
	if cpu < 0 || cpu >= len(m.pcpus) {
		return 0
	}
	return m.pcpus[cpu].retired.Load()
}
