package vmsched

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Scheduler owns the guest registry, one scheduling cell per physical CPU and
// the process-wide manual override.
type Scheduler struct {
	cfg       Config
	partition Partition
	registry  *Registry
	collab    Collaborators
	policy    Policy
	logger    *zap.Logger
	cpus      []*CPU

	// override holds the manually selected VMID, or overrideOff. It is the
	// only scheduler state any CPU may write.
	override atomic.Int64

	counters counters
}

const overrideOff = -1

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPolicy replaces the default round-robin policy.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.policy = p
		}
	}
}

// New validates cfg, checks that every collaborator is present and builds
// the registry and the per-CPU cells. Every CPU starts Uninitialized.
func New(cfg Config, collab Collaborators, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}
	partition, err := cfg.Partition()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:       cfg,
		partition: partition,
		registry:  NewRegistry(partition.Capacity()),
		collab:    collab,
		policy:    RoundRobin{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "scheduler"))
	s.override.Store(overrideOff)

	s.cpus = make([]*CPU, cfg.NumCPUs)
	for i := range s.cpus {
		s.cpus[i] = newCPU(s, i, partition[i])
	}

	s.logger.Debug("Scheduler created",
		zap.Int("cpus", cfg.NumCPUs),
		zap.Int("guests", s.registry.Len()),
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.Int("device_owner", cfg.DeviceOwner),
	)
	return s, nil
}

// NumCPUs returns the number of physical CPUs.
func (s *Scheduler) NumCPUs() int { return len(s.cpus) }

// Config returns the configuration the scheduler was built with.
func (s *Scheduler) Config() Config { return s.cfg }

// Partition returns a copy of the per-CPU VMID table.
func (s *Scheduler) Partition() Partition { return append(Partition(nil), s.partition...) }

// CPU returns the handle of physical CPU index. The handle must only be used
// by code executing on that CPU.
func (s *Scheduler) CPU(index int) (*CPU, error) {
	if index < 0 || index >= len(s.cpus) {
		return nil, schedErrf(StatusBadConfig, "cpu %d outside 0-%d", index, len(s.cpus)-1)
	}
	return s.cpus[index], nil
}

// Guest returns a snapshot of guest id. The owning CPU's cell is held while
// copying so the snapshot never observes a half-written register block.
func (s *Scheduler) Guest(id VMID) (Guest, error) {
	owner, ok := s.partition.Owner(id)
	if !ok {
		return Guest{}, schedErrf(StatusInvalidVMID, "vmid %d not in any partition", id)
	}
	c := s.cpus[owner]
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.registry.Get(id)
}

// SetOverride makes every CPU's next policy evaluation return id until
// ClearOverride. It is operator driven and not expected to race with itself;
// the value is published atomically and becomes visible to all CPUs.
func (s *Scheduler) SetOverride(id VMID) error {
	if id < 0 || int(id) >= s.registry.Len() {
		return schedErrf(StatusInvalidVMID, "override vmid %d outside registry of %d", id, s.registry.Len())
	}
	s.override.Store(int64(id))
	s.logger.Info("Manual override set", zap.Int("vmid", int(id)))
	return nil
}

// ClearOverride returns every CPU to the default policy.
func (s *Scheduler) ClearOverride() {
	s.override.Store(overrideOff)
	s.logger.Info("Manual override cleared")
}

// Override returns the manually selected VMID, if one is active.
func (s *Scheduler) Override() (VMID, bool) {
	v := s.override.Load()
	if v == overrideOff {
		return NoVMID, false
	}
	return VMID(v), true
}
