package vmsched

import (
	"fmt"
	"time"
)

// Build-time defaults: two CPUs with two guests each.
const (
	DefaultNumCPUs      = 2
	DefaultGuestsPerCPU = 2
	DefaultTickInterval = 50 * time.Millisecond
	DefaultDeviceOwner  = 0
)

// Config holds the static scheduler configuration. It is consumed once by New
// and never changes afterwards.
type Config struct {
	// NumCPUs is the number of physical CPUs.
	NumCPUs int `mapstructure:"num_cpus"`

	// GuestsPerCPU sizes the default partition when Partitions is empty.
	GuestsPerCPU int `mapstructure:"guests_per_cpu"`

	// TickInterval is the period of the scheduling timer.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// DeviceOwner is the only CPU allowed to save and restore virtual devices.
	DeviceOwner int `mapstructure:"device_owner"`

	// Partitions optionally overrides the default per-CPU VMID ranges.
	// Entry i belongs to CPU i.
	Partitions []Range `mapstructure:"partitions"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		NumCPUs:      DefaultNumCPUs,
		GuestsPerCPU: DefaultGuestsPerCPU,
		TickInterval: DefaultTickInterval,
		DeviceOwner:  DefaultDeviceOwner,
	}
}

// Validate checks the configuration and the partition table it describes.
func (c Config) Validate() error {
	if c.NumCPUs <= 0 {
		return schedErrf(StatusBadConfig, "num_cpus must be positive, got %d", c.NumCPUs)
	}
	if c.TickInterval <= 0 {
		return schedErrf(StatusBadConfig, "tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.DeviceOwner < 0 || c.DeviceOwner >= c.NumCPUs {
		return schedErrf(StatusBadConfig, "device_owner %d outside cpus 0-%d", c.DeviceOwner, c.NumCPUs-1)
	}
	if len(c.Partitions) == 0 && c.GuestsPerCPU <= 0 {
		return schedErrf(StatusBadConfig, "guests_per_cpu must be positive, got %d", c.GuestsPerCPU)
	}
	_, err := c.Partition()
	return err
}

// Partition returns the validated partition table for this configuration.
func (c Config) Partition() (Partition, error) {
	if len(c.Partitions) == 0 {
		return DefaultPartition(c.NumCPUs, c.GuestsPerCPU), nil
	}
	if len(c.Partitions) != c.NumCPUs {
		return nil, schedErrf(StatusBadConfig, "%d partitions for %d cpus", len(c.Partitions), c.NumCPUs)
	}
	p := Partition(append([]Range(nil), c.Partitions...))
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("partitions: %w", err)
	}
	return p, nil
}
