// Package config loads vmsched settings from a YAML file, VMSCHED_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/blacktop/go-vmsched"
)

// EnvPrefix is prepended to every environment variable override, e.g.
// VMSCHED_SCHEDULER_NUM_CPUS.
const EnvPrefix = "VMSCHED"

// Config is the complete configuration of the vmsched binary.
type Config struct {
	Scheduler vmsched.Config `mapstructure:"scheduler"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Sim       SimConfig      `mapstructure:"sim"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SimConfig holds simulator settings.
type SimConfig struct {
	Duration time.Duration `mapstructure:"duration"`
	Quantum  time.Duration `mapstructure:"quantum"`
	// DumpLevel is the highest register dump level that is logged (0-3),
	// or -1 for none.
	DumpLevel int  `mapstructure:"dump_level"`
	Trace     bool `mapstructure:"trace"`
	TraceMax  int  `mapstructure:"trace_max"`
	// Override pins every CPU to one VMID, or -1 for none.
	Override int `mapstructure:"override"`
}

// DumpMask converts DumpLevel into the set of enabled verbosity levels.
func (c SimConfig) DumpMask() vmsched.Verbosity {
	var mask vmsched.Verbosity
	levels := []vmsched.Verbosity{
		vmsched.VerboseLevel0,
		vmsched.VerboseLevel1,
		vmsched.VerboseLevel2,
		vmsched.VerboseLevel3,
	}
	for i := 0; i <= c.DumpLevel && i < len(levels); i++ {
		mask |= levels[i]
	}
	return mask
}

// Load loads configuration from file, environment variables and flags, in
// increasing order of precedence. An empty configPath searches ./configs and
// the working directory for vmsched.yaml; a missing file is not an error.
// flags may be nil; only flags the user set override other sources.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("vmsched")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the scheduler and simulator settings.
func (c *Config) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if c.Sim.Quantum <= 0 {
		return fmt.Errorf("sim: quantum must be positive, got %s", c.Sim.Quantum)
	}
	if c.Sim.Override < -1 {
		return fmt.Errorf("sim: override must be a VMID or -1, got %d", c.Sim.Override)
	}
	if c.Sim.DumpLevel < -1 || c.Sim.DumpLevel > 3 {
		return fmt.Errorf("sim: dump_level must be between -1 and 3, got %d", c.Sim.DumpLevel)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	return nil
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"cpus":         "scheduler.num_cpus",
	"guests":       "scheduler.guests_per_cpu",
	"tick":         "scheduler.tick_interval",
	"device-owner": "scheduler.device_owner",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"duration":     "sim.duration",
	"quantum":      "sim.quantum",
	"dump-level":   "sim.dump_level",
	"trace":        "sim.trace",
	"override":     "sim.override",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := vmsched.DefaultConfig()

	// Scheduler
	v.SetDefault("scheduler.num_cpus", def.NumCPUs)
	v.SetDefault("scheduler.guests_per_cpu", def.GuestsPerCPU)
	v.SetDefault("scheduler.tick_interval", def.TickInterval.String())
	v.SetDefault("scheduler.device_owner", def.DeviceOwner)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Simulator
	v.SetDefault("sim.duration", "1s")
	v.SetDefault("sim.quantum", "1ms")
	v.SetDefault("sim.dump_level", -1)
	v.SetDefault("sim.trace", false)
	v.SetDefault("sim.trace_max", 4096)
	v.SetDefault("sim.override", -1)
}
