/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blacktop/go-vmsched"
	"github.com/blacktop/go-vmsched/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vmsched",
	Short: "Drive the guest scheduler on a simulated multi-CPU host",
	Long: `vmsched partitions guests across physical CPUs, round-robins each CPU's
guests on a periodic tick and performs the full context switch through
simulated register, stage-2, interrupt controller and device collaborators.

Settings come from vmsched.yaml (./configs or the working directory),
VMSCHED_* environment variables and flags, in increasing precedence.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default: search ./configs and . for vmsched.yaml)")
	pf.Int("cpus", vmsched.DefaultNumCPUs, "number of physical CPUs")
	pf.Int("guests", vmsched.DefaultGuestsPerCPU, "guests per CPU when no partition table is configured")
	pf.Duration("tick", vmsched.DefaultTickInterval, "scheduling tick interval")
	pf.Int("device-owner", vmsched.DefaultDeviceOwner, "CPU that owns the shared device model")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console, json)")
}

// loadConfig resolves the configuration for cmd and builds its logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
