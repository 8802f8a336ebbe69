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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blacktop/go-vmsched"
	"github.com/blacktop/go-vmsched/sim"
)

// GuestState is the saved context of one guest. For the guest resident on
// a CPU when the run stopped it is the context of its last switch out.
type GuestState struct {
	VMID     int    `json:"vmid"`
	CPU      int    `json:"cpu"`
	Resident bool   `json:"resident"`
	PC       uint64 `json:"pc"`
	SP       uint64 `json:"sp"`
	CPSR     uint64 `json:"cpsr"`
	Retired  uint64 `json:"retired"` // X0
}

// CPUState summarizes one physical CPU.
type CPUState struct {
	CPU     int    `json:"cpu"`
	VMIDs   string `json:"vmids"`
	State   string `json:"state"`
	Retired uint64 `json:"retired"`
}

// RunResult is printed as JSON when the run ends.
type RunResult struct {
	Metrics  vmsched.Metrics `json:"metrics"`
	Override *int            `json:"override,omitempty"`
	CPUs     []CPUState      `json:"cpus"`
	Guests   []GuestState    `json:"guests"`
	Trace    []sim.Event     `json:"trace,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.Duration("duration", time.Second, "how long to run before halting every CPU")
	f.Duration("quantum", sim.DefaultQuantum, "interval between guest instructions")
	f.Int("dump-level", -1, "highest register dump level to log (0-3, -1 for none)")
	f.Bool("trace", false, "include the collaborator call trace in the result")
	f.IntP("override", "o", -1, "pin every CPU to this VMID (a CPU that does not own it keeps running)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot a simulated machine and print scheduler state as JSON",
	Long: `Boot every physical CPU of a simulated machine on its own goroutine, let
the scheduling tick rotate guests for --duration (or until interrupted) and
print the resulting metrics, CPU and guest state as JSON.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var rec *sim.Recorder
	if cfg.Sim.Trace {
		rec = sim.NewRecorder(cfg.Sim.TraceMax)
	}

	m, err := sim.New(cfg.Scheduler, sim.Options{
		Logger:   logger,
		Recorder: rec,
		Quantum:  cfg.Sim.Quantum,
		DumpMask: cfg.Sim.DumpMask(),
	})
	if err != nil {
		return fmt.Errorf("failed to create machine: %w", err)
	}

	result := &RunResult{}
	if id := cfg.Sim.Override; id >= 0 {
		if err := m.Scheduler().SetOverride(vmsched.VMID(id)); err != nil {
			return err
		}
		result.Override = &id
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Sim.Duration)
	defer cancel()

	logger.Info("Starting machine",
		zap.Int("cpus", cfg.Scheduler.NumCPUs),
		zap.Duration("duration", cfg.Sim.Duration),
	)
	runErr := m.Run(ctx)
	if runErr != nil {
		result.Error = runErr.Error()
	}

	if err := collect(m, result); err != nil {
		return err
	}
	result.Trace = rec.Events()

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(output))
	return runErr
}

func collect(m *sim.Machine, result *RunResult) error {
	s := m.Scheduler()
	result.Metrics = s.Metrics()

	resident := make(map[vmsched.VMID]bool)
	for i := 0; i < s.NumCPUs(); i++ {
		cpu, err := s.CPU(i)
		if err != nil {
			return err
		}
		if id, ok := cpu.CurrentID(); ok {
			resident[id] = true
		}
		result.CPUs = append(result.CPUs, CPUState{
			CPU:     i,
			VMIDs:   cpu.Range().String(),
			State:   cpu.State().String(),
			Retired: m.Retired(i),
		})
	}

	for id := vmsched.VMID(0); int(id) < s.Partition().Capacity(); id++ {
		g, err := s.Guest(id)
		if err != nil {
			return err
		}
		batch, err := g.Regs.Batch(vmsched.RegPC, vmsched.RegSP, vmsched.RegCPSR, vmsched.RegX0)
		if err != nil {
			return err
		}
		result.Guests = append(result.Guests, GuestState{
			VMID:     int(id),
			CPU:      g.CPU,
			Resident: resident[id],
			PC:       batch[vmsched.RegPC],
			SP:       batch[vmsched.RegSP],
			CPSR:     batch[vmsched.RegCPSR],
			Retired:  batch[vmsched.RegX0],
		})
	}
	return nil
}
