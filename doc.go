// Package vmsched provides the guest scheduler and context-switch engine of
// a partitioned hypervisor.
//
// Each physical CPU owns a contiguous range of guest identifiers and a
// scheduling cell (resident guest, pending guest, lock). A periodic timer
// tick asks the policy which guest should run next and only records the
// request; the hardware switch happens later, when the CPU traps back into
// the hypervisor and calls the reentry point.
//
// # Basic Usage
//
// Build a scheduler from the static configuration and the hardware
// collaborators:
//
//	sched, err := vmsched.New(vmsched.DefaultConfig(), vmsched.Collaborators{
//		Registers:  regs,
//		Memory:     stage2,
//		Interrupts: vgic,
//		Devices:    vdev,
//		Timer:      timer,
//		Entry:      entry,
//	}, vmsched.WithLogger(logger))
//	if err != nil {
//		log.Fatal("Failed to create scheduler:", err)
//	}
//
// Boot one CPU (on that CPU):
//
//	cpu, _ := sched.CPU(0)
//	if err := cpu.Init(); err != nil && !errors.Is(err, vmsched.ErrTimerArm) {
//		log.Fatal("Failed to init guests:", err)
//	}
//	// Does not return: the CPU continues as the first guest.
//	err = cpu.Start()
//
// From the trap handler, on every exit from a guest:
//
//	err := cpu.GuestPerformSwitch(trapFrame)
//	if err != nil && !vmsched.IsIgnored(err) {
//		logger.Error("switch failed", zap.Error(err))
//	}
//
// Package sim provides in-process collaborators and runs every CPU on a
// goroutine; see cmd/vmsched for a driver.
//
// # Switch Sequence
//
// Save: registers, memory, interrupts, devices (device owner only).
// Restore: devices (device owner only), interrupts, memory, registers.
// The resident-guest pivot happens between the two phases.
//
// # Error Handling
//
// Errors are *SchedError values carrying a Status code. ErrIgnored is the
// benign outcome of a self-switch, a locked cell or an empty pending slot.
// Set VMSCHED_ENV=production to get terse error messages.
//
// # Shared State
//
// Only two things are shared between CPUs: the manual override, published
// atomically, and the virtual device model, which only the device-owner CPU
// (CPU 0 by default) may save or restore.
package vmsched
