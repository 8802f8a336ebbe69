package vmsched

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInitRegistersGuests(t *testing.T) {
	s, h := newTestScheduler(t, DefaultConfig())
	cpu := mustCPU(t, s, 1)

	if err := cpu.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	want := []call{{"regs.init", 2}, {"regs.init", 3}}
	if diff := cmp.Diff(want, h.recorded()); diff != "" {
		t.Errorf("init calls mismatch (-want +got):\n%s", diff)
	}
	for id := VMID(2); id <= 3; id++ {
		g, err := s.Guest(id)
		if err != nil {
			t.Fatalf("Guest(%d) failed: %v", id, err)
		}
		if g.VMID != id || g.CPU != 1 {
			t.Errorf("Guest(%d) = {VMID: %d, CPU: %d}, want {%d, 1}", id, g.VMID, g.CPU, id)
		}
		if g.Regs.PC() != guestPC(id) {
			t.Errorf("Guest(%d) PC = 0x%x, want 0x%x", id, g.Regs.PC(), guestPC(id))
		}
	}
	if _, ok := h.armed[1]; !ok {
		t.Error("tick not armed for cpu 1")
	}
	if h.interval != DefaultTickInterval {
		t.Errorf("tick interval = %s, want %s", h.interval, DefaultTickInterval)
	}
	// cpu 0 has not initialized its guests.
	if g, _ := s.Guest(0); g.Regs.PC() != 0 {
		t.Errorf("Guest(0) initialized by cpu 1: PC = 0x%x", g.Regs.PC())
	}
}

func TestInitTimerFailure(t *testing.T) {
	s, h := newTestScheduler(t, DefaultConfig())
	h.armErr = errors.New("no free hardware timer")
	cpu := mustCPU(t, s, 0)

	err := cpu.Init()
	if !errors.Is(err, ErrTimerArm) {
		t.Fatalf("Init() = %v, want ErrTimerArm", err)
	}
	// Guests are registered and the CPU can still run its first guest.
	if err := cpu.Start(); !errors.Is(err, ErrEntryReturned) {
		t.Fatalf("Start() = %v, want ErrEntryReturned", err)
	}
	if got, _ := cpu.CurrentID(); got != 0 {
		t.Errorf("CurrentID() = %d, want 0", got)
	}
}

func TestStartFirstDispatch(t *testing.T) {
	s, h := newTestScheduler(t, DefaultConfig())

	for i := 0; i < s.NumCPUs(); i++ {
		t.Run(mustCPU(t, s, i).Range().String(), func(t *testing.T) {
			cpu := mustCPU(t, s, i)
			if _, ok := cpu.State().(Uninitialized); !ok {
				t.Fatalf("State() = %s before Start, want uninitialized", cpu.State())
			}
			if err := cpu.Init(); err != nil {
				t.Fatalf("Init() failed: %v", err)
			}
			h.reset()

			err := cpu.Start()
			if !errors.Is(err, ErrEntryReturned) {
				t.Fatalf("Start() = %v, want ErrEntryReturned", err)
			}

			first := cpu.FirstVMID()
			if got := cpu.State(); got != (Running{VMID: first}) {
				t.Errorf("State() = %s, want running(%d)", got, first)
			}

			// Nothing to save on the first dispatch; devices only on cpu 0.
			var want []call
			if cpu.IsDeviceOwner() {
				want = append(want, call{"vdev.restore", first})
			}
			want = append(want,
				call{"irq.restore", first},
				call{"mem.restore", first},
				call{"regs.restore", first},
			)
			if diff := cmp.Diff(want, h.recorded()); diff != "" {
				t.Errorf("first dispatch calls mismatch (-want +got):\n%s", diff)
			}

			if diff := cmp.Diff([]int{i}, h.entered); diff != "" {
				t.Errorf("entry mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]uint64{guestPC(first)}, h.entryPC); diff != "" {
				t.Errorf("entered with wrong context (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]Verbosity{VerboseLevel0, VerboseLevel3}, h.dumps); diff != "" {
				t.Errorf("dump levels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFirstDispatchHonoursLockedRequest(t *testing.T) {
	s, _ := newTestScheduler(t, DefaultConfig())
	cpu := mustCPU(t, s, 0)
	if err := cpu.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := cpu.RequestSwitch(1, true); err != nil {
		t.Fatalf("RequestSwitch(1, lock) failed: %v", err)
	}

	if err := cpu.Start(); !errors.Is(err, ErrEntryReturned) {
		t.Fatalf("Start() = %v, want ErrEntryReturned", err)
	}
	if got, _ := cpu.CurrentID(); got != 1 {
		t.Errorf("CurrentID() = %d, want locked choice 1", got)
	}
	if !cpu.Locked() {
		t.Error("first dispatch cleared the lock")
	}
}

func TestFirstDispatchWithoutPending(t *testing.T) {
	s, h := newTestScheduler(t, DefaultConfig())
	cpu := mustCPU(t, s, 0)

	err := cpu.GuestPerformSwitch(nil)
	if !errors.Is(err, ErrInvalidVMID) {
		t.Fatalf("GuestPerformSwitch() = %v, want ErrInvalidVMID", err)
	}
	if _, ok := cpu.State().(Uninitialized); !ok {
		t.Errorf("State() = %s, want uninitialized", cpu.State())
	}
	if len(h.entered) != 0 {
		t.Errorf("entered guest without a target: %v", h.entered)
	}
}

func TestTickOnlyRequests(t *testing.T) {
	s, h := newTestScheduler(t, DefaultConfig())
	cpu := mustCPU(t, s, 0)
	live := bootCPU(t, cpu)
	h.reset()

	h.tick(t, 0, live)

	if calls := h.recorded(); len(calls) != 0 {
		t.Errorf("tick touched hardware: %v", calls)
	}
	if got := cpu.PendingID(); got != 1 {
		t.Errorf("PendingID() = %d after tick, want 1", got)
	}
	if got, _ := cpu.CurrentID(); got != 0 {
		t.Errorf("CurrentID() = %d after tick, want 0", got)
	}
	if diff := cmp.Diff([]Verbosity{VerboseLevel3}, h.dumps); diff != "" {
		t.Errorf("tick dumps mismatch (-want +got):\n%s", diff)
	}
	if m := s.Metrics(); m.Ticks != 1 {
		t.Errorf("Ticks = %d, want 1", m.Ticks)
	}
}

// TestRoundRobinScenario boots a CPU with partition [0,1] and alternates
// ticks and reentries.
func TestRoundRobinScenario(t *testing.T) {
	for _, owner := range []int{0, 1} {
		t.Run(map[int]string{0: "device owner", 1: "not device owner"}[owner], func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DeviceOwner = owner
			s, h := newTestScheduler(t, cfg)
			cpu := mustCPU(t, s, 0)
			live := bootCPU(t, cpu)

			if got, _ := cpu.CurrentID(); got != 0 {
				t.Fatalf("CurrentID() after start = %d, want 0", got)
			}

			steps := []struct {
				wantNext VMID
				wantCur  VMID
			}{
				{wantNext: 1, wantCur: 1},
				{wantNext: 0, wantCur: 0},
				{wantNext: 1, wantCur: 1},
			}
			prev := VMID(0)
			for i, step := range steps {
				h.reset()
				h.tick(t, 0, live)
				if got := cpu.PendingID(); got != step.wantNext {
					t.Fatalf("step %d: PendingID() = %d, want %d", i, got, step.wantNext)
				}
				if err := cpu.GuestPerformSwitch(live); err != nil {
					t.Fatalf("step %d: GuestPerformSwitch() failed: %v", i, err)
				}
				if got, _ := cpu.CurrentID(); got != step.wantCur {
					t.Errorf("step %d: CurrentID() = %d, want %d", i, got, step.wantCur)
				}
				if got := cpu.PendingID(); got != NoVMID {
					t.Errorf("step %d: PendingID() = %d, want NoVMID", i, got)
				}
				if diff := cmp.Diff(saveRestore(prev, step.wantCur, owner == 0), h.recorded()); diff != "" {
					t.Errorf("step %d: calls mismatch (-want +got):\n%s", i, diff)
				}
				prev = step.wantCur
			}

			for _, id := range []VMID{0, 1} {
				g, err := s.Guest(id)
				if err != nil {
					t.Fatalf("Guest(%d) failed: %v", id, err)
				}
				if g.Regs.PC() != guestPC(id) {
					t.Errorf("guest %d saved PC = 0x%x, want 0x%x", id, g.Regs.PC(), guestPC(id))
				}
			}

			m := s.Metrics()
			if m.Switches != 3 || m.FirstDispatches != 1 {
				t.Errorf("Metrics() = %+v, want 3 switches and 1 first dispatch", m)
			}
		})
	}
}

func TestCPUsAreIndependent(t *testing.T) {
	s, _ := newTestScheduler(t, DefaultConfig())
	cpu0 := mustCPU(t, s, 0)
	cpu1 := mustCPU(t, s, 1)
	live := bootCPU(t, cpu0)
	bootCPU(t, cpu1)

	if err := cpu0.RequestSwitch(1, true); err != nil {
		t.Fatalf("RequestSwitch(1, lock) failed: %v", err)
	}
	if cpu1.Locked() {
		t.Error("locking cpu 0 locked cpu 1")
	}
	if got := cpu1.PendingID(); got != 2 {
		t.Errorf("cpu 1 PendingID() = %d, want 2", got)
	}

	if err := cpu0.GuestPerformSwitch(live); err != nil {
		t.Fatalf("GuestPerformSwitch() failed: %v", err)
	}
	if got, _ := cpu1.CurrentID(); got != 2 {
		t.Errorf("cpu 1 CurrentID() = %d, want 2", got)
	}
}

func TestDumpRegs(t *testing.T) {
	s, h := newTestScheduler(t, DefaultConfig())
	cpu := mustCPU(t, s, 0)

	var live Regs
	cpu.DumpRegs(&live)
	if diff := cmp.Diff([]Verbosity{VerboseAll}, h.dumps); diff != "" {
		t.Errorf("dump levels mismatch (-want +got):\n%s", diff)
	}
}
