package sim

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/blacktop/go-vmsched"
)

// Base of the simulated stage-2 translation tables, one page per guest.
const stage2TableBase = 0x80000000

var (
	pageSize     uint64
	pageSizeOnce sync.Once
)

func getPageSize() uint64 {
	pageSizeOnce.Do(func() {
		pageSize = uint64(unix.Getpagesize())
	})
	return pageSize
}

func isPageAligned(addr uint64) bool {
	return addr&(getPageSize()-1) == 0
}

// Stage2 implements vmsched.Memory. Each guest owns one translation table;
// restoring a guest loads its table base and VMID into the owning CPU's
// VTTBR.
type Stage2 struct {
	partition vmsched.Partition
	rec       *Recorder

	mu    sync.Mutex
	vttbr map[int]uint64
	saves int
}

func newStage2(p vmsched.Partition, rec *Recorder) *Stage2 {
	return &Stage2{partition: p, rec: rec, vttbr: make(map[int]uint64)}
}

// TableBase returns the translation table address of guest id.
func TableBase(id vmsched.VMID) uint64 {
	return stage2TableBase + uint64(id)*getPageSize()
}

// Save marks the live translation context as retired. There is nothing to
// copy: tables are per guest and stay in memory.
func (s *Stage2) Save() error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	s.rec.add(-1, "mem.save", vmsched.NoVMID)
	return nil
}

// Restore loads guest id's translation table on its owning CPU.
func (s *Stage2) Restore(id vmsched.VMID) error {
	cpu, ok := s.partition.Owner(id)
	if !ok {
		return fmt.Errorf("stage2: vmid %d has no owner", id)
	}
	base := TableBase(id)
	if !isPageAligned(base) {
		return fmt.Errorf("stage2: table base 0x%x is not page aligned", base)
	}

	s.mu.Lock()
	s.vttbr[cpu] = uint64(id)<<48 | base
	s.mu.Unlock()
	s.rec.add(cpu, "mem.restore", id)
	return nil
}

// VTTBR returns the translation base register currently loaded on cpu.
func (s *Stage2) VTTBR(cpu int) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vttbr[cpu]
	return v, ok
}
