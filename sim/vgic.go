package sim

import (
	"fmt"
	"sync"

	"github.com/blacktop/go-vmsched"
)

// VGIC implements vmsched.Interrupts. It keeps the pending virtual interrupt
// set of every guest; the live set of each CPU belongs to its resident guest.
type VGIC struct {
	partition vmsched.Partition
	rec       *Recorder

	mu    sync.Mutex
	live  map[int]uint64
	saved map[vmsched.VMID]uint64
}

func newVGIC(p vmsched.Partition, rec *Recorder) *VGIC {
	return &VGIC{
		partition: p,
		rec:       rec,
		live:      make(map[int]uint64),
		saved:     make(map[vmsched.VMID]uint64),
	}
}

func (v *VGIC) owner(id vmsched.VMID) (int, error) {
	cpu, ok := v.partition.Owner(id)
	if !ok {
		return 0, fmt.Errorf("vgic: vmid %d has no owner", id)
	}
	return cpu, nil
}

// Save moves the live pending set of id's CPU into id's record.
func (v *VGIC) Save(id vmsched.VMID) error {
	cpu, err := v.owner(id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.saved[id] = v.live[cpu]
	v.live[cpu] = 0
	v.mu.Unlock()
	v.rec.add(cpu, "irq.save", id)
	return nil
}

// Restore makes id's recorded pending set live on its CPU.
func (v *VGIC) Restore(id vmsched.VMID) error {
	cpu, err := v.owner(id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.live[cpu] = v.saved[id]
	v.mu.Unlock()
	v.rec.add(cpu, "irq.restore", id)
	return nil
}

// Raise marks virtual interrupt irq (0-63) pending on cpu's resident guest.
func (v *VGIC) Raise(cpu int, irq uint) {
	v.mu.Lock()
	v.live[cpu] |= 1 << (irq & 63)
	v.mu.Unlock()
}

// Pending returns the pending set recorded for a guest that is not resident.
func (v *VGIC) Pending(id vmsched.VMID) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saved[id]
}

// Live returns the pending set of cpu's resident guest.
func (v *VGIC) Live(cpu int) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.live[cpu]
}
