package sim

import (
	"fmt"
	"sync"

	"github.com/blacktop/go-vmsched"
)

// VDevices implements vmsched.Devices: a single virtual device model shared
// by every CPU, bound to one guest at a time.
type VDevices struct {
	owner int
	rec   *Recorder

	mu       sync.Mutex
	active   vmsched.VMID
	detached bool
	contexts map[vmsched.VMID]int
	switches int
}

func newVDevices(owner int, rec *Recorder) *VDevices {
	return &VDevices{
		owner:    owner,
		rec:      rec,
		active:   vmsched.NoVMID,
		contexts: make(map[vmsched.VMID]int),
	}
}

// Save detaches the device model from id. Two saves without a restore in
// between mean the model is driven from more than one CPU; the second save
// fails and leaves the model untouched.
func (d *VDevices) Save(id vmsched.VMID) error {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		return fmt.Errorf("vdev: nested save for guest %d", id)
	}
	d.detached = true
	if d.active == id {
		d.active = vmsched.NoVMID
	}
	d.contexts[id]++
	d.mu.Unlock()
	d.rec.add(d.owner, "dev.save", id)
	return nil
}

// Restore attaches the device model to id.
func (d *VDevices) Restore(id vmsched.VMID) error {
	d.mu.Lock()
	d.active = id
	d.detached = false
	d.switches++
	d.mu.Unlock()
	d.rec.add(d.owner, "dev.restore", id)
	return nil
}

// Active returns the guest the device model is bound to.
func (d *VDevices) Active() vmsched.VMID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Saves returns how often id's device context was saved.
func (d *VDevices) Saves(id vmsched.VMID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contexts[id]
}
