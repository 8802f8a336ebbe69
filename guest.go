package vmsched

// Guest is the record of one virtual machine.
type Guest struct {
	VMID VMID
	// CPU is the physical CPU whose partition owns this guest.
	CPU  int
	Regs Regs
}

// Registry is the fixed-capacity guest table, indexed by VMID. It is sized
// once at boot and never grows, shrinks or moves.
type Registry struct {
	guests []Guest
}

// NewRegistry allocates a registry with room for capacity guests.
func NewRegistry(capacity int) *Registry {
	return &Registry{guests: make([]Guest, capacity)}
}

// Len returns the registry capacity.
func (r *Registry) Len() int { return len(r.guests) }

// Get returns a snapshot of the guest record for id.
func (r *Registry) Get(id VMID) (Guest, error) {
	g, err := r.slot(id)
	if err != nil {
		return Guest{}, err
	}
	return *g, nil
}

// slot returns the live record. Only the owning CPU's engine and bootstrap
// code may write through it.
func (r *Registry) slot(id VMID) (*Guest, error) {
	if id < 0 || int(id) >= len(r.guests) {
		return nil, schedErrf(StatusInvalidVMID, "vmid %d outside registry of %d", id, len(r.guests))
	}
	return &r.guests[id], nil
}
