package vmsched

import "fmt"

// VMID identifies a guest. Identifiers are small, dense and assigned once.
type VMID int

// NoVMID is the "none" identifier used for an empty pending slot.
const NoVMID VMID = -1

// Range is an inclusive, contiguous span of guest identifiers owned by one
// physical CPU.
type Range struct {
	First VMID `mapstructure:"first"`
	Last  VMID `mapstructure:"last"`
}

// Contains reports whether id lies inside the range.
func (r Range) Contains(id VMID) bool { return id >= r.First && id <= r.Last }

// Len returns the number of identifiers in the range.
func (r Range) Len() int { return int(r.Last-r.First) + 1 }

func (r Range) String() string { return fmt.Sprintf("[%d-%d]", r.First, r.Last) }

// Partition maps a CPU index to the range of guests it may schedule.
type Partition []Range

// DefaultPartition gives CPU i the identifiers [i*n, i*n+n-1].
func DefaultPartition(cpus, n int) Partition {
	p := make(Partition, cpus)
	for i := range p {
		first := VMID(i * n)
		p[i] = Range{First: first, Last: first + VMID(n) - 1}
	}
	return p
}

// Validate checks that ranges are non-empty, start at zero and follow each
// other without gaps or overlap, so the table covers a dense registry.
func (p Partition) Validate() error {
	if len(p) == 0 {
		return schedErrf(StatusBadConfig, "empty partition table")
	}
	next := VMID(0)
	for cpu, r := range p {
		if r.First < 0 || r.Last < r.First {
			return schedErrf(StatusBadConfig, "cpu %d: malformed range %s", cpu, r)
		}
		if r.First != next {
			return schedErrf(StatusBadConfig, "cpu %d: range %s must start at %d", cpu, r, next)
		}
		next = r.Last + 1
	}
	return nil
}

// Capacity returns the number of guests covered by the table.
func (p Partition) Capacity() int {
	if len(p) == 0 {
		return 0
	}
	return int(p[len(p)-1].Last) + 1
}

// Owner returns the CPU whose range contains id.
func (p Partition) Owner(id VMID) (int, bool) {
	for cpu, r := range p {
		if r.Contains(id) {
			return cpu, true
		}
	}
	return 0, false
}
