package sim

import (
	"fmt"
	"sync"

	"github.com/blacktop/go-vmsched"
)

// Event is one collaborator call observed by the simulator.
type Event struct {
	CPU  int          `json:"cpu"`
	Op   string       `json:"op"`
	VMID vmsched.VMID `json:"vmid"`
}

func (e Event) String() string {
	if e.VMID == vmsched.NoVMID {
		return fmt.Sprintf("cpu%d %s", e.CPU, e.Op)
	}
	return fmt.Sprintf("cpu%d %s(%d)", e.CPU, e.Op, e.VMID)
}

// Recorder keeps an ordered log of Events. A nil *Recorder discards.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder returns a recorder keeping at most limit events (0 = no limit).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) add(cpu int, op string, id vmsched.VMID) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.events) >= r.limit {
		return
	}
	r.events = append(r.events, Event{CPU: cpu, Op: op, VMID: id})
}

// Events returns a copy of the log.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset empties the log.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
