package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/blacktop/go-vmsched"
)

var errNoTimer = errors.New("timer: no generic timer present")

type armed struct {
	interval time.Duration
	fn       vmsched.TickFunc
}

// Timer implements vmsched.Timer. Arm only records the handler; the machine
// run loop of each CPU delivers the ticks.
type Timer struct {
	disabled bool

	mu    sync.Mutex
	armed map[int]armed
}

func newTimer(disabled bool) *Timer {
	return &Timer{disabled: disabled, armed: make(map[int]armed)}
}

func (t *Timer) Arm(cpu int, interval time.Duration, fn vmsched.TickFunc) error {
	if t.disabled {
		return errNoTimer
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed[cpu] = armed{interval: interval, fn: fn}
	return nil
}

func (t *Timer) lookup(cpu int) (armed, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.armed[cpu]
	return a, ok
}
