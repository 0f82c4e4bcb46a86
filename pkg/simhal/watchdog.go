package simhal

import (
	"sync"
	"time"
)

// Watchdog is a software watchdog timer with the arm/kick/disarm contract
// of a hardware one. Instead of resetting anything when it expires, it
// closes its Expired channel exactly once, which bootcore.Halt (and any
// test) observes as "the device reset here".
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	expired chan struct{}
	fired   bool
}

func NewWatchdog() *Watchdog {
	return &Watchdog{expired: make(chan struct{})}
}

func (w *Watchdog) Arm(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = timeout
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(timeout, w.fire)
}

func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && !w.fired {
		w.timer.Reset(w.timeout)
	}
}

func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) Expired() <-chan struct{} {
	return w.expired
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fired {
		w.fired = true
		close(w.expired)
	}
}
