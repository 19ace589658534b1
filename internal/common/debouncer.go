package common

import (
	"sync"
	"time"
)

// Debouncer is a simple time-based gate:
// - Ready tells whether enough time has passed since last Mark.
// - Mark records a successful action time.
//
// Used to keep repeated notifications (an erroring bot can flap every few
// seconds) from flooding a chat.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Ready reports whether the action should run now, based on the last Mark.
// It does NOT update internal state.
func (d *Debouncer) Ready(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.interval <= 0 {
		return true
	}
	if d.last.IsZero() {
		return true
	}
	return now.Sub(d.last) >= d.interval
}

// Mark records a successful action time.
func (d *Debouncer) Mark(now time.Time) {
	d.mu.Lock()
	d.last = now
	d.mu.Unlock()
}

// Reset clears the last action time (next Ready returns true).
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last = time.Time{}
	d.mu.Unlock()
}
