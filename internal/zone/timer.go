package zone

import (
	"sync"
	"time"
)

// generationTimer is the Timer of one controller. Every Schedule and Cancel
// bumps a generation counter; a fired timer reports the generation it was
// armed with so the controller can drop expiries that were superseded
// after the timer had already fired.
type generationTimer struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	fire  func(gen uint64)
}

func newGenerationTimer(fire func(gen uint64)) *generationTimer {
	return &generationTimer{fire: fire}
}

// Schedule arms the timer for d, replacing any pending expiry.
func (t *generationTimer) Schedule(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen == gen {
			t.timer = nil
		}
		t.mu.Unlock()
		t.fire(gen)
	})
}

// Cancel stops any pending expiry. Calling it with nothing pending is fine.
func (t *generationTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
}

// Current reports whether gen is the latest generation.
func (t *generationTimer) Current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

// Pending reports whether an expiry is scheduled and not yet fired.
func (t *generationTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *generationTimer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
