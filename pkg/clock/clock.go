// Package clock provides the monotonic time source used to bound every
// blocking wait in the tuner.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Duration // Time since an arbitrary fixed origin
	Sleep(d time.Duration)
}

// System is a Clock backed by the runtime monotonic clock.
type System struct {
	origin time.Time
}

var _ Clock = (*System)(nil)

// NewSystem creates a system clock with its origin at the current instant.
func NewSystem() *System {
	return &System{origin: time.Now()}
}

func (s *System) Now() time.Duration {
	return time.Since(s.origin)
}

func (s *System) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake is a manually driven Clock. Sleep advances it instantly, and every
// Now call advances it by Step, so busy-wait loops terminate in tests.
type Fake struct {
	mu   sync.Mutex
	now  time.Duration
	Step time.Duration
}

var _ Clock = (*Fake)(nil)

// NewFake creates a fake clock that advances by step on every Now call.
func NewFake(step time.Duration) *Fake {
	return &Fake{Step: step}
}

func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += f.Step
	return f.now
}

func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}

// Elapsed returns the current reading without advancing the clock.
func (f *Fake) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}
