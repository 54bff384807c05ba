package rf

import (
	"errors"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/goatu/pkg/clock"
)

var (
	// ErrNoSignal is returned when no RF was seen before the timeout.
	ErrNoSignal = errors.New("no RF signal")
	// ErrUnstable is returned when RF was present but did not settle before the timeout.
	ErrUnstable = errors.New("RF did not stabilize")
)

const (
	smoothing     float32 = 0.2  // EMA alpha
	slopeFraction float32 = 0.01 // slope must stay below 1% of the smoothed value
	stablePolls           = 10
)

// Poller is a fast forward power reading with debounced presence.
type Poller interface {
	Poll() float32
	Present() bool
}

var _ Poller = (*Sampler)(nil)

// Stabilizer waits for the smoothed forward reading to flatten out.
type Stabilizer struct {
	src  Poller
	clk  clock.Clock
	poll time.Duration
}

// NewStabilizer creates a stabilizer polling src every poll interval.
func NewStabilizer(src Poller, clk clock.Clock, poll time.Duration) *Stabilizer {
	if poll <= 0 {
		poll = time.Millisecond
	}
	return &Stabilizer{src: src, clk: clk, poll: poll}
}

// Wait blocks until RF is present and its slope stayed below 1% of the
// smoothed value for 10 consecutive polls, or until timeout elapses.
func (s *Stabilizer) Wait(timeout time.Duration) error {
	deadline := s.clk.Now() + timeout
	ema := s.src.Poll()
	stable := 0
	seen := false

	for {
		if s.clk.Now() >= deadline {
			if !seen {
				return ErrNoSignal
			}
			return ErrUnstable
		}
		s.clk.Sleep(s.poll)

		v := s.src.Poll()
		next := ema + smoothing*(v-ema)
		slope := math32.Abs(next - ema)
		ema = next

		present := s.src.Present()
		seen = seen || present
		if present && slope < slopeFraction*ema {
			stable++
		} else {
			stable = 0
		}
		if stable >= stablePolls {
			return nil
		}
	}
}
