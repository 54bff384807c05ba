// Package freq measures the RF frequency by timing periods of the
// pre-divided RF signal.
package freq

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/itohio/goatu/pkg/clock"
	"github.com/itohio/goatu/pkg/config"
)

const (
	// Invalid is returned by MeasureFrequency when there is no usable signal.
	Invalid uint16 = 0xFFFF

	// DefaultMagicNumber is KHz*ticks for a 48 MHz timer behind a /256 pre-divider.
	DefaultMagicNumber = 12288000
	// DefaultEdgeTimeout bounds every edge wait.
	DefaultEdgeTimeout = 50 * time.Millisecond
	// DefaultSamples is the number of periods averaged per frequency reading.
	DefaultSamples = 4

	overflowStep = 1 << 16
)

// ErrTimeout is returned when an expected edge did not arrive in time.
var ErrTimeout = errors.New("frequency counter edge timeout")

// Input is the digital level of the pre-divided RF signal.
type Input interface {
	Level() bool
}

// Timer is a free running 16-bit hardware counter. Its overflow interrupt
// must call Counter.HandleOverflow.
type Timer interface {
	Reset()
	Count() uint16
}

// Counter measures the signal period on Input with Timer.
type Counter struct {
	in    Input
	timer Timer
	clk   clock.Clock

	magic   uint32
	timeout time.Duration
	samples int

	// written by the overflow interrupt, read by the foreground
	overflow atomic.Uint32
}

// New creates a frequency counter.
func New(in Input, timer Timer, clk clock.Clock, cfg config.FrequencyConfig) *Counter {
	c := &Counter{
		in:      in,
		timer:   timer,
		clk:     clk,
		magic:   cfg.MagicNumber,
		timeout: cfg.EdgeTimeout,
		samples: cfg.Samples,
	}
	if c.magic == 0 {
		c.magic = DefaultMagicNumber
	}
	if c.timeout <= 0 {
		c.timeout = DefaultEdgeTimeout
	}
	if c.samples <= 0 {
		c.samples = DefaultSamples
	}
	return c
}

// HandleOverflow is the timer overflow interrupt handler.
func (c *Counter) HandleOverflow() {
	c.overflow.Add(overflowStep)
}

// SetMagicNumber replaces the field calibration constant.
func (c *Counter) SetMagicNumber(magic uint32) {
	if magic != 0 {
		c.magic = magic
	}
}

// MeasurePeriod returns the duration of one signal period in timer ticks.
// It syncs to a rising edge, starts the timer, then waits for the falling
// and the next rising edge.
func (c *Counter) MeasurePeriod() (uint32, error) {
	deadline := c.clk.Now() + c.timeout

	// A rising edge needs a low level first.
	if err := c.waitLevel(false, deadline); err != nil {
		return 0, err
	}
	if err := c.waitLevel(true, deadline); err != nil {
		return 0, err
	}

	c.timer.Reset()
	c.overflow.Store(0)

	if err := c.waitLevel(false, deadline); err != nil {
		return 0, err
	}
	if err := c.waitLevel(true, deadline); err != nil {
		return 0, err
	}

	return c.elapsed(), nil
}

// elapsed combines the overflow extension and the hardware count. An
// overflow between the two reads is detected and the pair is read again.
func (c *Counter) elapsed() uint32 {
	for {
		hi := c.overflow.Load()
		lo := c.timer.Count()
		if c.overflow.Load() == hi {
			return hi + uint32(lo)
		}
	}
}

func (c *Counter) waitLevel(level bool, deadline time.Duration) error {
	for c.in.Level() != level {
		if c.clk.Now() >= deadline {
			return ErrTimeout
		}
	}
	return nil
}

// MeasureFrequency averages several periods and returns the frequency in KHz,
// or Invalid.
func (c *Counter) MeasureFrequency() uint16 {
	var sum uint64
	for i := 0; i < c.samples; i++ {
		p, err := c.MeasurePeriod()
		if err != nil {
			return Invalid
		}
		sum += uint64(p)
	}

	period := sum / uint64(c.samples)
	if period == 0 {
		return Invalid
	}

	khz := uint64(c.magic) / period
	if khz == 0 || khz >= uint64(Invalid) {
		return Invalid
	}
	return uint16(khz)
}

// Valid reports whether a frequency reading is usable.
func Valid(khz uint16) bool {
	return khz != 0 && khz != Invalid
}
