package relays

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPowerVeto is returned when a switch is refused because forward power
	// is above the ceiling. Hot switching would arc the relay contacts.
	ErrPowerVeto = errors.New("forward power above switching ceiling")
	// ErrRange is returned when a configuration addresses relays the port does not have.
	ErrRange = errors.New("relay value out of range")
)

// Driver writes a packed relay word to the relay hardware (shift registers,
// SPI expander or a remote board). A Write is all-or-nothing.
type Driver interface {
	Write(word uint16) error
}

// PowerGauge reports the present forward power in watts.
type PowerGauge func() float32

// Bank is the single publish path to the relay hardware.
type Bank struct {
	drv     Driver
	gauge   PowerGauge
	ceiling float32

	maxCaps uint8
	maxInds uint8

	mu        sync.Mutex
	antenna   bool
	current   Config
	published int
}

// Option configures a Bank.
type Option func(*Bank)

// WithPowerVeto refuses to publish while gauge reports more than ceiling watts.
func WithPowerVeto(gauge PowerGauge, ceiling float32) Option {
	return func(b *Bank) {
		b.gauge = gauge
		b.ceiling = ceiling
	}
}

// WithRelayCount limits the bank to the given number of capacitor and inductor relays.
func WithRelayCount(capacitors, inductors int) Option {
	return func(b *Bank) {
		b.maxCaps = maxForCount(capacitors)
		b.maxInds = maxForCount(inductors)
	}
}

// NewBank creates a relay bank publishing through drv.
func NewBank(drv Driver, opts ...Option) *Bank {
	b := &Bank{
		drv:     drv,
		maxCaps: MaxValue,
		maxInds: MaxValue,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func maxForCount(n int) uint8 {
	if n <= 0 || n > MaxRelays {
		n = MaxRelays
	}
	return uint8(1<<n - 1)
}

// MaxCapacitors returns the largest capacitor value of this bank.
func (b *Bank) MaxCapacitors() uint8 { return b.maxCaps }

// MaxInductors returns the largest inductor value of this bank.
func (b *Bank) MaxInductors() uint8 { return b.maxInds }

// SelectAntenna selects the antenna port forced into every subsequent publish.
func (b *Bank) SelectAntenna(port bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.antenna = port
}

// Antenna returns the selected antenna port.
func (b *Bank) Antenna() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.antenna
}

// Publish switches the relays to c. The antenna bit is replaced by the
// selected port. On error the previously published configuration stays in effect.
func (b *Bank) Publish(c Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c.Antenna = b.antenna
	if c.Capacitors > b.maxCaps || c.Inductors > b.maxInds {
		return fmt.Errorf("%w: %s", ErrRange, c)
	}

	if b.gauge != nil && b.ceiling > 0 && c != b.current {
		if p := b.gauge(); p > b.ceiling {
			return fmt.Errorf("%w: %.1fW > %.1fW", ErrPowerVeto, p, b.ceiling)
		}
	}

	if err := b.drv.Write(c.Pack()); err != nil {
		return fmt.Errorf("failed to write relays: %w", err)
	}

	b.current = c
	b.published++
	return nil
}

// Current returns the last successfully published configuration.
func (b *Bank) Current() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Published returns the number of successful publishes.
func (b *Bank) Published() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}
