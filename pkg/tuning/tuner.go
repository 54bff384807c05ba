// Package tuning searches the relay space of the matching network for the
// configuration with the lowest reflection and keeps good solutions in memory.
//
// Tuning runs in the foreground and blocks its caller. Every wait inside
// is bounded by a timeout or by the per-cycle comparison budget.
package tuning

import (
	"time"

	"github.com/itohio/goatu/pkg/freq"
	"github.com/itohio/goatu/pkg/memory"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
)

const component = "tuning"

// Publisher switches the relay bank.
type Publisher interface {
	Publish(c relays.Config) error
}

// Sampler takes an averaged RF measurement.
type Sampler interface {
	Sample(freqKHz uint16) rf.Measurement
}

// Settler waits for RF to settle.
type Settler interface {
	Wait(timeout time.Duration) error
}

// FrequencyMeter measures the RF frequency in KHz, returning freq.Invalid on failure.
type FrequencyMeter interface {
	MeasureFrequency() uint16
}

// Memory persists solutions per slot.
type Memory interface {
	Recall(slot uint16) (memory.Record, bool, error)
	Save(slot uint16, rec memory.Record) error
}

// Logger is the subset of the application logger the tuner uses.
type Logger interface {
	Debugf(component, format string, args ...interface{})
	Infof(component, format string, args ...interface{})
	Warnf(component, format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, string, ...interface{}) {}
func (nopLogger) Infof(string, string, ...interface{})  {}
func (nopLogger) Warnf(string, string, ...interface{})  {}

// Hardware bundles the services the tuner drives.
type Hardware struct {
	Relays  Publisher
	Sampler Sampler
	Settler Settler
	Meter   FrequencyMeter
	Memory  Memory // optional; without it nothing is stored or recalled
}

// Settings are the search parameters.
type Settings struct {
	SWRThreshold      float32
	MaxComparisons    int
	StableTimeout     time.Duration // initial wait for RF
	SettleTimeout     time.Duration // wait after every relay switch
	CapacitorLimitKHz uint16
	InductorLimitKHz  uint16
	MaxCapacitors     uint8
	MaxInductors      uint8
}

// DefaultSettings returns the settings of a seven by seven relay network.
func DefaultSettings() Settings {
	return Settings{
		SWRThreshold:      1.7,
		MaxComparisons:    1000,
		StableTimeout:     2500 * time.Millisecond,
		SettleTimeout:     50 * time.Millisecond,
		CapacitorLimitKHz: 30000,
		InductorLimitKHz:  15000,
		MaxCapacitors:     relays.MaxValue,
		MaxInductors:      relays.MaxValue,
	}
}

// Tuner runs tuning cycles. It is not safe for concurrent use: there is
// exactly one search in flight at any time.
type Tuner struct {
	hw       Hardware
	settings Settings
	log      Logger

	// per cycle state
	attempts int
	freqKHz  uint16
	bounds   Bounds
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(t *Tuner) {
		if l != nil {
			t.log = l
		}
	}
}

// New creates a tuner.
func New(hw Hardware, s Settings, opts ...Option) *Tuner {
	if s.MaxComparisons <= 0 {
		s.MaxComparisons = 1000
	}
	if s.MaxCapacitors == 0 {
		s.MaxCapacitors = relays.MaxValue
	}
	if s.MaxInductors == 0 {
		s.MaxInductors = relays.MaxValue
	}
	t := &Tuner{
		hw:       hw,
		settings: s,
		log:      nopLogger{},
		freqKHz:  freq.Invalid,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.bounds = BoundsFor(t.freqKHz, s)
	return t
}

// Settings returns the tuner settings.
func (t *Tuner) Settings() Settings {
	return t.settings
}

// FrequencyKHz returns the last measured frequency.
func (t *Tuner) FrequencyKHz() uint16 {
	return t.freqKHz
}

// Comparisons returns the number of comparisons in the current or last cycle.
func (t *Tuner) Comparisons() int {
	return t.attempts
}

// beginCycle resets the per cycle state.
func (t *Tuner) beginCycle() {
	t.attempts = 0
}

// setFrequency records the frequency and recomputes the search bounds.
func (t *Tuner) setFrequency(khz uint16) {
	t.freqKHz = khz
	t.bounds = BoundsFor(khz, t.settings)
}

// compare publishes candidate, measures it once RF settled and returns the
// better of the new match and best. On any failure best is returned as is.
func (t *Tuner) compare(errs *Errors, candidate relays.Config, best Match) Match {
	if !errs.OK() {
		return best
	}

	if err := t.hw.Relays.Publish(candidate); err != nil {
		t.log.Warnf(component, "publish %s: %v", candidate, err)
		errs.Set(RelayError)
		return best
	}

	if err := t.hw.Settler.Wait(t.settings.SettleTimeout); err != nil {
		t.log.Warnf(component, "settle after %s: %v", candidate, err)
		errs.Set(LostRF)
		return best
	}

	t.attempts++
	m := Match{
		Relays:  candidate,
		RF:      t.hw.Sampler.Sample(t.freqKHz),
		Attempt: uint16(t.attempts),
	}
	if t.attempts >= t.settings.MaxComparisons {
		t.log.Warnf(component, "comparison budget of %d exhausted", t.settings.MaxComparisons)
		errs.Set(Timeout)
	}

	return Better(m, best)
}
