// Package sim simulates the tuner hardware: a transmitter feeding an
// antenna through the relay switched L network, the directional coupler
// detectors, the pre-divided RF edge input with its 16-bit timer and the
// clock everything runs on.
//
// Time is virtual. It advances only when the code under test sleeps, polls
// the edge input or reads the ADC, so a full tuning cycle completes in
// milliseconds of wall time and is fully deterministic.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/itohio/goatu/pkg/clock"
	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/freq"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
)

const (
	// DetectorGain converts detector volts to watts: P = DetectorGain * V^2.
	DetectorGain = 13.2
	// VRef is the ADC reference voltage.
	VRef = 3.3

	adcTime    = 5 * time.Microsecond // conversion time of one ADC reading
	switchTime = 3 * time.Millisecond // relay bounce after a publish
	levelTicks = 1                    // timer ticks per edge poll
)

// Rig is the simulated hardware. It implements relays.Driver, rf.ADC,
// freq.Input, freq.Timer and clock.Clock.
type Rig struct {
	mu sync.Mutex

	network    Network
	hz         float64
	power      float64
	timerClock float64
	divider    float64
	keyed      bool

	relays      relays.Config
	writes      int
	switchUntil uint64

	ticks      uint64
	timerBase  uint64
	onOverflow func()
}

var (
	_ relays.Driver = (*Rig)(nil)
	_ rf.ADC        = (*Rig)(nil)
	_ freq.Input    = (*Rig)(nil)
	_ freq.Timer    = (*Rig)(nil)
	_ clock.Clock   = (*Rig)(nil)
)

// New creates a rig from the simulation settings. The transmitter starts keyed.
func New(cfg config.SimConfig) *Rig {
	def := config.Default().Sim
	if cfg.TimerClock <= 0 {
		cfg.TimerClock = def.TimerClock
	}
	if cfg.PreDivider <= 0 {
		cfg.PreDivider = def.PreDivider
	}
	if cfg.LoadR <= 0 {
		cfg.LoadR = def.LoadR
	}
	return &Rig{
		network:    Network{Load: complex(cfg.LoadR, cfg.LoadX)},
		hz:         float64(cfg.FrequencyKHz) * 1e3,
		power:      cfg.Power,
		timerClock: cfg.TimerClock,
		divider:    float64(cfg.PreDivider),
		keyed:      true,
	}
}

// Key switches the transmitter on or off.
func (r *Rig) Key(on bool) {
	r.mu.Lock()
	r.keyed = on
	r.mu.Unlock()
}

// SetFrequencyKHz changes the transmit frequency.
func (r *Rig) SetFrequencyKHz(khz int) {
	r.mu.Lock()
	r.hz = float64(khz) * 1e3
	r.mu.Unlock()
}

// SetLoad changes the antenna impedance.
func (r *Rig) SetLoad(z complex128) {
	r.mu.Lock()
	r.network.Load = z
	r.mu.Unlock()
}

// SetPower changes the transmitter power (W).
func (r *Rig) SetPower(watts float64) {
	r.mu.Lock()
	r.power = watts
	r.mu.Unlock()
}

// OnOverflow registers the timer overflow interrupt handler.
func (r *Rig) OnOverflow(fn func()) {
	r.mu.Lock()
	r.onOverflow = fn
	r.mu.Unlock()
}

// Relays returns the relay configuration last written.
func (r *Rig) Relays() relays.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relays
}

// Writes returns the number of relay words written.
func (r *Rig) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// SWR returns the true SWR of the current relay configuration.
func (r *Rig) SWR() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.network.SWR(r.relays, r.hz)
}

// Write implements relays.Driver.
func (r *Rig) Write(word uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays = relays.Unpack(word)
	r.writes++
	r.switchUntil = r.ticks + r.toTicks(switchTime)
	return nil
}

// ReadChannel implements rf.ADC.
func (r *Rig) ReadChannel(ch rf.Channel) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(r.toTicks(adcTime))

	if !r.keyed || r.power <= 0 {
		return 0
	}
	fwd := r.power
	gamma := r.network.Reflection(r.relays, r.hz)
	if r.ticks < r.switchUntil {
		// contacts open while bouncing
		fwd /= 2
		gamma = 1
	}

	watts := fwd
	if ch == rf.Reverse {
		watts = fwd * gamma * gamma
	}
	volts := math.Sqrt(watts / DetectorGain)
	raw := math.Round(volts / VRef * rf.ADCMax)
	if raw > rf.ADCMax {
		raw = rf.ADCMax
	}
	return uint16(raw)
}

// Level implements freq.Input: the RF signal after the pre-divider.
func (r *Rig) Level() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(levelTicks)
	if !r.keyed || r.hz <= 0 {
		return false
	}
	cycles := float64(r.ticks) * r.hz / r.divider / r.timerClock
	return cycles-math.Floor(cycles) < 0.5
}

// Reset implements freq.Timer.
func (r *Rig) Reset() {
	r.mu.Lock()
	r.timerBase = r.ticks
	r.mu.Unlock()
}

// Count implements freq.Timer.
func (r *Rig) Count() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint16(r.ticks - r.timerBase)
}

// Now implements clock.Clock.
func (r *Rig) Now() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toDuration(r.ticks)
}

// Sleep implements clock.Clock.
func (r *Rig) Sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(r.toTicks(d))
}

// MagicNumber returns the frequency counter constant matching the rig's
// timer clock and pre-divider.
func (r *Rig) MagicNumber() uint32 {
	return uint32(r.timerClock * r.divider / 1000)
}

func (r *Rig) toTicks(d time.Duration) uint64 {
	return uint64(math.Round(d.Seconds() * r.timerClock))
}

func (r *Rig) toDuration(ticks uint64) time.Duration {
	return time.Duration(float64(ticks) / r.timerClock * float64(time.Second))
}

// advance moves time forward, raising the timer overflow interrupt on
// every 16-bit wrap. Must be called with mu held.
func (r *Rig) advance(ticks uint64) {
	before := (r.ticks - r.timerBase) >> 16
	r.ticks += ticks
	after := (r.ticks - r.timerBase) >> 16
	if r.onOverflow == nil {
		return
	}
	for i := before; i < after; i++ {
		r.onOverflow()
	}
}
