// Package atu assembles the tuner core from hardware drivers and configuration.
package atu

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/goatu/pkg/clock"
	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/flash"
	"github.com/itohio/goatu/pkg/freq"
	"github.com/itohio/goatu/pkg/memory"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
	"github.com/itohio/goatu/pkg/telemetry"
	"github.com/itohio/goatu/pkg/tuning"
)

// Drivers are the hardware services the core consumes.
type Drivers struct {
	Relays relays.Driver
	ADC    rf.ADC
	Input  freq.Input
	Timer  freq.Timer
	Clock  clock.Clock
	Flash  flash.Device // optional
}

var errIncomplete = errors.New("incomplete hardware drivers")

// overflowSource is a timer that delivers its own overflow interrupt.
type overflowSource interface {
	OnOverflow(fn func())
}

// ATU is an assembled tuner.
type ATU struct {
	Bank       *relays.Bank
	Sampler    *rf.Sampler
	Stabilizer *rf.Stabilizer
	Counter    *freq.Counter
	Memory     *memory.Store // nil without flash
	Tuner      *tuning.Tuner

	// outcome of the last command, reported in telemetry
	last tuning.Errors
}

// New wires drivers into a tuner configured by cfg. log may be nil.
func New(cfg *config.Config, d Drivers, log tuning.Logger) (*ATU, error) {
	if d.Relays == nil || d.ADC == nil || d.Input == nil || d.Timer == nil || d.Clock == nil {
		return nil, errIncomplete
	}

	a := &ATU{}
	a.Sampler = rf.NewSampler(d.ADC, rf.NewPolynomial(cfg.Calibration), cfg.RF)
	a.Stabilizer = rf.NewStabilizer(a.Sampler, d.Clock, cfg.Tuning.PollInterval)
	a.Counter = freq.New(d.Input, d.Timer, d.Clock, cfg.Frequency)
	if src, ok := d.Timer.(overflowSource); ok {
		src.OnOverflow(a.Counter.HandleOverflow)
	}

	a.Bank = relays.NewBank(d.Relays,
		relays.WithRelayCount(cfg.Relays.Capacitors, cfg.Relays.Inductors),
		relays.WithPowerVeto(func() float32 {
			return a.Sampler.ForwardWatts(a.Tuner.FrequencyKHz())
		}, float32(cfg.Relays.PowerCeiling)),
	)
	a.Bank.SelectAntenna(cfg.Relays.Antenna)

	hw := tuning.Hardware{
		Relays:  a.Bank,
		Sampler: a.Sampler,
		Settler: a.Stabilizer,
		Meter:   a.Counter,
	}
	if d.Flash != nil {
		store, err := memory.NewStore(d.Flash, cfg.Memory.TableOffset)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory: %w", err)
		}
		a.Memory = store
		hw.Memory = store
	}

	var opts []tuning.Option
	if log != nil {
		opts = append(opts, tuning.WithLogger(log))
	}
	a.Tuner = tuning.New(hw, SettingsFromConfig(cfg), opts...)
	return a, nil
}

// Recall reads the stored solution for freqKHz.
func (a *ATU) Recall(freqKHz uint16) (memory.Record, uint16, bool, error) {
	slot, ok := memory.FindSlot(freqKHz)
	if !ok {
		return memory.Record{}, 0, false, fmt.Errorf("%w: %d KHz has no slot", memory.ErrSlotRange, freqKHz)
	}
	if a.Memory == nil {
		return memory.Record{}, slot, false, nil
	}
	rec, found, err := a.Memory.Recall(slot)
	return rec, slot, found, err
}

// Execute runs a host command and returns its result frame.
func (a *ATU) Execute(now func() time.Time, cmd telemetry.Command) telemetry.Frame {
	var res tuning.Result
	switch cmd {
	case telemetry.FullTune:
		res = a.Tuner.FullTune()
	case telemetry.MemoryTune:
		res = a.Tuner.MemoryTune()
	case telemetry.Bypass:
		m, err := a.Tuner.Bypass()
		if err != nil {
			res.Errors.Set(tuning.RelayError)
		}
		res.Best.RF = m
	case telemetry.AntennaA, telemetry.AntennaB:
		a.Bank.SelectAntenna(cmd == telemetry.AntennaB)
		if err := a.Bank.Publish(a.Bank.Current()); err != nil {
			res.Errors.Set(tuning.RelayError)
		}
		res.Best.RF = a.Tuner.Measure()
	}
	a.last = res.Errors

	f := telemetry.FrameOf(now(), res.Best.RF, a.Bank.Current(), res.Errors)
	if res.FrequencyKHz != 0 {
		f.FrequencyKHz = res.FrequencyKHz
	}
	f.Result = true
	f.Comparisons = res.Comparisons
	f.Stored = res.Stored
	return f
}

// Telemetry measures the current configuration.
func (a *ATU) Telemetry(now time.Time) telemetry.Frame {
	return telemetry.FrameOf(now, a.Tuner.Measure(), a.Bank.Current(), a.last)
}

// SettingsFromConfig extracts the search settings from the configuration.
func SettingsFromConfig(cfg *config.Config) tuning.Settings {
	return tuning.Settings{
		SWRThreshold:      float32(cfg.Tuning.SWRThreshold),
		MaxComparisons:    cfg.Tuning.MaxComparisons,
		StableTimeout:     cfg.Tuning.StableTimeout,
		SettleTimeout:     cfg.Tuning.SettleTimeout,
		CapacitorLimitKHz: clampKHz(cfg.Tuning.CapacitorLimitKHz),
		InductorLimitKHz:  clampKHz(cfg.Tuning.InductorLimitKHz),
		MaxCapacitors:     uint8(1<<cfg.Relays.Capacitors - 1),
		MaxInductors:      uint8(1<<cfg.Relays.Inductors - 1),
	}
}

func clampKHz(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
