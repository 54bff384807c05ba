package tuning

import (
	"fmt"

	"github.com/itohio/goatu/pkg/freq"
	"github.com/itohio/goatu/pkg/memory"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
)

const (
	// MaxRecallAttempts bounds how many slots MemoryTune reads.
	MaxRecallAttempts = 20
	// MaxRecallCandidates bounds how many stored solutions MemoryTune compares.
	MaxRecallCandidates = 9

	wideSweep   = 10
	narrowSweep = 5

	// Solutions using fewer relays than this get a second try at the other Z.
	lowRelayCount = 3
)

// Result is the outcome of one tuning cycle.
type Result struct {
	Errors       Errors
	Best         Match
	FrequencyKHz uint16
	Slot         uint16
	Stored       bool
	Comparisons  int
}

// OK reports whether the cycle succeeded.
func (r Result) OK() bool {
	return r.Errors.OK()
}

func (t *Tuner) result(errs Errors, best Match) Result {
	return Result{
		Errors:       errs,
		Best:         best,
		FrequencyKHz: t.freqKHz,
		Comparisons:  t.attempts,
	}
}

// measureFrequency measures the frequency, retrying once.
func (t *Tuner) measureFrequency() (uint16, bool) {
	for i := 0; i < 2; i++ {
		khz := t.hw.Meter.MeasureFrequency()
		if freq.Valid(khz) {
			return khz, true
		}
		t.log.Debugf(component, "frequency measurement %d failed", i+1)
	}
	return freq.Invalid, false
}

// FullTune searches the whole relay space for the best match and stores it
// in memory when its SWR is below the threshold.
func (t *Tuner) FullTune() Result {
	t.beginCycle()
	var errs Errors

	if err := t.hw.Settler.Wait(t.settings.StableTimeout); err != nil {
		t.log.Warnf(component, "full tune: %v", err)
		errs.Set(NoRF)
		return t.result(errs, noMatch)
	}

	khz, freqOK := t.measureFrequency()
	t.setFrequency(khz)
	if freqOK {
		t.log.Infof(component, "full tune at %d KHz, bounds %+v", khz, t.bounds)
	} else {
		t.log.Warnf(component, "full tune without frequency, bounds %+v", t.bounds)
	}

	bypass := t.compare(&errs, relays.Bypass, noMatch)
	best := t.hiloZTune(&errs, bypass)

	hiZ := best.Relays.HiZ
	best = t.coarseTune(&errs, best, hiZ, bypass.RF.MatchQuality/2)
	best = t.refine(&errs, best, 2, wideSweep)

	if errs.OK() && best.Relays.RelayCount() < lowRelayCount {
		t.log.Debugf(component, "few relays in %s, trying hiZ=%v", best, !hiZ)
		alt := t.testZ(&errs, !hiZ)
		alt = t.coarseTune(&errs, alt, !hiZ, bypass.RF.MatchQuality/2)
		best = Better(alt, best)
	}

	best = t.refine(&errs, best, 2, wideSweep)
	best = t.refine(&errs, best, 2, narrowSweep)

	if !errs.OK() {
		t.restore(errs, best)
		return t.result(errs, best)
	}

	best = t.verify(&errs, best)
	if !errs.OK() {
		return t.result(errs, best)
	}

	res := t.result(errs, best)
	if best.RF.SWR >= t.settings.SWRThreshold {
		t.log.Infof(component, "full tune: best %s above SWR %.2f", best, t.settings.SWRThreshold)
		res.Errors.Set(BadMatch)
		return res
	}
	if !freqOK {
		res.Errors.Set(NoFreq)
		return res
	}

	res.Slot, res.Stored = t.store(best)
	t.log.Infof(component, "full tune: %s after %d comparisons", best, t.attempts)
	return res
}

// MemoryTune tries the stored solutions nearest to the measured frequency.
func (t *Tuner) MemoryTune() Result {
	t.beginCycle()
	var errs Errors

	if err := t.hw.Settler.Wait(t.settings.StableTimeout); err != nil {
		t.log.Warnf(component, "memory tune: %v", err)
		errs.Set(NoRF)
		return t.result(errs, noMatch)
	}

	khz, ok := t.measureFrequency()
	t.setFrequency(khz)
	if !ok {
		errs.Set(NoFreq)
		return t.result(errs, noMatch)
	}

	slot, ok := memory.FindSlot(khz)
	if !ok || t.hw.Memory == nil {
		errs.Set(NoMemory)
		return t.result(errs, noMatch)
	}

	candidates := t.recallNear(slot)
	if len(candidates) == 0 {
		t.log.Infof(component, "memory tune: nothing stored near slot %d", slot)
		errs.Set(NoMemory)
		res := t.result(errs, noMatch)
		res.Slot = slot
		return res
	}

	best := noMatch
	for _, c := range candidates {
		best = t.compare(&errs, c.Relays, best)
	}
	if !errs.OK() {
		t.restore(errs, best)
		res := t.result(errs, best)
		res.Slot = slot
		return res
	}

	best = t.verify(&errs, best)
	res := t.result(errs, best)
	res.Slot = slot
	if errs.OK() && best.RF.SWR >= t.settings.SWRThreshold {
		t.log.Infof(component, "memory tune: best %s above SWR %.2f", best, t.settings.SWRThreshold)
		res.Errors.Set(NoMemory)
	}
	return res
}

// recallNear reads slot and its neighbours at offsets 0, +1, -1, +2, -2 ...
// and returns the programmed ones.
func (t *Tuner) recallNear(slot uint16) []memory.Record {
	out := make([]memory.Record, 0, MaxRecallCandidates)
	for i := 0; i < MaxRecallAttempts && len(out) < MaxRecallCandidates; i++ {
		s := int(slot) + recallOffset(i)
		if s < 0 || s >= int(memory.TotalSlots) {
			continue
		}
		rec, ok, err := t.hw.Memory.Recall(uint16(s))
		if err != nil {
			t.log.Warnf(component, "recall slot %d: %v", s, err)
			continue
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

// recallOffset maps 0, 1, 2, 3, 4 ... onto 0, +1, -1, +2, -2 ...
func recallOffset(i int) int {
	if i%2 == 1 {
		return (i + 1) / 2
	}
	return -i / 2
}

// verify republishes best and measures it again.
func (t *Tuner) verify(errs *Errors, best Match) Match {
	if err := t.hw.Relays.Publish(best.Relays); err != nil {
		t.log.Warnf(component, "verify publish %s: %v", best.Relays, err)
		errs.Set(RelayError)
		return best
	}
	if err := t.hw.Settler.Wait(t.settings.SettleTimeout); err != nil {
		t.log.Warnf(component, "verify settle: %v", err)
		errs.Set(LostRF)
		return best
	}
	best.RF = t.hw.Sampler.Sample(t.freqKHz)
	return best
}

// restore puts the best configuration found back on the relays after an
// aborted search. After a relay error the previous state stays in place.
func (t *Tuner) restore(errs Errors, best Match) {
	if best.Empty() || errs.Has(RelayError) {
		return
	}
	if err := t.hw.Relays.Publish(best.Relays); err != nil {
		t.log.Warnf(component, "restore %s: %v", best.Relays, err)
	}
}

func (t *Tuner) store(best Match) (uint16, bool) {
	slot, ok := memory.FindSlot(t.freqKHz)
	if !ok || t.hw.Memory == nil {
		return slot, false
	}
	rec := memory.Record{Relays: best.Relays}
	if err := t.hw.Memory.Save(slot, rec); err != nil {
		t.log.Warnf(component, "store slot %d: %v", slot, err)
		return slot, false
	}
	t.log.Debugf(component, "stored %s in slot %d", best.Relays, slot)
	return slot, true
}

// Bypass publishes the all-zero configuration and measures it. Only a
// refused publish is an error; without RF the measurement is just idle.
func (t *Tuner) Bypass() (rf.Measurement, error) {
	if err := t.hw.Relays.Publish(relays.Bypass); err != nil {
		return rf.Measurement{}, fmt.Errorf("failed to publish bypass: %w", err)
	}
	if err := t.hw.Settler.Wait(t.settings.SettleTimeout); err != nil {
		t.log.Debugf(component, "bypass not settled: %v", err)
	}
	return t.hw.Sampler.Sample(t.freqKHz), nil
}

// Measure takes a telemetry snapshot of the current configuration.
func (t *Tuner) Measure() rf.Measurement {
	return t.hw.Sampler.Sample(t.freqKHz)
}
