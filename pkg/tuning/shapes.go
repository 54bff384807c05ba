package tuning

import "github.com/itohio/goatu/pkg/relays"

// steps is a roughly geometric walk over the relay range. Zips take every
// other entry, covering 0..127 in 11 comparisons.
var steps = [...]uint8{0, 1, 2, 4, 6, 9, 12, 16, 21, 27, 34, 42, 51, 61, 72, 84, 97, 111, 126, 127, 127}

const (
	zipStride = 2

	// Capacitor seeds of the vertical zips in testZ.
	seedCapsLow  = 3
	seedCapsHigh = 7
)

func clampTo(v, max uint8) uint8 {
	if v > max {
		return max
	}
	return v
}

// zipSteps returns the step table entries taken two at a time, clamped to
// max, without repeats.
func zipSteps(max uint8) []uint8 {
	out := make([]uint8, 0, len(steps)/zipStride+1)
	for i := 0; i < len(steps); i += zipStride {
		v := clampTo(steps[i], max)
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// lcZip walks the diagonal caps = inds = step from the origin.
func (t *Tuner) lcZip(errs *Errors, best Match, hiZ bool) Match {
	var last relays.Config
	for i := 0; i < len(steps); i += zipStride {
		if !errs.OK() {
			return best
		}
		c := relays.Config{
			Capacitors: clampTo(steps[i], t.bounds.MaxCapacitors),
			Inductors:  clampTo(steps[i], t.bounds.MaxInductors),
			HiZ:        hiZ,
		}
		if i > 0 && c == last {
			continue
		}
		last = c
		best = t.compare(errs, c, best)
	}
	return best
}

// lZip walks the inductance steps at fixed capacitance.
func (t *Tuner) lZip(errs *Errors, best Match, caps uint8, hiZ bool) Match {
	caps = clampTo(caps, t.bounds.MaxCapacitors)
	for _, l := range zipSteps(t.bounds.MaxInductors) {
		if !errs.OK() {
			return best
		}
		best = t.compare(errs, relays.Config{Capacitors: caps, Inductors: l, HiZ: hiZ}, best)
	}
	return best
}

// testZ searches one Z topology from scratch.
func (t *Tuner) testZ(errs *Errors, hiZ bool) Match {
	best := noMatch
	best = t.lcZip(errs, best, hiZ)
	best = t.lZip(errs, best, seedCapsLow, hiZ)
	best = t.lZip(errs, best, seedCapsHigh, hiZ)
	return best
}

// hiloZTune runs testZ for both topologies and keeps the better result.
func (t *Tuner) hiloZTune(errs *Errors, best Match) Match {
	if !errs.OK() {
		return best
	}
	lo := t.testZ(errs, false)
	hi := t.testZ(errs, true)
	t.log.Debugf(component, "hilo-z: lo %s, hi %s", lo, hi)
	return Better(hi, Better(lo, best))
}

// coarseTune scans the step grid at a fixed Z topology, inductors in the
// outer loop. It returns as soon as the best match quality drops to
// earlyExit or below.
func (t *Tuner) coarseTune(errs *Errors, best Match, hiZ bool, earlyExit float32) Match {
	caps := zipSteps(t.bounds.MaxCapacitors)
	for _, l := range zipSteps(t.bounds.MaxInductors) {
		for _, c := range caps {
			if !errs.OK() {
				return best
			}
			best = t.compare(errs, relays.Config{Capacitors: c, Inductors: l, HiZ: hiZ}, best)
			if best.RF.MatchQuality <= earlyExit {
				t.log.Debugf(component, "coarse: early exit at %s", best)
				return best
			}
		}
	}
	return best
}

// window returns [center-width, center+width] clamped to [0, max].
func window(center, width, max uint8) (uint8, uint8) {
	lo := uint8(0)
	if center > width {
		lo = center - width
	}
	hi := max
	if int(center)+int(width) < int(max) {
		hi = center + width
	}
	return lo, hi
}

// inductorSweep tries every inductance within ±width of the best one.
func (t *Tuner) inductorSweep(errs *Errors, best Match, width uint8) Match {
	if !errs.OK() || best.Empty() {
		return best
	}
	base := best.Relays
	lo, hi := window(base.Inductors, width, t.bounds.MaxInductors)
	for v := int(lo); v <= int(hi); v++ {
		if !errs.OK() {
			return best
		}
		if uint8(v) == base.Inductors {
			continue
		}
		c := base
		c.Inductors = uint8(v)
		best = t.compare(errs, c, best)
	}
	return best
}

// capacitorSweep tries every capacitance within ±width of the best one.
func (t *Tuner) capacitorSweep(errs *Errors, best Match, width uint8) Match {
	if !errs.OK() || best.Empty() {
		return best
	}
	base := best.Relays
	lo, hi := window(base.Capacitors, width, t.bounds.MaxCapacitors)
	for v := int(lo); v <= int(hi); v++ {
		if !errs.OK() {
			return best
		}
		if uint8(v) == base.Capacitors {
			continue
		}
		c := base
		c.Capacitors = uint8(v)
		best = t.compare(errs, c, best)
	}
	return best
}

// refine runs rounds of inductor then capacitor sweeps.
func (t *Tuner) refine(errs *Errors, best Match, rounds int, width uint8) Match {
	for i := 0; i < rounds; i++ {
		best = t.inductorSweep(errs, best, width)
		best = t.capacitorSweep(errs, best, width)
	}
	return best
}
