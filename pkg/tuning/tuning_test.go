package tuning

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/itohio/goatu/pkg/flash"
	"github.com/itohio/goatu/pkg/freq"
	"github.com/itohio/goatu/pkg/memory"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
)

// surface is a relay bank whose measured match quality depends on the
// distance of the published configuration from target.
type surface struct {
	target    relays.Config
	floor     float32
	failAt    int // publish number that fails, 0 for never
	current   relays.Config
	published []relays.Config
}

func newSurface(target relays.Config) *surface {
	return &surface{target: target, floor: 0.01}
}

func (s *surface) Publish(c relays.Config) error {
	s.published = append(s.published, c)
	if s.failAt > 0 && len(s.published) == s.failAt {
		return relays.ErrPowerVeto
	}
	s.current = c
	return nil
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func (s *surface) quality(c relays.Config) float32 {
	d := absDiff(c.Capacitors, s.target.Capacitors) + absDiff(c.Inductors, s.target.Inductors)
	q := float32(d)/200 + s.floor
	if c.HiZ != s.target.HiZ {
		q += 0.1
	}
	return q
}

func (s *surface) Sample(freqKHz uint16) rf.Measurement {
	q := s.quality(s.current)
	swr := rf.MaxSWR
	if q < 1 {
		swr = (1 + q) / (1 - q)
	}
	return rf.Measurement{ForwardVolts: 1, ReverseVolts: q, MatchQuality: q, SWR: swr, FrequencyKHz: freqKHz}
}

// settler succeeds until call failAt, 0 for never.
type settler struct {
	failAt int
	err    error
	calls  int
}

func (s *settler) Wait(time.Duration) error {
	s.calls++
	if s.failAt > 0 && s.calls >= s.failAt {
		if s.err != nil {
			return s.err
		}
		return rf.ErrUnstable
	}
	return nil
}

type meter struct {
	readings []uint16
	calls    int
}

func (m *meter) MeasureFrequency() uint16 {
	if len(m.readings) == 0 {
		return freq.Invalid
	}
	v := m.readings[m.calls%len(m.readings)]
	m.calls++
	return v
}

type fixture struct {
	surface *surface
	settler *settler
	meter   *meter
	flash   *flash.Mem
	store   *memory.Store
	tuner   *Tuner
}

func newFixture(t *testing.T, target relays.Config, khz ...uint16) *fixture {
	t.Helper()
	f := &fixture{
		surface: newSurface(target),
		settler: &settler{},
		meter:   &meter{readings: khz},
		flash:   flash.NewMem(8192),
	}
	var err error
	f.store, err = memory.NewStore(f.flash, 0)
	require.NoError(t, err)
	f.tuner = New(Hardware{
		Relays:  f.surface,
		Sampler: f.surface,
		Settler: f.settler,
		Meter:   f.meter,
		Memory:  f.store,
	}, DefaultSettings())
	return f
}

func match(q, fwd float32, attempt uint16) Match {
	return Match{RF: rf.Measurement{MatchQuality: q, ForwardVolts: fwd}, Attempt: attempt}
}

func TestBetter(t *testing.T) {
	a := match(0.1, 1, 1)
	b := match(0.2, 2, 2)
	assert.Equal(t, a, Better(a, b))
	assert.Equal(t, a, Better(b, a))

	c := match(0.1, 2, 3)
	assert.Equal(t, c, Better(c, a), "equal quality prefers more forward volts")
	assert.Equal(t, c, Better(a, c))

	d := match(0.1, 1, 4)
	assert.Equal(t, a, Better(d, a), "full tie keeps best")

	assert.Equal(t, a, Better(a, noMatch))
	assert.Equal(t, a, Better(noMatch, a))
}

func TestBetter_ReturnsAnInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := match(rapid.Float32Range(0, 2).Draw(t, "qa"), rapid.Float32Range(0, 3.3).Draw(t, "fa"), 1)
		b := match(rapid.Float32Range(0, 2).Draw(t, "qb"), rapid.Float32Range(0, 3.3).Draw(t, "fb"), 2)
		got := Better(a, b)
		if got != a && got != b {
			t.Fatalf("Better returned neither input: %v", got)
		}
		if a.RF.MatchQuality < b.RF.MatchQuality && got != a {
			t.Fatalf("lower quality lost: %v vs %v", a, b)
		}
	})
}

func TestErrors_String(t *testing.T) {
	assert.Equal(t, "ok", Errors(0).String())
	assert.Equal(t, "noRF", NoRF.String())
	assert.Equal(t, "lostRF|timeout", (LostRF | Timeout).String())
	assert.Nil(t, Errors(0).Err())

	err := BadMatch.Err()
	require.Error(t, err)
	assert.Equal(t, BadMatch, FlagsOf(err))
	assert.Equal(t, Errors(0), FlagsOf(errors.New("other")))
}

func TestBoundsFor(t *testing.T) {
	s := DefaultSettings()
	tests := []struct {
		khz  uint16
		want Bounds
	}{
		{14000, Bounds{127, 127}},
		{21000, Bounds{127, 31}},
		{50000, Bounds{31, 31}},
		{0, Bounds{31, 31}},
		{freq.Invalid, Bounds{31, 31}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BoundsFor(tt.khz, s), "%d KHz", tt.khz)
	}
}

func TestZipSteps(t *testing.T) {
	assert.Equal(t, []uint8{0, 2, 6, 12, 21, 34, 51, 72, 97, 126, 127}, zipSteps(127))
	assert.Equal(t, []uint8{0, 2, 6, 12, 21, 31}, zipSteps(31))
}

func TestWindow(t *testing.T) {
	lo, hi := window(5, 10, 127)
	assert.Equal(t, uint8(0), lo)
	assert.Equal(t, uint8(15), hi)

	lo, hi = window(120, 10, 127)
	assert.Equal(t, uint8(110), lo)
	assert.Equal(t, uint8(127), hi)
}

func TestRecallOffset(t *testing.T) {
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, recallOffset(i))
	}
	assert.Equal(t, []int{0, 1, -1, 2, -2, 3, -3}, got)
}

func TestShapes_ShortCircuit(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.tuner.setFrequency(14000)
	best := match(0.5, 1, 7)
	errs := LostRF

	assert.Equal(t, best, f.tuner.compare(&errs, relays.Config{}, best))
	assert.Equal(t, best, f.tuner.lcZip(&errs, best, false))
	assert.Equal(t, best, f.tuner.lZip(&errs, best, seedCapsLow, false))
	assert.Equal(t, best, f.tuner.hiloZTune(&errs, best))
	assert.Equal(t, best, f.tuner.coarseTune(&errs, best, false, 0))
	assert.Equal(t, best, f.tuner.inductorSweep(&errs, best, wideSweep))
	assert.Equal(t, best, f.tuner.capacitorSweep(&errs, best, wideSweep))
	assert.Empty(t, f.surface.published)
	assert.Equal(t, LostRF, errs)
}

func TestCoarseTune_EarlyExit(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.tuner.setFrequency(14000)
	var errs Errors

	best := f.tuner.coarseTune(&errs, noMatch, false, 10)

	assert.True(t, errs.OK())
	assert.Equal(t, 1, f.tuner.Comparisons())
	assert.Equal(t, relays.Config{}, best.Relays)
}

func TestCoarseTune_FullGrid(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.tuner.setFrequency(14000)
	var errs Errors

	best := f.tuner.coarseTune(&errs, noMatch, false, 0)

	assert.True(t, errs.OK())
	assert.Equal(t, 11*11, f.tuner.Comparisons())
	assert.Equal(t, relays.Config{Capacitors: 34, Inductors: 21}, best.Relays)
}

func TestSweeps(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.tuner.setFrequency(14000)
	var errs Errors

	start := f.tuner.compare(&errs, relays.Config{Capacitors: 34, Inductors: 21}, noMatch)
	best := f.tuner.inductorSweep(&errs, start, wideSweep)
	assert.Equal(t, relays.Config{Capacitors: 34, Inductors: 20}, best.Relays)
	assert.Equal(t, 1+20, f.tuner.Comparisons())

	best = f.tuner.capacitorSweep(&errs, best, narrowSweep)
	assert.Equal(t, relays.Config{Capacitors: 39, Inductors: 20}, best.Relays)

	best = f.tuner.capacitorSweep(&errs, best, narrowSweep)
	assert.Equal(t, relays.Config{Capacitors: 40, Inductors: 20}, best.Relays)
	assert.True(t, errs.OK())
}

func TestHiloZTune(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 6, Inductors: 6, HiZ: true}, 14000)
	f.tuner.setFrequency(14000)
	var errs Errors

	best := f.tuner.hiloZTune(&errs, noMatch)

	assert.True(t, errs.OK())
	assert.Equal(t, relays.Config{Capacitors: 6, Inductors: 6, HiZ: true}, best.Relays)
	assert.Equal(t, 2*3*11, f.tuner.Comparisons())
}

func TestFullTune_StoresAndRecalls(t *testing.T) {
	target := relays.Config{Capacitors: 40, Inductors: 20}
	f := newFixture(t, target, 14000)

	res := f.tuner.FullTune()
	require.True(t, res.OK(), res.Errors.String())
	assert.Equal(t, target, res.Best.Relays)
	assert.Equal(t, uint16(14000), res.FrequencyKHz)
	assert.Equal(t, uint16(405), res.Slot)
	assert.True(t, res.Stored)
	assert.Less(t, res.Comparisons, 1000)
	assert.Equal(t, target, f.surface.current, "winner is left on the relays")

	rec, ok, err := f.store.Recall(405)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, target, rec.Relays)

	f.surface.current = relays.Bypass
	res = f.tuner.MemoryTune()
	require.True(t, res.OK(), res.Errors.String())
	assert.Equal(t, target, res.Best.Relays)
	assert.Equal(t, 1, res.Comparisons)
	assert.Equal(t, target, f.surface.current)
}

func TestFullTune_RetriesOtherZ(t *testing.T) {
	// A winner with a single relay closed triggers a search of the other Z.
	target := relays.Config{Capacitors: 1, Inductors: 0, HiZ: true}
	f := newFixture(t, target, 7100)

	res := f.tuner.FullTune()
	require.True(t, res.OK(), res.Errors.String())
	assert.Equal(t, target, res.Best.Relays)
}

func TestFullTune_BadMatch(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.surface.floor = 0.5

	res := f.tuner.FullTune()
	assert.Equal(t, BadMatch, res.Errors)
	assert.False(t, res.Stored)
	assert.Equal(t, flash.Stats{}, f.flash.Stats())
}

func TestFullTune_NoFreq(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20})

	res := f.tuner.FullTune()
	assert.Equal(t, NoFreq, res.Errors)
	assert.Equal(t, 2, f.meter.calls)
	assert.False(t, res.Stored)
	assert.LessOrEqual(t, res.Best.Relays.Capacitors, uint8(31))
	assert.LessOrEqual(t, res.Best.Relays.Inductors, uint8(31))
	assert.Equal(t, flash.Stats{}, f.flash.Stats())
}

func TestFullTune_FrequencyRetry(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 0, 14000)

	res := f.tuner.FullTune()
	require.True(t, res.OK(), res.Errors.String())
	assert.Equal(t, uint16(14000), res.FrequencyKHz)
}

func TestFullTune_NoRF(t *testing.T) {
	f := newFixture(t, relays.Config{}, 14000)
	f.settler.failAt = 1
	f.settler.err = rf.ErrNoSignal

	res := f.tuner.FullTune()
	assert.Equal(t, NoRF, res.Errors)
	assert.Zero(t, res.Comparisons)
	assert.Empty(t, f.surface.published)
}

func TestFullTune_LostRF(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	// stable, bypass, then lost on the first search comparison
	f.settler.failAt = 3

	res := f.tuner.FullTune()
	assert.Equal(t, LostRF, res.Errors)
	assert.Equal(t, 1, res.Comparisons)
	assert.Equal(t, relays.Bypass, res.Best.Relays)
	assert.False(t, res.Stored)
}

func TestFullTune_RelayError(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.surface.failAt = 2

	res := f.tuner.FullTune()
	assert.Equal(t, RelayError, res.Errors)
	assert.Equal(t, 1, res.Comparisons)
	assert.Equal(t, relays.Bypass, f.surface.current, "previous relay state stays")
}

func TestFullTune_Timeout(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	s := DefaultSettings()
	s.MaxComparisons = 5
	f.tuner = New(Hardware{Relays: f.surface, Sampler: f.surface, Settler: f.settler, Meter: f.meter, Memory: f.store}, s)

	res := f.tuner.FullTune()
	assert.Equal(t, Timeout, res.Errors)
	assert.Equal(t, 5, res.Comparisons)
	assert.Equal(t, res.Best.Relays, f.surface.current, "best is restored")
}

func TestFullTune_ResetsPerCycle(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)

	first := f.tuner.FullTune()
	second := f.tuner.FullTune()
	require.True(t, second.OK())
	assert.Equal(t, first.Comparisons, second.Comparisons)
}

func TestMemoryTune_NeverStable(t *testing.T) {
	f := newFixture(t, relays.Config{}, 14000)
	f.settler.failAt = 1
	f.settler.err = rf.ErrNoSignal

	res := f.tuner.MemoryTune()
	assert.Equal(t, NoRF, res.Errors)
	assert.Zero(t, res.Comparisons)
	assert.Empty(t, f.surface.published)
	assert.Zero(t, f.meter.calls)
}

func TestMemoryTune_Empty(t *testing.T) {
	f := newFixture(t, relays.Config{}, 14000)

	res := f.tuner.MemoryTune()
	assert.Equal(t, NoMemory, res.Errors)
	assert.Equal(t, uint16(405), res.Slot)
	assert.Zero(t, res.Comparisons)
}

func TestMemoryTune_NoFreq(t *testing.T) {
	f := newFixture(t, relays.Config{})

	res := f.tuner.MemoryTune()
	assert.Equal(t, NoFreq, res.Errors)
	assert.Zero(t, res.Comparisons)
}

func TestMemoryTune_PicksBestNeighbour(t *testing.T) {
	target := relays.Config{Capacitors: 40, Inductors: 20}
	f := newFixture(t, target, 14000)

	require.NoError(t, f.store.Save(405, memory.Record{Relays: relays.Config{Capacitors: 60, Inductors: 20}}))
	require.NoError(t, f.store.Save(406, memory.Record{Relays: relays.Config{Capacitors: 42, Inductors: 20}}))
	require.NoError(t, f.store.Save(400, memory.Record{Relays: relays.Config{Capacitors: 30, Inductors: 10}}))
	// beyond the recall window
	require.NoError(t, f.store.Save(420, memory.Record{Relays: target}))

	res := f.tuner.MemoryTune()
	require.True(t, res.OK(), res.Errors.String())
	assert.Equal(t, relays.Config{Capacitors: 42, Inductors: 20}, res.Best.Relays)
	assert.Equal(t, 3, res.Comparisons)
}

func TestMemoryTune_CandidateCap(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	for s := uint16(395); s <= 415; s++ {
		require.NoError(t, f.store.Save(s, memory.Record{Relays: relays.Config{Capacitors: 40, Inductors: 20}}))
	}

	res := f.tuner.MemoryTune()
	require.True(t, res.OK(), res.Errors.String())
	assert.Equal(t, MaxRecallCandidates, res.Comparisons)
}

func TestMemoryTune_AboveThreshold(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	require.NoError(t, f.store.Save(405, memory.Record{Relays: relays.Config{Capacitors: 127, Inductors: 127}}))

	res := f.tuner.MemoryTune()
	assert.Equal(t, NoMemory, res.Errors)
	assert.Equal(t, 1, res.Comparisons)
}

func TestBypass(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.surface.current = relays.Config{Capacitors: 3}

	m, err := f.tuner.Bypass()
	require.NoError(t, err)
	assert.Equal(t, relays.Bypass, f.surface.current)
	assert.InDelta(t, 0.31, m.MatchQuality, 1e-6)

	f.surface.failAt = len(f.surface.published) + 1
	_, err = f.tuner.Bypass()
	assert.ErrorIs(t, err, relays.ErrPowerVeto)
}

func TestBypass_WithoutRF(t *testing.T) {
	f := newFixture(t, relays.Config{Capacitors: 40, Inductors: 20}, 14000)
	f.surface.current = relays.Config{Capacitors: 3}
	f.settler.failAt = f.settler.calls + 1
	f.settler.err = rf.ErrNoSignal

	_, err := f.tuner.Bypass()
	require.NoError(t, err)
	assert.Equal(t, relays.Bypass, f.surface.current)
}
