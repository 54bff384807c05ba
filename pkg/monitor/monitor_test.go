package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
	"github.com/itohio/goatu/pkg/telemetry"
	"github.com/itohio/goatu/pkg/tuning"
)

var tuned = relays.Config{Capacitors: 12, Inductors: 11, HiZ: true}

func TestConvert(t *testing.T) {
	cal := rf.NewPolynomial(config.Default().Calibration)
	ts := time.Unix(100, 0)
	f := telemetry.Frame{
		Timestamp:    ts,
		ForwardVolts: 0.615,
		ReverseVolts: 0.2,
		SWR:          2.0,
		FrequencyKHz: 14100,
		Relays:       tuned,
		Errors:       tuning.BadMatch,
		Result:       true,
	}

	r := Convert(f, cal)
	assert.Equal(t, ts, r.Timestamp)
	assert.InDelta(t, 13.2*0.615*0.615, r.ForwardWatts, 1e-3)
	assert.InDelta(t, 13.2*0.2*0.2, r.ReflectedWatts, 1e-3)
	assert.InDelta(t, 2.0, r.SWR, 1e-6)
	assert.Equal(t, tuned, r.Relays)
	assert.Equal(t, tuning.BadMatch, r.Errors)
	assert.True(t, r.Result)

	r = Convert(f, nil)
	assert.Zero(t, r.ForwardWatts)
}

func TestNewConverter(t *testing.T) {
	in := make(chan telemetry.Frame, 3)
	out := NewConverter(rf.NewPolynomial(config.Default().Calibration), 0)(in)

	for i := 0; i < 3; i++ {
		in <- telemetry.Frame{FrequencyKHz: uint16(7000 + i), ForwardVolts: 1}
	}
	close(in)

	var got []Reading
	for r := range out {
		got = append(got, r)
	}
	require.Len(t, got, 3)
	assert.Equal(t, uint16(7002), got[2].FrequencyKHz)
	assert.InDelta(t, 12.5, got[0].ForwardWatts, 1e-3)
}

func collect(t *testing.T, conv func(<-chan Reading) <-chan Reading, readings ...Reading) []Reading {
	t.Helper()
	in := make(chan Reading, len(readings))
	for _, r := range readings {
		in <- r
	}
	close(in)

	var got []Reading
	for r := range conv(in) {
		got = append(got, r)
	}
	return got
}

func TestAveragingConverter(t *testing.T) {
	got := collect(t, NewAveragingConverter(2, 10),
		Reading{ForwardWatts: 10, SWR: 1.0, Relays: tuned},
		Reading{ForwardWatts: 20, SWR: 2.0, Relays: tuned},
		Reading{ForwardWatts: 30, SWR: 3.0, Relays: tuned, FrequencyKHz: 7100},
	)
	require.Len(t, got, 3)
	assert.InDelta(t, 10, got[0].ForwardWatts, 1e-9)
	assert.InDelta(t, 15, got[1].ForwardWatts, 1e-9)
	assert.InDelta(t, 1.5, got[1].SWR, 1e-9)
	assert.InDelta(t, 25, got[2].ForwardWatts, 1e-9)
	assert.Equal(t, uint16(7100), got[2].FrequencyKHz)
}

func TestAveragingConverter_RestartsOnSwitch(t *testing.T) {
	got := collect(t, NewAveragingConverter(4, 10),
		Reading{ForwardWatts: 10, SWR: 3.0},
		Reading{ForwardWatts: 10, SWR: 3.0},
		Reading{SWR: 1.1, Relays: tuned, Result: true},
		Reading{ForwardWatts: 10, SWR: 1.2, Relays: tuned},
	)
	require.Len(t, got, 4)
	assert.True(t, got[2].Result)
	assert.InDelta(t, 1.1, got[2].SWR, 1e-9)
	assert.InDelta(t, 1.2, got[3].SWR, 1e-9)
}

func TestAveragingConverter_InvalidWindow(t *testing.T) {
	got := collect(t, NewAveragingConverter(0, 0), Reading{SWR: 1.5}, Reading{SWR: 2.5})
	require.Len(t, got, 2)
	assert.InDelta(t, 2.5, got[1].SWR, 1e-9)
}

func newTestWatcher() *Watcher {
	return NewWatcher(config.MonitorConfig{
		Window:      10 * time.Second,
		MinMismatch: 2 * time.Second,
		MinPower:    1,
	}, 1.7)
}

func at(sec float64, watts, swr float64) Reading {
	return Reading{
		Timestamp:    time.Unix(0, 0).Add(time.Duration(sec * float64(time.Second))),
		ForwardWatts: watts,
		SWR:          swr,
		FrequencyKHz: 14100,
	}
}

func TestWatcher_DetectsEpisode(t *testing.T) {
	w := newTestWatcher()
	var fired []Episode
	w.OnMismatch(func(e Episode) { fired = append(fired, e) })

	w.add(at(0, 5, 1.2))
	w.add(at(1, 5, 2.0))
	w.add(at(2, 5, 2.5))
	assert.Empty(t, fired, "episode shorter than the minimum")

	w.add(at(3, 5, 2.2))
	require.Len(t, fired, 1)
	assert.Equal(t, 2*time.Second, fired[0].Duration())
	assert.InDelta(t, 2.5, fired[0].PeakSWR, 1e-9)
	assert.Equal(t, uint16(14100), fired[0].FrequencyKHz)

	w.add(at(4, 5, 2.9))
	assert.Len(t, fired, 1, "fires once per episode")
	eps := w.Episodes()
	require.Len(t, eps, 1)
	assert.Equal(t, 3*time.Second, eps[0].Duration())
	assert.InDelta(t, 2.9, eps[0].PeakSWR, 1e-9)

	w.add(at(5, 5, 1.1))
	w.add(at(6, 5, 2.0))
	w.add(at(8, 5, 2.0))
	assert.Len(t, fired, 2)
	assert.Len(t, w.Episodes(), 2)
}

func TestWatcher_IgnoresLowPowerAndResults(t *testing.T) {
	w := newTestWatcher()
	fired := 0
	w.OnMismatch(func(Episode) { fired++ })

	for i := 0; i < 5; i++ {
		w.add(at(float64(i), 0.5, 5))
	}
	w.add(at(5, 5, 3))
	r := at(6, 5, 3)
	r.Result = true
	w.add(r)
	w.add(at(7, 5, 3))
	w.add(at(8, 5, 3))

	assert.Zero(t, fired)
	assert.Empty(t, w.Episodes())
}

func TestWatcher_Window(t *testing.T) {
	w := newTestWatcher()
	for i := 0; i < 4; i++ {
		w.add(at(float64(i), 5, 3))
	}
	require.Len(t, w.Episodes(), 1)

	for i := 4; i < 20; i++ {
		w.add(at(float64(i), 5, 1.0))
	}
	readings := w.Readings()
	require.Len(t, readings, 10)
	assert.Equal(t, time.Unix(10, 0), readings[0].Timestamp)
	assert.Empty(t, w.Episodes())
}

func TestWatcher_GracefulShutdown(t *testing.T) {
	w := newTestWatcher()
	updates := 0
	w.OnUpdate(func(readings []Reading, episodes []Episode) { updates++ })

	in := make(chan Reading, 3)
	for i := 0; i < 3; i++ {
		in <- at(float64(i), 5, 1.0)
	}
	close(in)
	w.Process(in)
	assert.Equal(t, 3, updates)

	w.add(at(4, 5, 1.0))
	assert.Equal(t, 3, updates, "no callbacks after the input closed")

	w.ResetShutdown()
	w.add(at(5, 5, 1.0))
	assert.Equal(t, 4, updates)
	assert.Len(t, w.Readings(), 5)
}
