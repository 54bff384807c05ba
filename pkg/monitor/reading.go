// Package monitor turns the telemetry stream of a tuner into calibrated
// readings and watches them for mismatch episodes.
package monitor

import (
	"time"

	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
	"github.com/itohio/goatu/pkg/telemetry"
	"github.com/itohio/goatu/pkg/tuning"
)

// Reading is a telemetry frame converted to physical values.
type Reading struct {
	Timestamp      time.Time
	ForwardWatts   float64
	ReflectedWatts float64
	SWR            float64
	FrequencyKHz   uint16
	Relays         relays.Config
	Errors         tuning.Errors
	Result         bool // answers a command
	Comparisons    int
}

// Converter transforms a frame channel into a reading channel.
type Converter func(in <-chan telemetry.Frame) <-chan Reading

// NewConverter creates a converter applying cal to every frame.
func NewConverter(cal rf.Calibration, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan telemetry.Frame) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)
			for f := range in {
				out <- Convert(f, cal)
			}
		}()

		return out
	}
}

// Convert converts a single frame.
func Convert(f telemetry.Frame, cal rf.Calibration) Reading {
	r := Reading{
		Timestamp:    f.Timestamp,
		SWR:          float64(f.SWR),
		FrequencyKHz: f.FrequencyKHz,
		Relays:       f.Relays,
		Errors:       f.Errors,
		Result:       f.Result,
		Comparisons:  f.Comparisons,
	}
	if cal != nil {
		r.ForwardWatts = float64(cal.ForwardWatts(f.ForwardVolts, f.FrequencyKHz))
		r.ReflectedWatts = float64(cal.ReverseWatts(f.ReverseVolts, f.FrequencyKHz))
	}
	return r
}
