// Package rf turns raw forward/reverse detector readings into RF measurements.
package rf

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Channel identifies an ADC channel of the directional coupler.
type Channel int

const (
	Forward Channel = iota
	Reverse
)

func (c Channel) String() string {
	switch c {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ADC reads raw 12-bit samples from a channel.
type ADC interface {
	ReadChannel(ch Channel) uint16
}

const (
	// ADCMax is the full scale raw reading.
	ADCMax = 4095

	// QualityShift pre-shifts the reverse reading so the integer ratio keeps
	// 16 fractional bits. 4095<<16 still fits in uint32.
	QualityShift = 16

	// NoQuality is the match quality reported when there is no forward signal.
	// It is worse than any ratio two 12-bit readings can produce.
	NoQuality float32 = 1 << QualityShift

	// MaxSWR is the saturated SWR reported for total (or impossible) reflection.
	MaxSWR float32 = 99.99
)

// Measurement is one averaged RF reading.
type Measurement struct {
	ForwardVolts float32
	ReverseVolts float32
	MatchQuality float32 // reverse/forward raw ratio, lower is better
	ForwardWatts float32
	ReverseWatts float32
	SWR          float32
	FrequencyKHz uint16
}

func (m Measurement) String() string {
	return fmt.Sprintf("fwd=%.3fV/%.2fW rev=%.3fV/%.2fW q=%.4f swr=%.2f f=%dkHz",
		m.ForwardVolts, m.ForwardWatts, m.ReverseVolts, m.ReverseWatts, m.MatchQuality, m.SWR, m.FrequencyKHz)
}

// MatchQuality computes the calibration free reflection ratio of two raw
// averaged readings.
func MatchQuality(forwardRaw, reverseRaw uint32) float32 {
	if forwardRaw == 0 {
		return NoQuality
	}
	q := (reverseRaw << QualityShift) / forwardRaw
	return float32(q) / float32(1<<QualityShift)
}

// SWRFromWatts returns (1+ρ)/(1-ρ) with ρ = sqrt(reverse/forward),
// saturating at MaxSWR.
func SWRFromWatts(forward, reverse float32) float32 {
	if forward <= 0 {
		return MaxSWR
	}
	if reverse <= 0 {
		return 1
	}
	rho := math32.Sqrt(reverse / forward)
	if rho >= 1 {
		return MaxSWR
	}
	swr := (1 + rho) / (1 - rho)
	if swr > MaxSWR || math32.IsNaN(swr) {
		return MaxSWR
	}
	return swr
}
