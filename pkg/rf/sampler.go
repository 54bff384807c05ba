package rf

import "github.com/itohio/goatu/pkg/config"

const (
	// DefaultSamples is the number of raw readings averaged per measurement.
	DefaultSamples = 32
	pollSamples    = 4
)

// Sampler averages raw detector readings into Measurements.
type Sampler struct {
	adc       ADC
	cal       Calibration
	vref      float32
	samples   int
	threshold float32 // forward volts counted as "RF present"

	presence Presence
}

// NewSampler creates a sampler reading adc and converting with cal.
func NewSampler(adc ADC, cal Calibration, cfg config.RFConfig) *Sampler {
	s := &Sampler{
		adc:       adc,
		cal:       cal,
		vref:      float32(cfg.VRef),
		samples:   cfg.Samples,
		threshold: float32(cfg.PresenceThreshold),
	}
	if s.samples <= 0 {
		s.samples = DefaultSamples
	}
	if s.vref <= 0 {
		s.vref = 3.3
	}
	return s
}

// Sample takes an averaged measurement. freqKHz selects the calibration
// band and is copied into the result.
func (s *Sampler) Sample(freqKHz uint16) Measurement {
	var sumFwd, sumRev uint32
	for i := 0; i < s.samples; i++ {
		sumFwd += uint32(s.adc.ReadChannel(Forward))
		sumRev += uint32(s.adc.ReadChannel(Reverse))
	}
	n := uint32(s.samples)
	fwdRaw := (sumFwd + n/2) / n
	revRaw := (sumRev + n/2) / n

	m := Measurement{
		ForwardVolts: s.toVolts(fwdRaw),
		ReverseVolts: s.toVolts(revRaw),
		MatchQuality: MatchQuality(fwdRaw, revRaw),
		FrequencyKHz: freqKHz,
	}
	if s.cal != nil {
		m.ForwardWatts = s.cal.ForwardWatts(m.ForwardVolts, freqKHz)
		m.ReverseWatts = s.cal.ReverseWatts(m.ReverseVolts, freqKHz)
	}
	m.SWR = SWRFromWatts(m.ForwardWatts, m.ReverseWatts)

	s.presence.Update(m.ForwardVolts > s.threshold)
	return m
}

// Poll takes a short forward reading (volts) and updates the presence history.
func (s *Sampler) Poll() float32 {
	var sum uint32
	for i := 0; i < pollSamples; i++ {
		sum += uint32(s.adc.ReadChannel(Forward))
	}
	v := s.toVolts((sum + pollSamples/2) / pollSamples)
	s.presence.Update(v > s.threshold)
	return v
}

// Present reports the debounced RF presence.
func (s *Sampler) Present() bool {
	return s.presence.Present()
}

// ForwardWatts is a quick forward power reading, used as the relay power gauge.
func (s *Sampler) ForwardWatts(freqKHz uint16) float32 {
	if s.cal == nil {
		return 0
	}
	var sum uint32
	for i := 0; i < pollSamples; i++ {
		sum += uint32(s.adc.ReadChannel(Forward))
	}
	return s.cal.ForwardWatts(s.toVolts((sum+pollSamples/2)/pollSamples), freqKHz)
}

func (s *Sampler) toVolts(raw uint32) float32 {
	return float32(raw) / ADCMax * s.vref
}
