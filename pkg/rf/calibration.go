package rf

import (
	"sort"

	"github.com/itohio/goatu/pkg/config"
)

// Calibration converts detector volts to watts at a given frequency.
type Calibration interface {
	ForwardWatts(volts float32, freqKHz uint16) float32
	ReverseWatts(volts float32, freqKHz uint16) float32
}

type polyBand struct {
	upTo    uint16
	forward []float32
	reverse []float32
}

// Polynomial is a per-band polynomial correction table.
type Polynomial struct {
	bands []polyBand
}

var _ Calibration = (*Polynomial)(nil)

// NewPolynomial builds the correction table from configuration. Bands are
// selected by the first UpToKHz that is not below the frequency; the last
// band also covers everything above it.
func NewPolynomial(cfg config.CalibrationConfig) *Polynomial {
	p := &Polynomial{bands: make([]polyBand, 0, len(cfg.Bands))}
	for _, b := range cfg.Bands {
		up := b.UpToKHz
		if up < 0 {
			up = 0
		}
		if up > 0xFFFF {
			up = 0xFFFF
		}
		p.bands = append(p.bands, polyBand{
			upTo:    uint16(up),
			forward: toFloat32(b.Forward),
			reverse: toFloat32(b.Reverse),
		})
	}
	sort.Slice(p.bands, func(i, j int) bool { return p.bands[i].upTo < p.bands[j].upTo })
	return p
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func (p *Polynomial) band(freqKHz uint16) *polyBand {
	if len(p.bands) == 0 {
		return nil
	}
	for i := range p.bands {
		if freqKHz <= p.bands[i].upTo {
			return &p.bands[i]
		}
	}
	return &p.bands[len(p.bands)-1]
}

func (p *Polynomial) ForwardWatts(volts float32, freqKHz uint16) float32 {
	b := p.band(freqKHz)
	if b == nil {
		return 0
	}
	return evaluate(b.forward, volts)
}

func (p *Polynomial) ReverseWatts(volts float32, freqKHz uint16) float32 {
	b := p.band(freqKHz)
	if b == nil {
		return 0
	}
	return evaluate(b.reverse, volts)
}

// evaluate runs Horner's scheme over coefficients stored lowest order first.
// Negative results are clamped to zero.
func evaluate(coeffs []float32, x float32) float32 {
	var y float32
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = y*x + coeffs[i]
	}
	if y < 0 {
		return 0
	}
	return y
}
