package tuning

import "github.com/itohio/goatu/pkg/freq"

// Bounds limits the relay values a search may try.
type Bounds struct {
	MaxCapacitors uint8
	MaxInductors  uint8
}

// BoundsFor derives the search bounds from the frequency. Above the
// configured limits an axis is restricted to a quarter of its range; an
// unknown frequency restricts both.
func BoundsFor(freqKHz uint16, s Settings) Bounds {
	b := Bounds{MaxCapacitors: s.MaxCapacitors, MaxInductors: s.MaxInductors}
	if !freq.Valid(freqKHz) {
		return Bounds{MaxCapacitors: s.MaxCapacitors / 4, MaxInductors: s.MaxInductors / 4}
	}
	if freqKHz > s.CapacitorLimitKHz {
		b.MaxCapacitors = s.MaxCapacitors / 4
	}
	if freqKHz > s.InductorLimitKHz {
		b.MaxInductors = s.MaxInductors / 4
	}
	return b
}
