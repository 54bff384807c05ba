package memory

// Group is a frequency range [Start, End) in KHz with Slots memory slots
// spread linearly over it.
type Group struct {
	Start uint16
	End   uint16
	Slots uint16
}

// Margin pads every amateur band edge in the group table (KHz).
const Margin = 200

// MinFrequency and MaxFrequency bound the mappable range in KHz.
const (
	MinFrequency = 1
	MaxFrequency = 55000
)

// Groups is the frequency group table. Amateur bands (padded by Margin on
// both sides) get dense slot allocations, the gaps between them sparse
// ones. Persisted solutions are addressed through this table: changing it
// orphans every stored record.
var Groups = []Group{
	{Start: 1, End: 1600, Slots: 8},        // LF/MF
	{Start: 1600, End: 2200, Slots: 60},    // 160m 1800-2000
	{Start: 2200, End: 3300, Slots: 11},    // gap
	{Start: 3300, End: 4200, Slots: 90},    // 80m 3500-4000
	{Start: 4200, End: 5150, Slots: 10},    // gap
	{Start: 5150, End: 5650, Slots: 50},    // 60m 5350-5450
	{Start: 5650, End: 6800, Slots: 12},    // gap
	{Start: 6800, End: 7500, Slots: 70},    // 40m 7000-7300
	{Start: 7500, End: 9900, Slots: 12},    // gap
	{Start: 9900, End: 10350, Slots: 45},   // 30m 10100-10150
	{Start: 10350, End: 13800, Slots: 17},  // gap
	{Start: 13800, End: 14550, Slots: 75},  // 20m 14000-14350
	{Start: 14550, End: 17868, Slots: 17},  // gap
	{Start: 17868, End: 18368, Slots: 50},  // 17m 18068-18168
	{Start: 18368, End: 20800, Slots: 12},  // gap
	{Start: 20800, End: 21650, Slots: 85},  // 15m 21000-21450
	{Start: 21650, End: 24690, Slots: 15},  // gap
	{Start: 24690, End: 25190, Slots: 50},  // 12m 24890-24990
	{Start: 25190, End: 27800, Slots: 13},  // gap
	{Start: 27800, End: 29900, Slots: 105}, // 10m 28000-29700
	{Start: 29900, End: 49800, Slots: 40},  // gap
	{Start: 49800, End: 55000, Slots: 104}, // 6m 50000-54000
}

// TotalSlots is the number of slots the group table allocates.
var TotalSlots = totalSlots(Groups)

func totalSlots(groups []Group) uint16 {
	var n uint16
	for _, g := range groups {
		n += g.Slots
	}
	return n
}

// FindSlot maps a frequency in KHz to its memory slot. It returns slot 0
// and false for 0, the 0xFFFF sentinel and anything outside
// [MinFrequency, MaxFrequency]; slot 0 is then not a valid mapping.
func FindSlot(freqKHz uint16) (uint16, bool) {
	return findSlot(Groups, freqKHz)
}

func findSlot(groups []Group, freqKHz uint16) (uint16, bool) {
	if freqKHz < MinFrequency || freqKHz > MaxFrequency || len(groups) == 0 {
		return 0, false
	}

	var before uint16
	for _, g := range groups {
		if g.End > freqKHz {
			return before + interpolate(freqKHz, g), true
		}
		before += g.Slots
	}

	// Exactly the upper edge of the last group.
	return before - 1, true
}

// interpolate maps x in [g.Start, g.End) onto [0, g.Slots).
func interpolate(x uint16, g Group) uint16 {
	if x < g.Start || g.End <= g.Start {
		return 0
	}
	return uint16(uint32(x-g.Start) * uint32(g.Slots) / uint32(g.End-g.Start))
}

// GroupFor returns the group containing freqKHz.
func GroupFor(freqKHz uint16) (Group, bool) {
	if freqKHz < MinFrequency || freqKHz > MaxFrequency {
		return Group{}, false
	}
	for _, g := range Groups {
		if g.End > freqKHz {
			return g, true
		}
	}
	return Groups[len(Groups)-1], true
}
