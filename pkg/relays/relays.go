package relays

import (
	"fmt"
	"math/bits"
)

const (
	// MaxRelays is the number of relays per axis a 16-bit word can address.
	MaxRelays = 7
	// MaxValue is the largest capacitor/inductor value (all 7 relays closed).
	MaxValue = 1<<MaxRelays - 1

	capsMask = 0x007F
	zBit     = 0x0080
	indShift = 8
	indsMask = 0x7F00
	antBit   = 0x8000
)

// Config is one relay configuration of the matching network.
// Capacitors and Inductors are relay bitmasks; bit i switches the i-th
// binary weighted element.
type Config struct {
	Capacitors uint8
	Inductors  uint8
	HiZ        bool // Capacitors on the antenna side
	Antenna    bool // Antenna port B
}

// Bypass is the all-relays-open configuration.
var Bypass = Config{}

// Pack packs the configuration into the relay driver word.
// Layout, LSB first: 7 bits capacitors, 1 bit Z, 7 bits inductors, 1 bit antenna.
func (c Config) Pack() uint16 {
	w := uint16(c.Capacitors) & capsMask
	if c.HiZ {
		w |= zBit
	}
	w |= (uint16(c.Inductors) << indShift) & indsMask
	if c.Antenna {
		w |= antBit
	}
	return w
}

// Unpack is the inverse of Config.Pack.
func Unpack(w uint16) Config {
	return Config{
		Capacitors: uint8(w & capsMask),
		Inductors:  uint8((w & indsMask) >> indShift),
		HiZ:        w&zBit != 0,
		Antenna:    w&antBit != 0,
	}
}

// RelayCount returns the number of closed capacitor and inductor relays.
func (c Config) RelayCount() int {
	return bits.OnesCount8(c.Capacitors) + bits.OnesCount8(c.Inductors)
}

// WithZ returns a copy of c with the given Z topology.
func (c Config) WithZ(hiZ bool) Config {
	c.HiZ = hiZ
	return c
}

func (c Config) String() string {
	z := "lo"
	if c.HiZ {
		z = "hi"
	}
	ant := 1
	if c.Antenna {
		ant = 2
	}
	return fmt.Sprintf("C=%d L=%d Z=%s ant=%d", c.Capacitors, c.Inductors, z, ant)
}
