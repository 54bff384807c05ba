package sim

import (
	"math"
	"math/cmplx"

	"github.com/itohio/goatu/pkg/relays"
)

const (
	// InductorUnit is the inductance of the smallest inductor relay (H).
	InductorUnit = 0.05e-6
	// CapacitorUnit is the capacitance of the smallest capacitor relay (F).
	CapacitorUnit = 10e-12
	// Z0 is the line impedance.
	Z0 = 50
)

// Network is an L matching network in front of a load.
type Network struct {
	Load complex128 // antenna impedance
}

// Inductance returns the switched in inductance of c.
func Inductance(c relays.Config) float64 {
	return float64(c.Inductors) * InductorUnit
}

// Capacitance returns the switched in capacitance of c.
func Capacitance(c relays.Config) float64 {
	return float64(c.Capacitors) * CapacitorUnit
}

func parallel(a, b complex128) complex128 {
	return a * b / (a + b)
}

// Impedance returns the input impedance seen by the transmitter at hz.
// HiZ places the capacitors across the antenna, otherwise across the
// transmitter side.
func (n Network) Impedance(c relays.Config, hz float64) complex128 {
	w := 2 * math.Pi * hz
	zl := complex(0, w*Inductance(c))

	shunt := func(z complex128) complex128 {
		if c.Capacitors == 0 {
			return z
		}
		return parallel(z, complex(0, -1/(w*Capacitance(c))))
	}

	if c.HiZ {
		return shunt(n.Load) + zl
	}
	return shunt(n.Load + zl)
}

// Reflection returns |Γ| against Z0.
func (n Network) Reflection(c relays.Config, hz float64) float64 {
	z := n.Impedance(c, hz)
	g := cmplx.Abs((z - Z0) / (z + Z0))
	if math.IsNaN(g) || g > 1 {
		return 1
	}
	return g
}

// SWR returns the standing wave ratio for c.
func (n Network) SWR(c relays.Config, hz float64) float64 {
	g := n.Reflection(c, hz)
	if g >= 1 {
		return math.Inf(1)
	}
	return (1 + g) / (1 - g)
}
