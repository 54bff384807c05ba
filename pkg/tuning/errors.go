package tuning

import (
	"errors"
	"strings"
)

// Errors is the set of fault flags of one tuning cycle. The zero value is success.
type Errors uint8

const (
	NoRF       Errors = 1 << iota // no RF within the stabilization window
	LostRF                        // RF vanished mid-search
	BadMatch                      // search finished above the SWR threshold
	RelayError                    // the relay driver refused a publish
	NoMemory                      // no usable stored solution near the frequency
	NoFreq                        // frequency measurement failed twice
	Timeout                       // comparison budget exhausted
)

var errorNames = []struct {
	flag Errors
	name string
}{
	{NoRF, "noRF"},
	{LostRF, "lostRF"},
	{BadMatch, "badMatch"},
	{RelayError, "relayError"},
	{NoMemory, "noMemory"},
	{NoFreq, "noFreq"},
	{Timeout, "timeout"},
}

// Has reports whether any of flags is set.
func (e Errors) Has(flags Errors) bool {
	return e&flags != 0
}

// Set adds flags to the set.
func (e *Errors) Set(flags Errors) {
	*e |= flags
}

// OK reports whether no flag is set.
func (e Errors) OK() bool {
	return e == 0
}

func (e Errors) String() string {
	if e == 0 {
		return "ok"
	}
	var names []string
	for _, n := range errorNames {
		if e.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if rest := e &^ allErrors; rest != 0 {
		names = append(names, "unknown")
	}
	return strings.Join(names, "|")
}

const allErrors = NoRF | LostRF | BadMatch | RelayError | NoMemory | NoFreq | Timeout

// Err returns nil for success, otherwise an error wrapping the flags.
func (e Errors) Err() error {
	if e == 0 {
		return nil
	}
	return &CycleError{Flags: e}
}

// CycleError is the error form of a failed tuning cycle.
type CycleError struct {
	Flags Errors
}

func (c *CycleError) Error() string {
	return "tuning failed: " + c.Flags.String()
}

// FlagsOf extracts the tuning flags from err, or 0 if err is not a tuning failure.
func FlagsOf(err error) Errors {
	var c *CycleError
	if errors.As(err, &c) {
		return c.Flags
	}
	return 0
}
