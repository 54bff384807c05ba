package tuning

import (
	"fmt"

	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
)

// Match is one measured relay configuration. Matches are values: the best
// so far is always replaced as a whole.
type Match struct {
	Relays  relays.Config
	RF      rf.Measurement
	Attempt uint16 // comparison number within the cycle, 0 for "no match yet"
}

// noMatch is the starting point of a search: worse than any measured match.
var noMatch = Match{RF: rf.Measurement{MatchQuality: rf.NoQuality, SWR: rf.MaxSWR}}

// Empty reports whether m is the "no match yet" placeholder.
func (m Match) Empty() bool {
	return m.Attempt == 0
}

func (m Match) String() string {
	if m.Empty() {
		return "none"
	}
	return fmt.Sprintf("#%d %s q=%.4f swr=%.2f", m.Attempt, m.Relays, m.RF.MatchQuality, m.RF.SWR)
}

// Better returns whichever of candidate and best matches better: lower
// MatchQuality wins, ties go to higher ForwardVolts, and full ties keep best.
func Better(candidate, best Match) Match {
	switch {
	case best.Empty():
		return candidate
	case candidate.Empty():
		return best
	case candidate.RF.MatchQuality < best.RF.MatchQuality:
		return candidate
	case candidate.RF.MatchQuality > best.RF.MatchQuality:
		return best
	case candidate.RF.ForwardVolts > best.RF.ForwardVolts:
		return candidate
	default:
		return best
	}
}
