package entry

import (
	"math"
	"sort"
	"time"
)

// matchToleranceSeconds bounds how far from a session's target time a scan
// can still bind to it. Independent of the session's own grace window: a
// scan further out than this becomes "unscheduled" instead of binding to a
// wildly distant session.
const matchToleranceSeconds = 14400 // 4 hours

// earlyPenalty weights scans that arrive before the target time. In a tie
// between two equidistant sessions, the one the scanner is late for wins
// over the one they are early for.
const earlyPenalty = 1.5

// BestSession selects the most plausible session for a scan time.
//
// Candidates are walked in ascending session-id order so the result is
// deterministic: the first session with the minimal weighted distance wins.
// Returns ok=false when no session is within tolerance.
func BestSession(sessions []SessionDetails, scanTime time.Time) (SessionDetails, bool) {
	if len(sessions) == 0 {
		return SessionDetails{}, false
	}

	sorted := make([]SessionDetails, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SessionID < sorted[j].SessionID })

	var (
		best       SessionDetails
		bestWeight float64
		found      bool
	)
	for _, s := range sorted {
		diff := scanTime.Sub(s.TargetTime).Seconds()
		absDiff := math.Abs(diff)
		if absDiff > matchToleranceSeconds {
			continue
		}
		weight := absDiff
		if diff < 0 {
			weight = absDiff * earlyPenalty
		}
		if !found || weight < bestWeight {
			best = s
			bestWeight = weight
			found = true
		}
	}
	return best, found
}

// Classify grades a scan against its matched session's grace window.
// Only meaningful when a session match exists; unmatched scans carry the
// literal PunctualityUnscheduled instead.
func Classify(scanTime time.Time, s SessionDetails) Punctuality {
	minutes := scanTime.Sub(s.TargetTime).Minutes()
	switch {
	case minutes < -float64(s.GraceMinutesBefore):
		return PunctualityEarly
	case minutes > float64(s.GraceMinutesAfter):
		return PunctualityLate
	default:
		return PunctualityPunctual
	}
}
