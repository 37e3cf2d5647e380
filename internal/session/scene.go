package session

import "time"

// Scene is the coarse state of the competition flow. The order matters:
// connectivity overlays apply up to WaitingForCompetitorWithTime, and
// inspection can only start before Inspection.
type Scene int

const (
	NotInitialized Scene = iota
	WaitingForCompetitor
	WaitingForCompetitorWithTime
	CompetitorInfo
	Inspection
	TimerTime
	FinishedTime
	Error
)

var sceneNames = [...]string{
	NotInitialized:               "NotInitialized",
	WaitingForCompetitor:         "WaitingForCompetitor",
	WaitingForCompetitorWithTime: "WaitingForCompetitorWithTime",
	CompetitorInfo:               "CompetitorInfo",
	Inspection:                   "Inspection",
	TimerTime:                    "TimerTime",
	FinishedTime:                 "FinishedTime",
	Error:                        "Error",
}

// String returns the scene name.
func (s Scene) String() string {
	if s < 0 || int(s) >= len(sceneNames) {
		return "Unknown"
	}
	return sceneNames[s]
}

// Penalty codes. Positive even values are seconds added.
const (
	PenaltyNone = 0
	PenaltyDNF  = -1
	PenaltyDNS  = -2

	// MaxPenalty is the largest +N reachable by cycling.
	MaxPenalty = 16
)

const (
	// InspectionTime is the nominal inspection window. Finished times
	// show the inspection seconds once it was reached.
	InspectionTime = 15 * time.Second

	// PlusTwoAfter and DNFAfter convert overlong inspection into penalties.
	PlusTwoAfter = 15 * time.Second
	DNFAfter     = 17 * time.Second

	// DelegateHoldTime is how long the delegate button must be held.
	DelegateHoldTime = 3 * time.Second

	// DefaultStaleAfter is the age beyond which a saved session is dropped.
	DefaultStaleAfter = 6 * time.Hour

	// NotConnectedMessage is shown when a message cannot be sent.
	NotConnectedMessage = "Server not connected!"

	maxDisplayLen   = 128
	maxSecondaryLen = 32
	maxErrorLen     = 128
)

// NextPenalty cycles none, +2, +4 ... +16, none. DNF and DNS go back to none.
func NextPenalty(p int) int {
	if p >= MaxPenalty || p < 0 {
		return PenaltyNone
	}
	return p + 2
}

// InspectionPenalty maps an inspection duration to a penalty code. It
// reports false when the duration earns no penalty.
func InspectionPenalty(d time.Duration) (int, bool) {
	switch {
	case d >= DNFAfter:
		return PenaltyDNF, true
	case d >= PlusTwoAfter:
		return 2, true
	default:
		return PenaltyNone, false
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
