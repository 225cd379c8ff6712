// Package review holds the collateral review state machine. All
// status transitions go through CanTransition so the rules live in
// one place.
package review

// Review statuses for collateral outputs.
const (
	StatusPending   = "PENDING"
	StatusFlagged   = "FLAGGED"
	StatusQueued    = "QUEUED"
	StatusReviewed  = "REVIEWED"
	StatusApproved  = "APPROVED"
	StatusCorrected = "CORRECTED"
)

var transitions = map[string][]string{
	StatusPending:   {StatusFlagged, StatusQueued},
	StatusFlagged:   {StatusQueued, StatusReviewed},
	StatusQueued:    {StatusReviewed},
	StatusReviewed:  {StatusApproved, StatusCorrected},
	StatusCorrected: {StatusQueued},
	StatusApproved:  {},
}

// IsStatus reports whether s is a known review status.
func IsStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a collateral output may move from one
// status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func Terminal(s string) bool {
	return len(transitions[s]) == 0 && IsStatus(s)
}
