package models

import (
	"database/sql/driver"
	"fmt"
)

// MatchStatus is the resolution state of an ExtractionCandidate.
type MatchStatus string

const (
	MatchStatusPending     MatchStatus = "pending"
	MatchStatusMatched     MatchStatus = "matched"
	MatchStatusNeedsReview MatchStatus = "needs_review"
	MatchStatusNoMatch     MatchStatus = "no_match"
)

// MatchStatuses lists every status in reporting order.
var MatchStatuses = []MatchStatus{
	MatchStatusPending,
	MatchStatusMatched,
	MatchStatusNeedsReview,
	MatchStatusNoMatch,
}

// ParseMatchStatus converts a stored value into a MatchStatus.
func ParseMatchStatus(s string) (MatchStatus, error) {
	switch MatchStatus(s) {
	case MatchStatusPending, MatchStatusMatched, MatchStatusNeedsReview, MatchStatusNoMatch:
		return MatchStatus(s), nil
	default:
		return "", fmt.Errorf("unknown match status %q", s)
	}
}

// IsTerminal reports whether the status is the outcome of a classification.
func (s MatchStatus) IsTerminal() bool {
	switch s {
	case MatchStatusMatched, MatchStatusNeedsReview, MatchStatusNoMatch:
		return true
	case MatchStatusPending:
		return false
	default:
		return false
	}
}

// CanTransitionTo enforces the one-shot classification lifecycle:
// pending moves to any terminal status, terminal statuses only return to pending.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	switch s {
	case MatchStatusPending:
		return next.IsTerminal()
	case MatchStatusMatched, MatchStatusNeedsReview, MatchStatusNoMatch:
		return next == MatchStatusPending
	default:
		return false
	}
}

func (s MatchStatus) String() string {
	return string(s)
}

// Value implements driver.Valuer.
func (s MatchStatus) Value() (driver.Value, error) {
	if _, err := ParseMatchStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *MatchStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into MatchStatus", src)
	}
	parsed, err := ParseMatchStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
