package models

import "time"

// CanonicalEntity is a registry entry. The pipeline only reads these.
type CanonicalEntity struct {
	ID        string  `json:"id" db:"id"`
	Name      string  `json:"name" db:"name"`
	PartyName *string `json:"party_name,omitempty" db:"party_name"`
	Region    *string `json:"region,omitempty" db:"region"`
}

// ScoredEntity is a registry entry ranked against a candidate name.
type ScoredEntity struct {
	EntityID  string  `json:"entity_id"`
	Name      string  `json:"name"`
	PartyName *string `json:"party,omitempty"`
	Score     float64 `json:"score"`
	Exact     bool    `json:"exact"`
}

// AffiliationRecord states that an entity held a role within a scope over a period.
// A nil EndDate marks the record as open.
type AffiliationRecord struct {
	ID                string     `json:"id" db:"id"`
	EntityID          string     `json:"entity_id" db:"entity_id"`
	ScopeID           string     `json:"scope_id" db:"scope_id"`
	Role              string     `json:"role" db:"role"`
	StartDate         time.Time  `json:"start_date" db:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty" db:"end_date"`
	SourceCandidateID *string    `json:"source_candidate_id,omitempty" db:"source_candidate_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// IsOpen reports whether the affiliation is currently active.
func (a *AffiliationRecord) IsOpen() bool {
	return a.EndDate == nil
}

// DateOnly truncates t to a UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
