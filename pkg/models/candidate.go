package models

import "time"

// ExtractionCandidate is a staged observation awaiting resolution against the registry.
// ExtractedName holds the normalized name and is the identity key within a scope.
type ExtractionCandidate struct {
	ID                       string      `json:"id" db:"id"`
	ScopeID                  string      `json:"scope_id" db:"scope_id"`
	ExtractedName            string      `json:"extracted_name" db:"extracted_name"`
	ExtractedRole            string      `json:"extracted_role" db:"extracted_role"`
	ExtractedAffiliationName *string     `json:"extracted_affiliation_name,omitempty" db:"extracted_affiliation_name"`
	SourceURL                string      `json:"source_url" db:"source_url"`
	ExtractedAt              time.Time   `json:"extracted_at" db:"extracted_at"`
	MatchedEntityID          *string     `json:"matched_entity_id,omitempty" db:"matched_entity_id"`
	Confidence               *float64    `json:"confidence,omitempty" db:"confidence"`
	Status                   MatchStatus `json:"status" db:"status"`
	MatchedAt                *time.Time  `json:"matched_at,omitempty" db:"matched_at"`
	Notes                    *string     `json:"notes,omitempty" db:"notes"`
}

// Resolution is the outcome MatchingService persists for a pending candidate.
type Resolution struct {
	Status          MatchStatus
	MatchedEntityID *string
	Confidence      float64
	Notes           string
	MatchedAt       time.Time
}

// StatusCounts is the per-status distribution of candidates.
type StatusCounts map[MatchStatus]int64

// Total sums all statuses.
func (c StatusCounts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}
