package events

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// SchemaVersion is carried on every message as a header and in the body.
const SchemaVersion = "1.0"

// EventType names a pipeline event.
type EventType string

const (
	EventTypeCandidateResolved EventType = "candidate.resolved"
	EventTypeAffiliationOpened EventType = "affiliation.opened"
	EventTypeAffiliationClosed EventType = "affiliation.closed"
)

// BaseEvent holds the fields common to every event.
type BaseEvent struct {
	EventType     EventType     `json:"event_type"`
	SchemaVersion string        `json:"schema_version"`
	Family        models.Family `json:"family"`
	ScopeID       string        `json:"scope_id"`
	Timestamp     time.Time     `json:"timestamp"`
}

// CandidateResolvedEvent is emitted when a pending candidate reaches a terminal status.
type CandidateResolvedEvent struct {
	BaseEvent
	CandidateID     string             `json:"candidate_id"`
	ExtractedName   string             `json:"extracted_name"`
	Status          models.MatchStatus `json:"status"`
	MatchedEntityID *string            `json:"matched_entity_id,omitempty"`
	Confidence      float64            `json:"confidence"`
	Notes           string             `json:"notes,omitempty"`
}

// AffiliationEvent is emitted when an affiliation record is opened or closed.
type AffiliationEvent struct {
	BaseEvent
	AffiliationID     string     `json:"affiliation_id"`
	EntityID          string     `json:"entity_id"`
	Role              string     `json:"role"`
	StartDate         time.Time  `json:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	SourceCandidateID *string    `json:"source_candidate_id,omitempty"`
}

func newBase(eventType EventType, family models.Family, scopeID string, now time.Time) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Family:        family,
		ScopeID:       scopeID,
		Timestamp:     now.UTC(),
	}
}

// NewCandidateResolved builds the event for a persisted resolution.
func NewCandidateResolved(family models.Family, c models.ExtractionCandidate, res models.Resolution, now time.Time) *CandidateResolvedEvent {
	return &CandidateResolvedEvent{
		BaseEvent:       newBase(EventTypeCandidateResolved, family, c.ScopeID, now),
		CandidateID:     c.ID,
		ExtractedName:   c.ExtractedName,
		Status:          res.Status,
		MatchedEntityID: res.MatchedEntityID,
		Confidence:      res.Confidence,
		Notes:           res.Notes,
	}
}

// NewAffiliationEvent builds an opened or closed event for rec.
func NewAffiliationEvent(eventType EventType, family models.Family, rec models.AffiliationRecord, now time.Time) *AffiliationEvent {
	return &AffiliationEvent{
		BaseEvent:         newBase(eventType, family, rec.ScopeID, now),
		AffiliationID:     rec.ID,
		EntityID:          rec.EntityID,
		Role:              rec.Role,
		StartDate:         rec.StartDate,
		EndDate:           rec.EndDate,
		SourceCandidateID: rec.SourceCandidateID,
	}
}
