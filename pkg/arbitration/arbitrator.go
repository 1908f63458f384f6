// Package arbitration adapts the external semantic-matching oracle that settles
// candidates the rule scorer cannot decide on its own.
package arbitration

import (
	"context"
	"fmt"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Option is one registry entry offered to the oracle.
type Option struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Party    *string `json:"party,omitempty"`
	Score    float64 `json:"score"`
}

// Request is the oracle request contract.
type Request struct {
	CandidateName        string   `json:"candidate_name"`
	CandidateRole        string   `json:"candidate_role"`
	CandidateAffiliation *string  `json:"candidate_affiliation,omitempty"`
	Entities             []Option `json:"entities"`
}

// Decision is the oracle response contract. A nil EntityID means none of the options fit.
type Decision struct {
	EntityID   *string `json:"entity_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Arbitrator picks at most one registry entry for an ambiguous candidate.
type Arbitrator interface {
	Arbitrate(ctx context.Context, req Request) (*Decision, error)
}

// Func adapts a function to Arbitrator.
type Func func(ctx context.Context, req Request) (*Decision, error)

func (f Func) Arbitrate(ctx context.Context, req Request) (*Decision, error) {
	return f(ctx, req)
}

// NewRequest builds a request from a candidate and its above-floor scored entities.
func NewRequest(candidate models.ExtractionCandidate, scored []models.ScoredEntity) Request {
	options := make([]Option, 0, len(scored))
	for _, s := range scored {
		options = append(options, Option{
			EntityID: s.EntityID,
			Name:     s.Name,
			Party:    s.PartyName,
			Score:    s.Score,
		})
	}
	return Request{
		CandidateName:        candidate.ExtractedName,
		CandidateRole:        candidate.ExtractedRole,
		CandidateAffiliation: candidate.ExtractedAffiliationName,
		Entities:             options,
	}
}

// Validate rejects decisions outside the response contract: confidence outside
// [0,1] or an entity that was not offered.
func Validate(req Request, d *Decision) error {
	if d == nil {
		return fernerrors.NewPermanentOracleError(0, "empty response", nil)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fernerrors.NewPermanentOracleError(0, fmt.Sprintf("confidence %v outside [0,1]", d.Confidence), nil)
	}
	if d.EntityID == nil {
		return nil
	}
	for _, o := range req.Entities {
		if o.EntityID == *d.EntityID {
			return nil
		}
	}
	return fernerrors.NewPermanentOracleError(0, fmt.Sprintf("entity %s was not offered", *d.EntityID), nil)
}
