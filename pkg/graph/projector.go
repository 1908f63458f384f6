package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Writer runs a write query.
type Writer interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
}

// Projector mirrors affiliation records as
// (:Actor)-[:AFFILIATED {role, start, end, family}]->(:Scope) relationships.
// It satisfies affiliation.Listener.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{writer: writer, logger: logger}
}

// vote_judgment actors are parliamentary groups judging proposals.
func actorLabel(family models.Family) string {
	if family == models.FamilyVoteJudgment {
		return "Group"
	}
	return "Politician"
}

func scopeLabel(family models.Family) string {
	switch family {
	case models.FamilyGroupMember:
		return "ParliamentaryGroup"
	case models.FamilyVoteJudgment:
		return "Proposal"
	default:
		return "Body"
	}
}

const upsertAffiliation = `
	MERGE (a:Actor:%s {id: $entity_id})
	MERGE (s:Scope:%s {id: $scope_id})
	MERGE (a)-[r:AFFILIATED {id: $id}]->(s)
	SET r += $props
`

func affiliationQuery(family models.Family) string {
	return fmt.Sprintf(upsertAffiliation, actorLabel(family), scopeLabel(family))
}

func affiliationParams(family models.Family, rec models.AffiliationRecord) map[string]any {
	props := map[string]any{
		"role":   rec.Role,
		"start":  rec.StartDate.Format("2006-01-02"),
		"end":    nil,
		"family": string(family),
	}
	if rec.EndDate != nil {
		props["end"] = rec.EndDate.Format("2006-01-02")
	}
	return map[string]any{
		"id":        rec.ID,
		"entity_id": rec.EntityID,
		"scope_id":  rec.ScopeID,
		"props":     props,
	}
}

func (p *Projector) project(ctx context.Context, family models.Family, rec models.AffiliationRecord) error {
	if err := p.writer.Write(ctx, affiliationQuery(family), affiliationParams(family, rec)); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"family":         family,
			"affiliation_id": rec.ID,
			"entity_id":      rec.EntityID,
		}).Error("Failed to project affiliation")
		return err
	}
	return nil
}

func (p *Projector) AffiliationOpened(ctx context.Context, family models.Family, rec models.AffiliationRecord) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.AffiliationOpened")
	defer span.End()
	return p.project(ctx, family, rec)
}

// AffiliationClosed sets the end date on the existing relationship.
func (p *Projector) AffiliationClosed(ctx context.Context, family models.Family, rec models.AffiliationRecord) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.AffiliationClosed")
	defer span.End()
	return p.project(ctx, family, rec)
}
