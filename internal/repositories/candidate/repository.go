// Package candidate persists staged extraction candidates, one table per family.
package candidate

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id", "scope_id", "extracted_name", "extracted_role", "extracted_affiliation_name",
	"source_url", "extracted_at", "matched_entity_id", "confidence", "status", "matched_at", "notes",
}

const maxListLimit = 500

// Repository handles candidate persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new candidate repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type upsertResult struct {
	ID       string `db:"id"`
	Inserted bool   `db:"inserted"`
}

// Upsert stages a candidate keyed by (scope_id, extracted_name). An existing row
// keeps its matching fields; only the extraction fields are refreshed. It reports
// whether a new row was created.
func (r *Repository) Upsert(ctx context.Context, family models.Family, c *models.ExtractionCandidate) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.Upsert")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ExtractedAt.IsZero() {
		c.ExtractedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(family.Tables().Candidates)
	ib.Cols("id", "scope_id", "extracted_name", "extracted_role", "extracted_affiliation_name", "source_url", "extracted_at", "status")
	ib.Values(c.ID, c.ScopeID, c.ExtractedName, c.ExtractedRole, c.ExtractedAffiliationName, c.SourceURL, c.ExtractedAt, models.MatchStatusPending.String())
	ub := ib.OnConflict("scope_id", "extracted_name")
	ub.Set(
		ub.Assign("extracted_role", database.Excluded("extracted_role")),
		ub.Assign("extracted_affiliation_name", database.Excluded("extracted_affiliation_name")),
		ub.Assign("source_url", database.Excluded("source_url")),
		ub.Assign("extracted_at", database.Excluded("extracted_at")),
	)

	query, args := ib.Build()
	query = database.WithInsertedFlag(query, "id")

	var res upsertResult
	if err := database.Conn(ctx, r.db).GetContext(ctx, &res, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"family":   family,
			"scope_id": c.ScopeID,
			"name":     c.ExtractedName,
		}).Error("Failed to upsert candidate")
		return false, fernerrors.NewStoreError("upsert candidate", err)
	}

	c.ID = res.ID
	return res.Inserted, nil
}

// Get retrieves a candidate by id. A missing row returns nil, nil.
func (r *Repository) Get(ctx context.Context, family models.Family, id string) (*models.ExtractionCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(family.Tables().Candidates)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var rows []models.ExtractionCandidate
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": id}).Error("Failed to get candidate")
		return nil, fernerrors.NewStoreError("get candidate", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListPending returns the pending candidates of a scope, oldest first.
func (r *Repository) ListPending(ctx context.Context, family models.Family, scopeID string) ([]models.ExtractionCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.ListPending")
	defer span.End()

	return r.listByStatus(ctx, family, scopeID, models.MatchStatusPending)
}

// ListMatched returns the matched candidates of a scope that carry an entity.
func (r *Repository) ListMatched(ctx context.Context, family models.Family, scopeID string) ([]models.ExtractionCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.ListMatched")
	defer span.End()

	rows, err := r.listByStatus(ctx, family, scopeID, models.MatchStatusMatched)
	if err != nil {
		return nil, err
	}

	matched := rows[:0]
	for _, c := range rows {
		if c.MatchedEntityID != nil {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (r *Repository) listByStatus(ctx context.Context, family models.Family, scopeID string, status models.MatchStatus) ([]models.ExtractionCandidate, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(family.Tables().Candidates)
	sb.Where(
		sb.Equal("scope_id", scopeID),
		sb.Equal("status", status.String()),
	)
	sb.OrderBy("extracted_at ASC", "id ASC")

	query, args := sb.Build()
	var rows []models.ExtractionCandidate
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"family":   family,
			"scope_id": scopeID,
			"status":   status,
		}).Error("Failed to list candidates")
		return nil, fernerrors.NewStoreError(fmt.Sprintf("list %s candidates", status), err)
	}

	return rows, nil
}

// ListFilter narrows List for the review API.
type ListFilter struct {
	ScopeID string
	Status  *models.MatchStatus
	Limit   int
	Offset  int
}

// List returns candidates for review, most recently resolved first.
func (r *Repository) List(ctx context.Context, family models.Family, filter ListFilter) ([]models.ExtractionCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.List")
	defer span.End()

	if filter.Limit < 1 || filter.Limit > maxListLimit {
		filter.Limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(family.Tables().Candidates)

	where := []string{}
	if filter.ScopeID != "" && filter.ScopeID != models.AllScopes {
		where = append(where, sb.Equal("scope_id", filter.ScopeID))
	}
	if filter.Status != nil {
		where = append(where, sb.Equal("status", filter.Status.String()))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("matched_at DESC NULLS LAST", "id ASC")
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset)

	query, args := sb.Build()
	rows := []models.ExtractionCandidate{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"family": family}).Error("Failed to list candidates")
		return nil, fernerrors.NewStoreError("list candidates", err)
	}

	return rows, nil
}

// Resolve writes a classification onto a pending candidate. It reports false
// when the row was no longer pending, leaving it untouched.
func (r *Repository) Resolve(ctx context.Context, family models.Family, id string, res models.Resolution) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.Resolve")
	defer span.End()

	if !models.MatchStatusPending.CanTransitionTo(res.Status) {
		return false, fernerrors.NewStoreError("resolve candidate", fmt.Errorf("invalid transition from pending to %q", res.Status))
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(family.Tables().Candidates)
	ub.Set(
		ub.Assign("status", res.Status.String()),
		ub.Assign("matched_entity_id", res.MatchedEntityID),
		ub.Assign("confidence", res.Confidence),
		ub.Assign("matched_at", res.MatchedAt),
		ub.Assign("notes", res.Notes),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.MatchStatusPending.String()),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": id}).Error("Failed to resolve candidate")
		return false, fernerrors.NewStoreError("resolve candidate", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fernerrors.NewStoreError("resolve candidate", err)
	}
	return n == 1, nil
}

// ResetScope returns every candidate of a scope to pending and clears the
// matching fields. AllScopes resets the whole family.
func (r *Repository) ResetScope(ctx context.Context, family models.Family, scopeID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.ResetScope")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(family.Tables().Candidates)
	ub.Set(
		ub.Assign("status", models.MatchStatusPending.String()),
		ub.Assign("matched_entity_id", nil),
		ub.Assign("confidence", nil),
		ub.Assign("matched_at", nil),
		ub.Assign("notes", nil),
	)
	if scopeID != models.AllScopes {
		ub.Where(ub.Equal("scope_id", scopeID))
	}

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"family":   family,
			"scope_id": scopeID,
		}).Error("Failed to reset candidates")
		return 0, fernerrors.NewStoreError("reset candidates", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fernerrors.NewStoreError("reset candidates", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"family":   family,
		"scope_id": scopeID,
		"count":    n,
	}).Info("Reset candidates to pending")
	return n, nil
}

// DistinctScopes lists every scope that has staged candidates.
func (r *Repository) DistinctScopes(ctx context.Context, family models.Family) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.DistinctScopes")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT scope_id")
	sb.From(family.Tables().Candidates)
	sb.OrderBy("scope_id ASC")

	query, args := sb.Build()
	scopes := []string{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &scopes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"family": family}).Error("Failed to list scopes")
		return nil, fernerrors.NewStoreError("list scopes", err)
	}

	return scopes, nil
}

type statusCount struct {
	Status models.MatchStatus `db:"status"`
	Count  int64              `db:"count"`
}

// StatusCounts reports how many candidates sit in each status. AllScopes covers the whole family.
func (r *Repository) StatusCounts(ctx context.Context, family models.Family, scopeID string) (models.StatusCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "candidate.Repository.StatusCounts")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("status", "COUNT(*) AS count")
	sb.From(family.Tables().Candidates)
	if scopeID != models.AllScopes {
		sb.Where(sb.Equal("scope_id", scopeID))
	}
	sb.GroupBy("status")

	query, args := sb.Build()
	var rows []statusCount
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"family":   family,
			"scope_id": scopeID,
		}).Error("Failed to count candidates")
		return nil, fernerrors.NewStoreError("count candidates", err)
	}

	counts := models.StatusCounts{}
	for _, s := range models.MatchStatuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
