// Package affiliation persists temporal affiliation records, one table per family.
package affiliation

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const uniqueViolation = "23505"

var columns = []string{
	"id", "entity_id", "scope_id", "role", "start_date", "end_date", "source_candidate_id", "created_at", "updated_at",
}

// Repository handles affiliation record persistence. Every method runs on the
// transaction carried by ctx when there is one.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new affiliation repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) selectOne(ctx context.Context, sb *sqlbuilder.SelectBuilder, op string) (*models.AffiliationRecord, error) {
	query, args := sb.Build()
	var rows []models.AffiliationRecord
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to %s", op)
		return nil, fernerrors.NewStoreError(op, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindOpenForUpdate returns the open record of (entity, scope) and locks it
// until the surrounding transaction ends. nil means there is none.
func (r *Repository) FindOpenForUpdate(ctx context.Context, family models.Family, entityID, scopeID string) (*models.AffiliationRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Repository.FindOpenForUpdate")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(family.Tables().Affiliations)
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.Equal("scope_id", scopeID),
		sb.IsNull("end_date"),
	)
	sb.ForUpdate()

	return r.selectOne(ctx, sb, "find open affiliation")
}

// LatestClosed returns the closed record of (entity, scope) with the latest end date.
func (r *Repository) LatestClosed(ctx context.Context, family models.Family, entityID, scopeID string) (*models.AffiliationRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Repository.LatestClosed")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(family.Tables().Affiliations)
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.Equal("scope_id", scopeID),
		sb.IsNotNull("end_date"),
	)
	sb.OrderBy("end_date DESC")
	sb.Limit(1)

	return r.selectOne(ctx, sb, "find latest closed affiliation")
}

// Close sets the end date of an open record.
func (r *Repository) Close(ctx context.Context, family models.Family, id string, end time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Repository.Close")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(family.Tables().Affiliations)
	ub.Set(
		ub.Assign("end_date", models.DateOnly(end)),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("end_date"),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"affiliation_id": id}).Error("Failed to close affiliation")
		return fernerrors.NewStoreError("close affiliation", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fernerrors.NewStoreError("close affiliation", errors.New("affiliation is not open"))
	}

	return nil
}

// Insert creates an open record. Violating the one-open-record index yields a ConflictError.
func (r *Repository) Insert(ctx context.Context, family models.Family, rec *models.AffiliationRecord) error {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Repository.Insert")
	defer span.End()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.StartDate = models.DateOnly(rec.StartDate)
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(family.Tables().Affiliations)
	ib.Cols(columns...)
	ib.Values(rec.ID, rec.EntityID, rec.ScopeID, rec.Role, rec.StartDate, rec.EndDate, rec.SourceCandidateID, rec.CreatedAt, rec.UpdatedAt)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fernerrors.NewConflictError(rec.EntityID, rec.ScopeID, "an open affiliation already exists")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": rec.EntityID,
			"scope_id":  rec.ScopeID,
		}).Error("Failed to insert affiliation")
		return fernerrors.NewStoreError("insert affiliation", err)
	}

	return nil
}

// ListByScope returns every record of a scope, open records first.
func (r *Repository) ListByScope(ctx context.Context, family models.Family, scopeID string) ([]models.AffiliationRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Repository.ListByScope")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(family.Tables().Affiliations)
	sb.Where(sb.Equal("scope_id", scopeID))
	sb.OrderBy("end_date DESC NULLS FIRST", "entity_id ASC")

	query, args := sb.Build()
	rows := []models.AffiliationRecord{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope_id": scopeID}).Error("Failed to list affiliations")
		return nil, fernerrors.NewStoreError("list affiliations", err)
	}
	return rows, nil
}

// CountOpen returns the number of open records. AllScopes covers the whole family.
func (r *Repository) CountOpen(ctx context.Context, family models.Family, scopeID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Repository.CountOpen")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(family.Tables().Affiliations)
	where := []string{sb.IsNull("end_date")}
	if scopeID != models.AllScopes {
		where = append(where, sb.Equal("scope_id", scopeID))
	}
	sb.Where(where...)

	query, args := sb.Build()
	var n int64
	if err := database.Conn(ctx, r.db).GetContext(ctx, &n, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope_id": scopeID}).Error("Failed to count open affiliations")
		return 0, fernerrors.NewStoreError("count open affiliations", err)
	}
	return n, nil
}
