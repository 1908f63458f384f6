// Package registry reads canonical entities. The registry is owned elsewhere;
// the pipeline never writes to it outside of seeding.
package registry

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository handles registry reads
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new registry repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// List returns every entity candidates of family are matched against.
func (r *Repository) List(ctx context.Context, family models.Family) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "party_name", "region")
	sb.From(family.Tables().Registry)
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	entities := []models.CanonicalEntity{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"family": family}).Error("Failed to load registry")
		return nil, fernerrors.NewStoreError("load registry", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"family": family,
		"count":  len(entities),
	}).Debug("Loaded registry")
	return entities, nil
}

// Upsert seeds entities, overwriting names and parties of existing ids.
func (r *Repository) Upsert(ctx context.Context, family models.Family, entities []models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "registry.Repository.Upsert")
	defer span.End()

	if len(entities) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(family.Tables().Registry)
	ib.Cols("id", "name", "party_name", "region")
	for _, e := range entities {
		ib.Values(e.ID, e.Name, e.PartyName, e.Region)
	}
	ub := ib.OnConflict("id")
	ub.Set(
		ub.Assign("name", database.Excluded("name")),
		ub.Assign("party_name", database.Excluded("party_name")),
		ub.Assign("region", database.Excluded("region")),
	)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"family": family}).Error("Failed to seed registry")
		return fernerrors.NewStoreError("seed registry", err)
	}

	return nil
}
