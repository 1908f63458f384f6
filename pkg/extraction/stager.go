// Package extraction stages raw scraped observations as pending candidates.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RawCandidate is one observation as a source reports it, before normalization.
type RawCandidate struct {
	ScopeID     string    `json:"scope_id" validate:"required,max=255"`
	Name        string    `json:"name" validate:"required,max=255"`
	Role        string    `json:"role" validate:"max=255"`
	Affiliation *string   `json:"affiliation,omitempty" validate:"omitempty,max=255"`
	SourceURL   string    `json:"source_url" validate:"omitempty,url"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Source lists scopes and their raw observations for a family.
type Source interface {
	Scopes(ctx context.Context, family models.Family) ([]string, error)
	Fetch(ctx context.Context, family models.Family, scopeID string) ([]RawCandidate, error)
}

// CandidateWriter persists staged candidates. It reports whether a new row was created.
type CandidateWriter interface {
	Upsert(ctx context.Context, family models.Family, c *models.ExtractionCandidate) (bool, error)
}

// Summary counts the outcome of staging one batch.
type Summary struct {
	Staged     int `json:"staged"`
	Updated    int `json:"updated"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.Staged += other.Staged
	s.Updated += other.Updated
	s.Rejected += other.Rejected
	s.Duplicates += other.Duplicates
	s.Failed += other.Failed
}

// Stager validates, normalizes, dedupes and upserts raw candidates.
type Stager struct {
	log        ectologger.Logger
	source     Source
	writer     CandidateWriter
	normalizer *normalizers.NameNormalizer
	now        func() time.Time
}

func NewStager(log ectologger.Logger, source Source, writer CandidateWriter, normalizer *normalizers.NameNormalizer) *Stager {
	if normalizer == nil {
		normalizer = normalizers.NewNameNormalizer(nil)
	}
	return &Stager{
		log:        log,
		source:     source,
		writer:     writer,
		normalizer: normalizer,
		now:        time.Now,
	}
}

// Scopes lists the scopes the source knows for family.
func (s *Stager) Scopes(ctx context.Context, family models.Family) ([]string, error) {
	scopes, err := s.source.Scopes(ctx, family)
	if err != nil {
		return nil, fernerrors.NewBatchError("extract", "", err)
	}
	return scopes, nil
}

// ExtractScope fetches one scope from the source and stages it.
func (s *Stager) ExtractScope(ctx context.Context, family models.Family, scopeID string) (Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "extraction.Stager.ExtractScope")
	defer span.End()

	began := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues(family.String(), "extract").Observe(time.Since(began).Seconds())
	}()

	raws, err := s.source.Fetch(ctx, family, scopeID)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"family":   family,
			"scope_id": scopeID,
		}).Error("Failed to fetch scope from source")
		return Summary{}, fernerrors.NewBatchError("extract", scopeID, err)
	}

	return s.Stage(ctx, family, scopeID, raws)
}

// stagedKey mirrors the (scope_id, extracted_name) uniqueness of candidate rows.
type stagedKey struct {
	scopeID string
	name    string
}

// Stage stages raws under scopeID. Invalid records are rejected and never stored;
// the first record of each normalized name wins within its scope.
func (s *Stager) Stage(ctx context.Context, family models.Family, scopeID string, raws []RawCandidate) (Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "extraction.Stager.Stage")
	defer span.End()

	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"family":   family,
		"scope_id": scopeID,
	})

	var summary Summary
	seen := make(map[stagedKey]struct{}, len(raws))

	for i, raw := range raws {
		if raw.ScopeID == "" {
			raw.ScopeID = scopeID
		}

		candidate, err := s.prepare(raw)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"index": i}).Warn("Rejected raw candidate")
			summary.Rejected++
			metrics.CandidatesStaged.WithLabelValues(family.String(), "rejected").Inc()
			continue
		}

		key := stagedKey{scopeID: candidate.ScopeID, name: candidate.ExtractedName}
		if _, ok := seen[key]; ok {
			summary.Duplicates++
			metrics.CandidatesStaged.WithLabelValues(family.String(), "duplicate").Inc()
			continue
		}
		seen[key] = struct{}{}

		inserted, err := s.writer.Upsert(ctx, family, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			log.WithError(err).WithFields(map[string]any{"name": candidate.ExtractedName}).Error("Failed to stage candidate")
			summary.Failed++
			continue
		}

		if inserted {
			summary.Staged++
			metrics.CandidatesStaged.WithLabelValues(family.String(), "staged").Inc()
		} else {
			summary.Updated++
			metrics.CandidatesStaged.WithLabelValues(family.String(), "updated").Inc()
		}
	}

	log.WithFields(map[string]any{
		"staged":     summary.Staged,
		"updated":    summary.Updated,
		"rejected":   summary.Rejected,
		"duplicates": summary.Duplicates,
		"failed":     summary.Failed,
	}).Info("Scope extracted")

	return summary, nil
}

// prepare validates raw and turns it into a pending candidate keyed by its normalized name.
func (s *Stager) prepare(raw RawCandidate) (*models.ExtractionCandidate, error) {
	if err := validate.Struct(raw); err != nil {
		return nil, toValidationError(err)
	}

	name := s.normalizer.Normalize(raw.Name)
	if name == "" {
		return nil, fernerrors.NewValidationError("name", raw.Name, "name is empty after normalization")
	}

	var affiliation *string
	if raw.Affiliation != nil {
		if a := normalizers.CollapseWhitespace(normalizers.FoldWidth(*raw.Affiliation)); a != "" {
			affiliation = &a
		}
	}

	extractedAt := raw.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = s.now()
	}

	return &models.ExtractionCandidate{
		ScopeID:                  raw.ScopeID,
		ExtractedName:            name,
		ExtractedRole:            strings.TrimSpace(normalizers.FoldWidth(raw.Role)),
		ExtractedAffiliationName: affiliation,
		SourceURL:                raw.SourceURL,
		ExtractedAt:              extractedAt.UTC(),
		Status:                   models.MatchStatusPending,
	}, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fernerrors.NewValidationError(fe.Field(), fmt.Sprintf("%v", fe.Value()), fmt.Sprintf("failed '%s' validation", fe.Tag()))
	}
	return fernerrors.NewValidationError("", "", err.Error())
}
