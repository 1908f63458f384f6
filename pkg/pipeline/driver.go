// Package pipeline drives the extract, match and commit stages over one scope
// or every scope of a family.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/affiliation"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/extraction"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Extractor stages scopes from the configured source.
type Extractor interface {
	Scopes(ctx context.Context, family models.Family) ([]string, error)
	ExtractScope(ctx context.Context, family models.Family, scopeID string) (extraction.Summary, error)
}

// Matcher resolves the pending candidates of a scope.
type Matcher interface {
	MatchScope(ctx context.Context, family models.Family, scopeID string, force bool) (matching.Summary, error)
}

// Committer materializes the matched candidates of a scope.
type Committer interface {
	Commit(ctx context.Context, family models.Family, scopeID string, start time.Time) (affiliation.Summary, error)
}

// CandidateStore reports on and resets staged candidates.
type CandidateStore interface {
	DistinctScopes(ctx context.Context, family models.Family) ([]string, error)
	StatusCounts(ctx context.Context, family models.Family, scopeID string) (models.StatusCounts, error)
	ResetScope(ctx context.Context, family models.Family, scopeID string) (int64, error)
}

// AffiliationCounter counts open affiliation records.
type AffiliationCounter interface {
	CountOpen(ctx context.Context, family models.Family, scopeID string) (int64, error)
}

// StatusReport is the state of one scope, or of a whole family for AllScopes.
type StatusReport struct {
	Family           models.Family       `json:"family"`
	ScopeID          string              `json:"scope_id"`
	Counts           models.StatusCounts `json:"counts"`
	Total            int64               `json:"total"`
	OpenAffiliations int64               `json:"open_affiliations"`
}

// RunOptions selects the optional parts of Run.
type RunOptions struct {
	Force     bool
	Commit    bool
	StartDate time.Time
}

// RunReport sums every stage of Run.
type RunReport struct {
	Extract extraction.Summary   `json:"extract"`
	Match   matching.Summary     `json:"match"`
	Commit  *affiliation.Summary `json:"commit,omitempty"`
}

// Driver runs stages for a family over a scope id or AllScopes.
type Driver struct {
	log          ectologger.Logger
	extractor    Extractor
	matcher      Matcher
	committer    Committer
	candidates   CandidateStore
	affiliations AffiliationCounter
	workers      int
}

// NewDriver creates a driver running up to workers scopes at once.
func NewDriver(
	log ectologger.Logger,
	extractor Extractor,
	matcher Matcher,
	committer Committer,
	candidates CandidateStore,
	affiliations AffiliationCounter,
	workers int,
) *Driver {
	if workers < 1 {
		workers = 1
	}
	return &Driver{
		log:          log,
		extractor:    extractor,
		matcher:      matcher,
		committer:    committer,
		candidates:   candidates,
		affiliations: affiliations,
		workers:      workers,
	}
}

// stagedScopes resolves scopeID against the candidate store.
func (d *Driver) stagedScopes(ctx context.Context, stage string, family models.Family, scopeID string) ([]string, error) {
	if scopeID != models.AllScopes {
		return []string{scopeID}, nil
	}
	scopes, err := d.candidates.DistinctScopes(ctx, family)
	if err != nil {
		return nil, fernerrors.NewBatchError(stage, "", err)
	}
	return scopes, nil
}

// Extract stages one scope, or every scope the source knows for AllScopes.
func (d *Driver) Extract(ctx context.Context, family models.Family, scopeID string) (extraction.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Driver.Extract")
	defer span.End()

	scopes := []string{scopeID}
	if scopeID == models.AllScopes {
		var err error
		if scopes, err = d.extractor.Scopes(ctx, family); err != nil {
			return extraction.Summary{}, err
		}
	}

	results, err := fanOut(ctx, d.workers, scopes, func(ctx context.Context, scope string) (extraction.Summary, error) {
		return d.extractor.ExtractScope(ctx, family, scope)
	})

	var total extraction.Summary
	for _, s := range results {
		total.Add(s)
	}
	d.logStage(ctx, "extract", family, scopeID, len(results), err)
	return total, err
}

// Match resolves pending candidates of one scope or every staged scope.
func (d *Driver) Match(ctx context.Context, family models.Family, scopeID string, force bool) (matching.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Driver.Match")
	defer span.End()

	scopes, err := d.stagedScopes(ctx, "match", family, scopeID)
	if err != nil {
		return matching.Summary{}, err
	}

	results, err := fanOut(ctx, d.workers, scopes, func(ctx context.Context, scope string) (matching.Summary, error) {
		return d.matcher.MatchScope(ctx, family, scope, force)
	})

	var total matching.Summary
	for _, s := range results {
		total.Add(s)
	}
	d.logStage(ctx, "match", family, scopeID, len(results), err)
	return total, err
}

// Commit materializes matched candidates of one scope or every staged scope.
func (d *Driver) Commit(ctx context.Context, family models.Family, scopeID string, start time.Time) (affiliation.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Driver.Commit")
	defer span.End()

	if start.IsZero() {
		return affiliation.Summary{}, fernerrors.NewValidationError("start_date", "", "a start date is required to commit")
	}

	scopes, err := d.stagedScopes(ctx, "commit", family, scopeID)
	if err != nil {
		return affiliation.Summary{}, err
	}

	results, err := fanOut(ctx, d.workers, scopes, func(ctx context.Context, scope string) (affiliation.Summary, error) {
		return d.committer.Commit(ctx, family, scope, start)
	})

	var total affiliation.Summary
	for _, s := range results {
		total.Add(s)
	}
	d.logStage(ctx, "commit", family, scopeID, len(results), err)
	return total, err
}

// Status reports candidate counts per status and open affiliations.
func (d *Driver) Status(ctx context.Context, family models.Family, scopeID string) (StatusReport, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Driver.Status")
	defer span.End()

	counts, err := d.candidates.StatusCounts(ctx, family, scopeID)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		Family:  family,
		ScopeID: scopeID,
		Counts:  counts,
		Total:   counts.Total(),
	}

	if d.affiliations != nil {
		if report.OpenAffiliations, err = d.affiliations.CountOpen(ctx, family, scopeID); err != nil {
			return StatusReport{}, err
		}
	}

	return report, nil
}

// ScopeStatuses reports every staged scope separately, sorted by scope id.
func (d *Driver) ScopeStatuses(ctx context.Context, family models.Family) ([]StatusReport, error) {
	scopes, err := d.stagedScopes(ctx, "status", family, models.AllScopes)
	if err != nil {
		return nil, err
	}

	results, err := fanOut(ctx, d.workers, scopes, func(ctx context.Context, scope string) (StatusReport, error) {
		return d.Status(ctx, family, scope)
	})
	if err != nil {
		return nil, err
	}

	reports := make([]StatusReport, 0, len(results))
	for _, r := range results {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].ScopeID < reports[j].ScopeID })
	return reports, nil
}

// Reset returns the candidates of one scope, or the whole family, to pending.
func (d *Driver) Reset(ctx context.Context, family models.Family, scopeID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Driver.Reset")
	defer span.End()

	n, err := d.candidates.ResetScope(ctx, family, scopeID)
	if err != nil {
		return 0, err
	}

	d.log.WithContext(ctx).WithFields(map[string]any{
		"family":   family,
		"scope_id": scopeID,
		"count":    n,
	}).Info("Candidates reset to pending")
	return n, nil
}

// Run extracts, matches and, when asked, commits. A stage's BatchError stops the run.
func (d *Driver) Run(ctx context.Context, family models.Family, scopeID string, opts RunOptions) (RunReport, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Driver.Run")
	defer span.End()

	var report RunReport
	if opts.Commit && opts.StartDate.IsZero() {
		return report, fernerrors.NewValidationError("start_date", "", "a start date is required to commit")
	}

	var err error
	if report.Extract, err = d.Extract(ctx, family, scopeID); err != nil {
		tracing.RecordError(span, err)
		return report, err
	}
	if report.Match, err = d.Match(ctx, family, scopeID, opts.Force); err != nil {
		tracing.RecordError(span, err)
		return report, err
	}
	if !opts.Commit {
		return report, nil
	}

	committed, err := d.Commit(ctx, family, scopeID, opts.StartDate)
	report.Commit = &committed
	if err != nil {
		tracing.RecordError(span, err)
	}
	return report, err
}

func (d *Driver) logStage(ctx context.Context, stage string, family models.Family, scopeID string, completed int, err error) {
	log := d.log.WithContext(ctx).WithFields(map[string]any{
		"stage":     stage,
		"family":    family,
		"scope_id":  scopeID,
		"completed": completed,
	})
	if err != nil {
		log.WithError(err).Error("Stage aborted")
		return
	}
	log.Info("Stage finished")
}
