// Package affiliation materializes matched candidates into temporal
// affiliation records without ever overlapping two open periods.
package affiliation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Outcome is what committing a single candidate did.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeClosedPrior Outcome = "closed_prior"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeConflict    Outcome = "conflict"
	OutcomeFailed      Outcome = "failed"
)

// CandidateSource lists the candidates eligible for commit.
type CandidateSource interface {
	ListMatched(ctx context.Context, family models.Family, scopeID string) ([]models.ExtractionCandidate, error)
}

// Store is the affiliation persistence the service needs. Calls made inside
// Transactor.InTx share its transaction.
type Store interface {
	FindOpenForUpdate(ctx context.Context, family models.Family, entityID, scopeID string) (*models.AffiliationRecord, error)
	LatestClosed(ctx context.Context, family models.Family, entityID, scopeID string) (*models.AffiliationRecord, error)
	Close(ctx context.Context, family models.Family, id string, end time.Time) error
	Insert(ctx context.Context, family models.Family, rec *models.AffiliationRecord) error
}

// Transactor runs fn in one database transaction. database.DB satisfies it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker extends the per-pair lock across processes. redis.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Listener is told about records once their transaction has committed.
type Listener interface {
	AffiliationOpened(ctx context.Context, family models.Family, rec models.AffiliationRecord) error
	AffiliationClosed(ctx context.Context, family models.Family, rec models.AffiliationRecord) error
}

// Summary counts the outcome of a commit batch. A role change counts in both
// Created and ClosedPrior. Conflicts are a breakdown of Skipped.
type Summary struct {
	Created     int `json:"created"`
	ClosedPrior int `json:"closed_prior"`
	Skipped     int `json:"skipped"`
	Conflicts   int `json:"conflicts"`
	Failed      int `json:"failed"`
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.Created += other.Created
	s.ClosedPrior += other.ClosedPrior
	s.Skipped += other.Skipped
	s.Conflicts += other.Conflicts
	s.Failed += other.Failed
}

func (s *Summary) count(o Outcome) {
	switch o {
	case OutcomeCreated:
		s.Created++
	case OutcomeClosedPrior:
		s.Created++
		s.ClosedPrior++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeConflict:
		s.Skipped++
		s.Conflicts++
	case OutcomeFailed:
		s.Failed++
	}
}

// Config contains configuration for the commit service.
type Config struct {
	Workers int // Candidates committed concurrently per scope (default: 4)
}

func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Service commits MATCHED candidates as affiliation records.
type Service struct {
	log        ectologger.Logger
	candidates CandidateSource
	store      Store
	tx         Transactor
	locker     Locker
	listeners  []Listener
	pairs      *KeyedMutex
	cfg        Config
}

// NewService creates a commit service. locker may be nil.
func NewService(
	log ectologger.Logger,
	candidates CandidateSource,
	store Store,
	tx Transactor,
	locker Locker,
	cfg Config,
	listeners ...Listener,
) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		log:        log,
		candidates: candidates,
		store:      store,
		tx:         tx,
		locker:     locker,
		listeners:  listeners,
		pairs:      NewKeyedMutex(),
		cfg:        cfg,
	}
}

// Commit opens, keeps or rolls over affiliation records for the matched
// candidates of one scope, all starting on start. Conflicting candidates are
// counted and left untouched; a BatchError means the batch could not run.
func (s *Service) Commit(ctx context.Context, family models.Family, scopeID string, start time.Time) (Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Service.Commit")
	defer span.End()

	began := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues(family.String(), "commit").Observe(time.Since(began).Seconds())
	}()

	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"family":     family,
		"scope_id":   scopeID,
		"start_date": start.Format(time.DateOnly),
	})

	matched, err := s.candidates.ListMatched(ctx, family, scopeID)
	if err != nil {
		log.WithError(err).Error("Failed to list matched candidates")
		return Summary{}, fernerrors.NewBatchError("commit", scopeID, err)
	}

	var (
		mu      sync.Mutex
		summary Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, candidate := range matched {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			outcome := s.CommitCandidate(gctx, family, candidate, start)

			mu.Lock()
			summary.count(outcome)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("Commit interrupted")
		return summary, err
	}

	log.WithFields(map[string]any{
		"created":      summary.Created,
		"closed_prior": summary.ClosedPrior,
		"skipped":      summary.Skipped,
		"conflicts":    summary.Conflicts,
		"failed":       summary.Failed,
	}).Info("Scope committed")

	return summary, nil
}

// CommitCandidate applies one matched candidate under its (family, entity, scope) lock.
func (s *Service) CommitCandidate(ctx context.Context, family models.Family, candidate models.ExtractionCandidate, start time.Time) Outcome {
	ctx, span := tracing.StartSpan(ctx, "affiliation.Service.CommitCandidate")
	defer span.End()

	if candidate.Status != models.MatchStatusMatched || candidate.MatchedEntityID == nil {
		return OutcomeSkipped
	}

	entityID := *candidate.MatchedEntityID
	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"family":       family,
		"candidate_id": candidate.ID,
		"entity_id":    entityID,
		"scope_id":     candidate.ScopeID,
	})

	key := fmt.Sprintf("%s:%s:%s", family, entityID, candidate.ScopeID)
	unlock := s.pairs.Lock(key)
	defer unlock()

	var (
		outcome Outcome
		opened  *models.AffiliationRecord
		closed  *models.AffiliationRecord
	)
	run := func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			outcome, opened, closed, err = s.apply(ctx, family, candidate, entityID, models.DateOnly(start))
			return err
		})
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, "affiliation:"+key, run)
	} else {
		err = run(ctx)
	}

	switch {
	case err == nil:
	case fernerrors.IsConflictError(err):
		log.WithError(err).Warn("Affiliation conflict; candidate skipped")
		outcome = OutcomeConflict
	default:
		tracing.RecordError(span, err)
		log.WithError(err).Error("Failed to commit affiliation")
		outcome = OutcomeFailed
	}
	metrics.AffiliationCommits.WithLabelValues(family.String(), string(outcome)).Inc()

	if err == nil {
		s.notify(ctx, family, opened, closed)
	}
	return outcome
}

// apply runs the read-check-write for one pair inside the transaction.
func (s *Service) apply(ctx context.Context, family models.Family, candidate models.ExtractionCandidate, entityID string, start time.Time) (Outcome, *models.AffiliationRecord, *models.AffiliationRecord, error) {
	role := strings.TrimSpace(candidate.ExtractedRole)

	open, err := s.store.FindOpenForUpdate(ctx, family, entityID, candidate.ScopeID)
	if err != nil {
		return "", nil, nil, err
	}

	if open == nil {
		latest, err := s.store.LatestClosed(ctx, family, entityID, candidate.ScopeID)
		if err != nil {
			return "", nil, nil, err
		}
		if latest != nil && latest.EndDate != nil && !models.DateOnly(*latest.EndDate).Before(start) {
			return "", nil, nil, fernerrors.NewConflictError(entityID, candidate.ScopeID,
				fmt.Sprintf("start %s overlaps a closed record ending %s", start.Format(time.DateOnly), latest.EndDate.Format(time.DateOnly)))
		}

		rec := newRecord(candidate, entityID, role, start)
		if err := s.store.Insert(ctx, family, rec); err != nil {
			return "", nil, nil, err
		}
		return OutcomeCreated, rec, nil, nil
	}

	openStart := models.DateOnly(open.StartDate)
	switch {
	case start.Before(openStart):
		return "", nil, nil, fernerrors.NewConflictError(entityID, candidate.ScopeID,
			fmt.Sprintf("start %s precedes the open record starting %s", start.Format(time.DateOnly), openStart.Format(time.DateOnly)))
	case strings.TrimSpace(open.Role) == role:
		return OutcomeSkipped, nil, nil, nil
	case start.Equal(openStart):
		return "", nil, nil, fernerrors.NewConflictError(entityID, candidate.ScopeID,
			fmt.Sprintf("role change from %q to %q on the open record's start date", open.Role, role))
	}

	end := start.AddDate(0, 0, -1)
	if err := s.store.Close(ctx, family, open.ID, end); err != nil {
		return "", nil, nil, err
	}
	closedRec := *open
	closedRec.EndDate = &end

	rec := newRecord(candidate, entityID, role, start)
	if err := s.store.Insert(ctx, family, rec); err != nil {
		return "", nil, nil, err
	}
	return OutcomeClosedPrior, rec, &closedRec, nil
}

func newRecord(candidate models.ExtractionCandidate, entityID, role string, start time.Time) *models.AffiliationRecord {
	sourceID := candidate.ID
	return &models.AffiliationRecord{
		EntityID:          entityID,
		ScopeID:           candidate.ScopeID,
		Role:              role,
		StartDate:         start,
		SourceCandidateID: &sourceID,
	}
}

func (s *Service) notify(ctx context.Context, family models.Family, opened, closed *models.AffiliationRecord) {
	for _, l := range s.listeners {
		if closed != nil {
			if err := l.AffiliationClosed(ctx, family, *closed); err != nil {
				s.log.WithContext(ctx).WithError(err).Warn("Failed to announce closed affiliation")
			}
		}
		if opened != nil {
			if err := l.AffiliationOpened(ctx, family, *opened); err != nil {
				s.log.WithContext(ctx).WithError(err).Warn("Failed to announce opened affiliation")
			}
		}
	}
}
