// Package matching resolves staged candidates against the registry: a
// deterministic rule pass first, the semantic oracle only when the rules cannot
// decide.
package matching

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/arbitration"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	noteExact         = "exact name match"
	noteNoCandidates  = "no registry entry above floor"
	noteSoleCandidate = "sole candidate above floor (score %.2f)"
	maxAlternatives   = 3
)

// Config contains configuration for the matching service.
type Config struct {
	Rules         RuleConfig
	HighThreshold float64  // Confidence at or above which a candidate is MATCHED (default: 0.7)
	LowThreshold  float64  // Confidence at or above which a candidate needs review (default: 0.5)
	Workers       int      // Candidates resolved concurrently per scope (default: 4)
	Honorifics    []string // Suffixes stripped from registry names; nil uses the defaults
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Rules:         DefaultRuleConfig(),
		HighThreshold: 0.7,
		LowThreshold:  0.5,
		Workers:       4,
	}
}

// CandidateStore is the slice of the candidate repository the service needs.
type CandidateStore interface {
	ListPending(ctx context.Context, family models.Family, scopeID string) ([]models.ExtractionCandidate, error)
	Resolve(ctx context.Context, family models.Family, id string, res models.Resolution) (bool, error)
	ResetScope(ctx context.Context, family models.Family, scopeID string) (int64, error)
}

// Registry loads the canonical entities a family is matched against.
type Registry interface {
	List(ctx context.Context, family models.Family) ([]models.CanonicalEntity, error)
}

// Publisher announces resolved candidates. Failures are logged and ignored.
type Publisher interface {
	PublishResolution(ctx context.Context, family models.Family, candidate models.ExtractionCandidate, res models.Resolution) error
}

// Summary counts the outcome of a batch.
type Summary struct {
	Matched     int `json:"matched"`
	NeedsReview int `json:"needs_review"`
	NoMatch     int `json:"no_match"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.Matched += other.Matched
	s.NeedsReview += other.NeedsReview
	s.NoMatch += other.NoMatch
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

func (s *Summary) count(status models.MatchStatus) {
	switch status {
	case models.MatchStatusMatched:
		s.Matched++
	case models.MatchStatusNeedsReview:
		s.NeedsReview++
	case models.MatchStatusNoMatch:
		s.NoMatch++
	case models.MatchStatusPending:
		s.Skipped++
	}
}

// Service classifies pending candidates.
type Service struct {
	log        ectologger.Logger
	store      CandidateStore
	registry   Registry
	arbitrator arbitration.Arbitrator
	publisher  Publisher
	rules      *RuleScorer
	cfg        Config
	now        func() time.Time
}

// NewService creates a new matching service. publisher may be nil.
func NewService(
	log ectologger.Logger,
	store CandidateStore,
	registry Registry,
	arbitrator arbitration.Arbitrator,
	publisher Publisher,
	cfg Config,
) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		log:        log,
		store:      store,
		registry:   registry,
		arbitrator: arbitrator,
		publisher:  publisher,
		rules:      NewRuleScorer(cfg.Rules, normalizers.NewNameNormalizer(cfg.Honorifics)),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Classify maps a confidence onto a terminal status. Both thresholds are inclusive.
func Classify(confidence, high, low float64) models.MatchStatus {
	switch {
	case confidence >= high:
		return models.MatchStatusMatched
	case confidence >= low:
		return models.MatchStatusNeedsReview
	default:
		return models.MatchStatusNoMatch
	}
}

// MatchScope resolves every pending candidate of one scope. When force is set
// the scope is reset to pending first. Per-candidate failures are counted, not
// returned; a BatchError means the batch could not run at all.
func (s *Service) MatchScope(ctx context.Context, family models.Family, scopeID string, force bool) (Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Service.MatchScope")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues(family.String(), "match").Observe(time.Since(start).Seconds())
	}()

	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"family":   family,
		"scope_id": scopeID,
	})

	if force {
		n, err := s.store.ResetScope(ctx, family, scopeID)
		if err != nil {
			log.WithError(err).Error("Failed to reset scope before matching")
			return Summary{}, fernerrors.NewBatchError("match", scopeID, err)
		}
		log.Infof("Reset %d candidates to pending", n)
	}

	registry, err := s.registry.List(ctx, family)
	if err != nil {
		log.WithError(err).Error("Failed to load registry")
		return Summary{}, fernerrors.NewBatchError("match", scopeID, err)
	}

	pending, err := s.store.ListPending(ctx, family, scopeID)
	if err != nil {
		log.WithError(err).Error("Failed to list pending candidates")
		return Summary{}, fernerrors.NewBatchError("match", scopeID, err)
	}

	if len(pending) == 0 {
		log.Debug("No pending candidates")
		return Summary{}, nil
	}

	var (
		mu      sync.Mutex
		summary Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, candidate := range pending {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			status, err := s.matchOne(gctx, family, candidate, registry)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				metrics.MatchFailures.WithLabelValues(family.String()).Inc()
				return nil
			}
			summary.count(status)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Only cancellation reaches here; candidates not yet processed stay pending.
		log.WithError(err).Warn("Matching interrupted")
		return summary, err
	}

	log.WithFields(map[string]any{
		"matched":      summary.Matched,
		"needs_review": summary.NeedsReview,
		"no_match":     summary.NoMatch,
		"failed":       summary.Failed,
		"skipped":      summary.Skipped,
	}).Info("Scope matched")

	return summary, nil
}

// matchOne resolves and persists one candidate. A pending status in the result
// means the row was no longer pending when written.
func (s *Service) matchOne(ctx context.Context, family models.Family, candidate models.ExtractionCandidate, registry []models.CanonicalEntity) (models.MatchStatus, error) {
	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"family":       family,
		"candidate_id": candidate.ID,
		"name":         candidate.ExtractedName,
	})

	if candidate.Status != models.MatchStatusPending {
		return models.MatchStatusPending, nil
	}

	res := s.MatchCandidate(ctx, candidate, registry)

	updated, err := s.store.Resolve(ctx, family, candidate.ID, res)
	if err != nil {
		log.WithError(err).Error("Failed to persist resolution")
		return "", err
	}
	if !updated {
		log.Debug("Candidate already resolved; skipping")
		return models.MatchStatusPending, nil
	}

	metrics.CandidatesResolved.WithLabelValues(family.String(), res.Status.String()).Inc()

	if s.publisher != nil {
		if err := s.publisher.PublishResolution(ctx, family, candidate, res); err != nil {
			log.WithError(err).Warn("Failed to publish resolution event")
		}
	}

	return res.Status, nil
}

// MatchCandidate decides the resolution of one candidate without persisting it.
func (s *Service) MatchCandidate(ctx context.Context, candidate models.ExtractionCandidate, registry []models.CanonicalEntity) models.Resolution {
	ctx, span := tracing.StartSpan(ctx, "matching.Service.MatchCandidate")
	defer span.End()

	scored := s.rules.Score(candidate.ExtractedName, candidate.ExtractedAffiliationName, registry)
	assessment := s.rules.Assess(scored, candidate.ExtractedAffiliationName)

	res := models.Resolution{MatchedAt: s.now().UTC()}

	switch assessment.Verdict {
	case VerdictExact:
		res.Status = models.MatchStatusMatched
		res.MatchedEntityID = &assessment.Top.EntityID
		res.Confidence = 1.0
		res.Notes = noteExact
		return res
	case VerdictNone:
		res.Status = models.MatchStatusNoMatch
		res.Confidence = 0.0
		res.Notes = noteNoCandidates
		return res
	case VerdictSole:
		res.Status = models.MatchStatusMatched
		res.MatchedEntityID = &assessment.Top.EntityID
		res.Confidence = Round2(assessment.Top.Score)
		res.Notes = fmt.Sprintf(noteSoleCandidate, assessment.Top.Score)
		return res
	}

	decision, err := s.arbitrator.Arbitrate(ctx, arbitration.NewRequest(candidate, scored))
	if err != nil {
		tracing.RecordError(span, err)
		s.log.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"candidate_id": candidate.ID,
		}).Warn("Arbitration failed; routing to review")

		res.Status = models.MatchStatusNeedsReview
		res.Confidence = 0.0
		res.Notes = withAlternatives("arbitration failed: "+err.Error(), scored, nil)
		return res
	}

	res.Status = Classify(decision.Confidence, s.cfg.HighThreshold, s.cfg.LowThreshold)
	res.Confidence = Round2(decision.Confidence)
	res.MatchedEntityID = decision.EntityID

	switch {
	case res.Status == models.MatchStatusMatched && decision.EntityID == nil:
		res.Status = models.MatchStatusNoMatch
	case res.Status == models.MatchStatusNoMatch:
		res.MatchedEntityID = nil
	}

	res.Notes = decision.Rationale
	if res.Status == models.MatchStatusNeedsReview {
		res.Notes = withAlternatives(decision.Rationale, scored, decision.EntityID)
	}

	return res
}

// withAlternatives appends the best scored entries other than chosen to note.
func withAlternatives(note string, scored []models.ScoredEntity, chosen *string) string {
	others := ectolinq.Filter(scored, func(s models.ScoredEntity) bool {
		return chosen == nil || s.EntityID != *chosen
	})
	if len(others) == 0 {
		return note
	}
	if len(others) > maxAlternatives {
		others = others[:maxAlternatives]
	}

	alts := strings.Join(ectolinq.Map(others, func(s models.ScoredEntity) string {
		return fmt.Sprintf("%s (%.2f)", s.EntityID, s.Score)
	}), ", ")
	if note == "" {
		return "alternatives: " + alts
	}
	return note + "; alternatives: " + alts
}
