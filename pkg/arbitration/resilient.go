package arbitration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ResilienceConfig bounds every oracle call.
type ResilienceConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int64
}

// DefaultResilienceConfig returns sensible defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout:        20 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		MaxConcurrency: 2,
	}
}

// Resilient wraps an Arbitrator with a per-attempt timeout, bounded exponential
// retries on transient errors and a process-wide concurrency cap.
type Resilient struct {
	next   Arbitrator
	cfg    ResilienceConfig
	sem    *semaphore.Weighted
	logger ectologger.Logger
}

func NewResilient(next Arbitrator, cfg ResilienceConfig, logger ectologger.Logger) *Resilient {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Resilient{
		next:   next,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
		logger: logger,
	}
}

func (r *Resilient) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.InitialBackoff
	exp.MaxInterval = r.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxRetries)), ctx)
}

func (r *Resilient) Arbitrate(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "arbitration.Resilient.Arbitrate")
	defer span.End()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fernerrors.NewPermanentOracleError(0, "cancelled while waiting for an oracle slot", err)
	}
	defer r.sem.Release(1)

	metrics.OracleInFlight.Inc()
	defer metrics.OracleInFlight.Dec()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_name": req.CandidateName,
		"options":        len(req.Entities),
	})

	var decision *Decision
	attempts := 0
	operation := func() error {
		attempts++
		d, err := r.attempt(ctx, req)
		if err == nil {
			decision = d
			return nil
		}
		if !fernerrors.IsTransient(err) {
			metrics.OracleCalls.WithLabelValues("permanent").Inc()
			return backoff.Permanent(err)
		}
		metrics.OracleCalls.WithLabelValues("transient").Inc()
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).Warnf("Oracle attempt %d failed, retrying in %v", attempts, wait)
	}

	err := backoff.RetryNotify(operation, r.newBackOff(ctx), notify)
	if err == nil {
		metrics.OracleCalls.WithLabelValues("ok").Inc()
		return decision, nil
	}

	tracing.RecordError(span, err)
	if fernerrors.IsOracleError(err) && !fernerrors.IsTransient(err) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fernerrors.NewPermanentOracleError(0, "cancelled", err)
	}
	return nil, fernerrors.NewTransientOracleError(0, fmt.Sprintf("gave up after %d attempts", attempts), err)
}

func (r *Resilient) attempt(ctx context.Context, req Request) (*Decision, error) {
	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	d, err := r.next.Arbitrate(callCtx, req)
	metrics.OracleDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		if verr := Validate(req, d); verr != nil {
			return nil, verr
		}
		return d, nil
	}
	if fernerrors.IsOracleError(err) {
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fernerrors.NewTransientOracleError(0, "attempt timed out", err)
	}
	if ctx.Err() != nil {
		return nil, fernerrors.NewPermanentOracleError(0, "cancelled", err)
	}
	// Unclassified failures from custom arbitrators are retried.
	return nil, fernerrors.NewTransientOracleError(0, "unclassified failure", err)
}
