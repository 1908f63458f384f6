package arbitration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Cache is the key/value store backing Cached. pkg/redis.Client satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Cached reuses earlier oracle decisions for identical requests, so a reset and
// re-match of unchanged candidates does not pay for the oracle again.
type Cached struct {
	next   Arbitrator
	cache  Cache
	ttl    time.Duration
	prefix string
	logger ectologger.Logger
}

func NewCached(next Arbitrator, cache Cache, ttl time.Duration, logger ectologger.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		prefix: "fern:oracle:",
		logger: logger,
	}
}

func (c *Cached) Arbitrate(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "arbitration.Cached.Arbitrate")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{"candidate_name": req.CandidateName})

	fp, err := fingerprint.Generate(req)
	if err != nil {
		log.WithError(err).Warn("Failed to fingerprint oracle request; bypassing cache")
		return c.next.Arbitrate(ctx, req)
	}
	key := c.prefix + fp

	raw, found, err := c.cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Oracle cache lookup failed")
	}
	if found {
		var d Decision
		if err := json.Unmarshal([]byte(raw), &d); err == nil && Validate(req, &d) == nil {
			metrics.OracleCalls.WithLabelValues("cached").Inc()
			log.Debug("Oracle decision served from cache")
			return &d, nil
		}
		log.Warn("Discarding unusable cached oracle decision")
	}

	d, err := c.next.Arbitrate(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(d)
	if err == nil {
		err = c.cache.Set(ctx, key, string(data), c.ttl)
	}
	if err != nil {
		log.WithError(err).Warn("Failed to cache oracle decision")
	}

	return d, nil
}
