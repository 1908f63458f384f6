package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/config"
	affiliationrepo "github.com/Ramsey-B/fern/internal/repositories/affiliation"
	"github.com/Ramsey-B/fern/internal/repositories/candidate"
	"github.com/Ramsey-B/fern/internal/repositories/registry"
	"github.com/Ramsey-B/fern/pkg/affiliation"
	"github.com/Ramsey-B/fern/pkg/arbitration"
	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/extraction"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	lockKeyPrefix = "fern:lock:"

	depPostgres = "postgres"
	depRedis    = "redis"
	depGraph    = "graph"
	depKafka    = "kafka"
)

// app holds the connections and services one command runs against.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Manager

	db       database.DB
	redis    *redis.Client
	graph    *graph.Client
	producer *events.Producer

	candidates   *candidate.Repository
	affiliations *affiliationrepo.Repository
	registry     *registry.Repository
	driver       *pipeline.Driver

	shutdownTracing func(context.Context) error
}

// newApp connects every enabled dependency, retrying through the startup
// manager, and wires the pipeline on top of them.
func newApp(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewManager(logger, cfg.StartupMaxAttempts),
	}

	if cfg.TracingEnabled {
		exporter, err := tracing.NewExporter(ctx, tracing.ExporterConfig{
			Endpoint: cfg.TracingEndpoint,
			Protocol: cfg.TracingProtocol,
			Insecure: cfg.TracingInsecure,
		})
		if err != nil {
			return nil, err
		}
		a.shutdownTracing = tracing.Init(cfg.AppName, sdktrace.WithBatcher(exporter))
	}

	a.startup.Add(startup.Func{
		Name: depPostgres,
		StartFunc: func(ctx context.Context) error {
			db, err := database.Connect(ctx, database.ConnectionConfig{
				Driver:          cfg.DatabaseDriver,
				DSN:             cfg.DatabaseDSN(),
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
		StopFunc: func(context.Context) error { return a.db.Close() },
	})

	if cfg.RedisEnabled {
		a.startup.Add(startup.Func{
			Name: depRedis,
			StartFunc: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				a.redis = client
				return nil
			},
			StopFunc: func(context.Context) error { return a.redis.Close() },
		})
	}

	if cfg.GraphEnabled {
		a.startup.Add(startup.Func{
			Name: depGraph,
			StartFunc: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				a.graph = client
				return nil
			},
			StopFunc: func(ctx context.Context) error { return a.graph.Close(ctx) },
		})
	}

	if cfg.KafkaEnabled {
		a.startup.Add(startup.Func{
			Name: depKafka,
			StartFunc: func(context.Context) error {
				a.producer = events.NewProducer(events.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, logger)
				return nil
			},
			StopFunc: func(context.Context) error { return a.producer.Close() },
		})
	}

	if err := a.startup.Start(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	a.build()
	return a, nil
}

// build wires repositories and services over the connected dependencies.
func (a *app) build() {
	cfg := a.cfg
	normalizer := normalizers.NewNameNormalizer(cfg.NameHonorifics)

	a.candidates = candidate.NewRepository(a.db, a.logger)
	a.affiliations = affiliationrepo.NewRepository(a.db, a.logger)
	a.registry = registry.NewRepository(a.db, a.logger)

	var publisher matching.Publisher = events.Noop{}
	var listeners []affiliation.Listener
	if a.producer != nil {
		publisher = a.producer
		listeners = append(listeners, a.producer)
	}
	if a.graph != nil {
		listeners = append(listeners, graph.NewProjector(a.graph, a.logger))
	}

	matcher := matching.NewService(a.logger, a.candidates, a.registry, a.arbitrator(), publisher, matching.Config{
		Rules: matching.RuleConfig{
			ScoreFloor:            cfg.MatchScoreFloor,
			PartyBonus:            cfg.MatchPartyBonus,
			TieBand:               cfg.MatchTieBand,
			SoleCandidate:         cfg.MatchSoleCandidate,
			SoleCandidateMinScore: cfg.MatchSoleCandidateMinimum,
		},
		HighThreshold: cfg.MatchHighThreshold,
		LowThreshold:  cfg.MatchLowThreshold,
		Workers:       cfg.MatchWorkers,
		Honorifics:    cfg.NameHonorifics,
	})

	var locker affiliation.Locker
	if cfg.CommitDistributedLock {
		if a.redis != nil {
			locker = redis.NewLocker(a.redis, lockKeyPrefix, cfg.CommitLockTTL, cfg.CommitLockWait)
		} else {
			a.logger.Warn("COMMIT_DISTRIBUTED_LOCK is set but redis is disabled; using in-process locks only")
		}
	}

	committer := affiliation.NewService(a.logger, a.candidates, a.affiliations, a.db, locker,
		affiliation.Config{Workers: cfg.CommitWorkers}, listeners...)

	extractor := newLazyExtractor(cfg.ExtractionSourcesFile, a.logger, a.candidates, normalizer)

	a.driver = pipeline.NewDriver(a.logger, extractor, matcher, committer, a.candidates, a.affiliations, cfg.PipelineScopeWorkers)
}

// arbitrator builds client, retry and cache layers around the oracle. Without
// ORACLE_URL every ambiguous candidate fails arbitration and goes to review.
func (a *app) arbitrator() arbitration.Arbitrator {
	cfg := a.cfg

	var arb arbitration.Arbitrator
	if cfg.OracleURL == "" {
		arb = arbitration.Func(func(context.Context, arbitration.Request) (*arbitration.Decision, error) {
			return nil, fernerrors.NewPermanentOracleError(0, "ORACLE_URL is not configured", nil)
		})
	} else {
		hc := httpclient.NewClient(httpclient.DefaultConfig(), a.logger)
		arb = arbitration.NewClient(hc, cfg.OracleURL, cfg.OracleAPIKey, a.logger)
	}

	arb = arbitration.NewResilient(arb, arbitration.ResilienceConfig{
		Timeout:        cfg.OracleTimeout,
		MaxRetries:     cfg.OracleMaxRetries,
		InitialBackoff: cfg.OracleInitialBackoff,
		MaxBackoff:     cfg.OracleMaxBackoff,
		MaxConcurrency: int64(cfg.OracleMaxConcurrency),
	}, a.logger)

	if a.redis != nil && cfg.OracleURL != "" && cfg.OracleCacheTTL > 0 {
		arb = arbitration.NewCached(arb, a.redis, cfg.OracleCacheTTL, a.logger)
	}
	return arb
}

func (a *app) healthChecks() map[string]routes.Pinger {
	checks := map[string]routes.Pinger{}
	if a.db != nil {
		checks[depPostgres] = routes.PingFunc(a.db.PingContext)
	}
	if a.redis != nil {
		checks[depRedis] = a.redis
	}
	if a.graph != nil {
		checks[depGraph] = routes.PingFunc(a.graph.VerifyConnectivity)
	}
	return checks
}

// Close stops dependencies in reverse start order and flushes spans.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.startup != nil {
		errs = append(errs, a.startup.Stop(ctx))
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}

// lazyExtractor reads the source manifest on first use, so commands that never
// extract run without one.
type lazyExtractor struct {
	path       string
	logger     ectologger.Logger
	writer     extraction.CandidateWriter
	normalizer *normalizers.NameNormalizer

	mu     sync.Mutex
	stager *extraction.Stager
}

func newLazyExtractor(path string, logger ectologger.Logger, writer extraction.CandidateWriter, normalizer *normalizers.NameNormalizer) *lazyExtractor {
	return &lazyExtractor{path: path, logger: logger, writer: writer, normalizer: normalizer}
}

func (l *lazyExtractor) load() (*extraction.Stager, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stager != nil {
		return l.stager, nil
	}
	src, err := extraction.LoadJSONFileSource(l.path)
	if err != nil {
		return nil, fernerrors.NewBatchError("extract", "", err)
	}
	l.stager = extraction.NewStager(l.logger, src, l.writer, l.normalizer)
	return l.stager, nil
}

func (l *lazyExtractor) Scopes(ctx context.Context, family models.Family) ([]string, error) {
	stager, err := l.load()
	if err != nil {
		return nil, err
	}
	return stager.Scopes(ctx, family)
}

func (l *lazyExtractor) ExtractScope(ctx context.Context, family models.Family, scopeID string) (extraction.Summary, error) {
	stager, err := l.load()
	if err != nil {
		return extraction.Summary{}, err
	}
	return stager.ExtractScope(ctx, family, scopeID)
}
