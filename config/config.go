package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern"`
	Port                          int      `env:"PORT" env-default:"3005"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	TracingEnabled                bool     `env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint               string   `env:"TRACING_OTLP_ENDPOINT" env-default:"localhost:4317"`
	TracingProtocol               string   `env:"TRACING_OTLP_PROTOCOL" env-default:"grpc"`
	TracingInsecure               bool     `env:"TRACING_OTLP_INSECURE" env-default:"true"`

	// PostgreSQL (candidate staging + affiliations)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (oracle response cache, cross-process commit lock)
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Graph projection of affiliations (Memgraph/Neo4j)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Kafka pipeline events
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"fern-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Extraction
	ExtractionSourcesFile string   `env:"EXTRACTION_SOURCES_FILE" env-default:"sources.yaml"`
	NameHonorifics        []string `env:"NAME_HONORIFICS"`

	// Matching
	MatchHighThreshold        float64 `env:"MATCH_HIGH_THRESHOLD" env-default:"0.7"`
	MatchLowThreshold         float64 `env:"MATCH_LOW_THRESHOLD" env-default:"0.5"`
	MatchScoreFloor           float64 `env:"MATCH_SCORE_FLOOR" env-default:"0.3"`
	MatchPartyBonus           float64 `env:"MATCH_PARTY_BONUS" env-default:"0.1"`
	MatchTieBand              float64 `env:"MATCH_TIE_BAND" env-default:"0.05"`
	MatchSoleCandidate        bool    `env:"MATCH_SOLE_CANDIDATE_SHORTCUT" env-default:"true"`
	MatchSoleCandidateMinimum float64 `env:"MATCH_SOLE_CANDIDATE_MIN_SCORE" env-default:"0.6"`
	MatchWorkers              int     `env:"MATCH_WORKERS" env-default:"4"`

	// Oracle (semantic arbitration)
	OracleURL            string        `env:"ORACLE_URL" env-default:""`
	OracleAPIKey         string        `env:"ORACLE_API_KEY" env-default:""`
	OracleTimeout        time.Duration `env:"ORACLE_TIMEOUT" env-default:"20s"`
	OracleMaxRetries     int           `env:"ORACLE_MAX_RETRIES" env-default:"3"`
	OracleInitialBackoff time.Duration `env:"ORACLE_INITIAL_BACKOFF" env-default:"500ms"`
	OracleMaxBackoff     time.Duration `env:"ORACLE_MAX_BACKOFF" env-default:"10s"`
	OracleMaxConcurrency int           `env:"ORACLE_MAX_CONCURRENCY" env-default:"2"`
	OracleCacheTTL       time.Duration `env:"ORACLE_CACHE_TTL" env-default:"24h"`

	// Commit
	CommitDistributedLock bool          `env:"COMMIT_DISTRIBUTED_LOCK" env-default:"false"`
	CommitLockTTL         time.Duration `env:"COMMIT_LOCK_TTL" env-default:"30s"`
	CommitLockWait        time.Duration `env:"COMMIT_LOCK_WAIT" env-default:"5s"`
	CommitWorkers         int           `env:"COMMIT_WORKERS" env-default:"4"`

	// Pipeline
	PipelineScopeWorkers int `env:"PIPELINE_SCOPE_WORKERS" env-default:"4"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if c.MatchLowThreshold < 0 || c.MatchHighThreshold > 1 || c.MatchLowThreshold > c.MatchHighThreshold {
		return fmt.Errorf("invalid match thresholds: low=%v high=%v", c.MatchLowThreshold, c.MatchHighThreshold)
	}
	if c.MatchScoreFloor < 0 || c.MatchScoreFloor >= 1 {
		return fmt.Errorf("invalid match score floor: %v", c.MatchScoreFloor)
	}
	if c.PipelineScopeWorkers < 1 {
		return fmt.Errorf("PIPELINE_SCOPE_WORKERS must be at least 1")
	}
	if c.OracleMaxConcurrency < 1 {
		return fmt.Errorf("ORACLE_MAX_CONCURRENCY must be at least 1")
	}
	return nil
}

// DatabaseDSN builds the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
