package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const devSigningKey = "dev-secret-key-change-in-production"

// Config is the process configuration, read from POLICYVAULT_* variables.
type Config struct {
	Server   Server
	Log      Log
	Postgres Postgres
	Redis    RedisConfig
	Kafka    Kafka
	Custody  Custody
	Tracing  Tracing
	Limits   RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"POLICYVAULT_ADDR"             envDefault:":8080"`
	JWTSigningKey   string        `env:"POLICYVAULT_JWT_SIGNING_KEY"  envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer       string        `env:"POLICYVAULT_JWT_ISSUER"`
	JWTAudience     string        `env:"POLICYVAULT_JWT_AUDIENCE"`
	RequestTimeout  time.Duration `env:"POLICYVAULT_REQUEST_TIMEOUT"  envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"POLICYVAULT_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	Production      bool          `env:"POLICYVAULT_PRODUCTION"       envDefault:"false"`
}

type Log struct {
	Level  string `env:"POLICYVAULT_LOG_LEVEL"  envDefault:"info"`
	Format string `env:"POLICYVAULT_LOG_FORMAT" envDefault:"json"`
}

// Postgres selects the durable store. An empty URL runs the in-memory store
// and ledger.
type Postgres struct {
	URL             string        `env:"POLICYVAULT_DATABASE_URL"`
	MaxOpenConns    int           `env:"POLICYVAULT_DATABASE_MAX_OPEN_CONNS"    envDefault:"20"`
	MaxIdleConns    int           `env:"POLICYVAULT_DATABASE_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"POLICYVAULT_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"POLICYVAULT_DATABASE_TX_TIMEOUT"        envDefault:"5s"`
	Migrate         bool          `env:"POLICYVAULT_DATABASE_MIGRATE"           envDefault:"true"`
}

// RedisConfig enables the cluster-wide policy lock when URL is set.
type RedisConfig struct {
	URL          string        `env:"POLICYVAULT_REDIS_URL"`
	PoolSize     int           `env:"POLICYVAULT_REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"POLICYVAULT_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"POLICYVAULT_REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"POLICYVAULT_REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"POLICYVAULT_REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
	LockExpiry   time.Duration `env:"POLICYVAULT_LOCK_EXPIRY"          envDefault:"10s"`
	LockTries    int           `env:"POLICYVAULT_LOCK_TRIES"           envDefault:"20"`
}

// Kafka enables the Kafka notification publisher when Brokers is set;
// otherwise notifications go to the log.
type Kafka struct {
	Brokers           []string      `env:"POLICYVAULT_KAFKA_BROKERS"            envSeparator:","`
	Topic             string        `env:"POLICYVAULT_KAFKA_TOPIC"              envDefault:"policyvault.spend-recorded"`
	ClientID          string        `env:"POLICYVAULT_KAFKA_CLIENT_ID"          envDefault:"policyvault"`
	Partitions        int32         `env:"POLICYVAULT_KAFKA_PARTITIONS"         envDefault:"6"`
	ReplicationFactor int16         `env:"POLICYVAULT_KAFKA_REPLICATION_FACTOR" envDefault:"1"`
	EnsureTopic       bool          `env:"POLICYVAULT_KAFKA_ENSURE_TOPIC"       envDefault:"true"`
	RelayInterval     time.Duration `env:"POLICYVAULT_RELAY_INTERVAL"           envDefault:"1s"`
	RelayBatchSize    int           `env:"POLICYVAULT_RELAY_BATCH_SIZE"         envDefault:"100"`
}

// Custody tunes calls into the ledger.
type Custody struct {
	Timeout                time.Duration `env:"POLICYVAULT_CUSTODY_TIMEOUT"                  envDefault:"5s"`
	BreakerFailures        uint32        `env:"POLICYVAULT_CUSTODY_BREAKER_FAILURES"         envDefault:"5"`
	BreakerOpenTimeout     time.Duration `env:"POLICYVAULT_CUSTODY_BREAKER_OPEN_TIMEOUT"     envDefault:"30s"`
	BreakerHalfOpenRequest uint32        `env:"POLICYVAULT_CUSTODY_BREAKER_HALF_OPEN_REQUESTS" envDefault:"1"`
}

// Tracing exports spans over OTLP/HTTP when Endpoint is set.
type Tracing struct {
	Endpoint    string  `env:"POLICYVAULT_OTLP_ENDPOINT"`
	Insecure    bool    `env:"POLICYVAULT_OTLP_INSECURE"     envDefault:"false"`
	ServiceName string  `env:"POLICYVAULT_SERVICE_NAME"      envDefault:"policyvault"`
	SampleRatio float64 `env:"POLICYVAULT_TRACE_SAMPLE_RATIO" envDefault:"1"`
}

// RateLimit bounds how fast one caller may submit spend intents. A zero
// limit disables the check.
type RateLimit struct {
	SpendPerWindow int           `env:"POLICYVAULT_SPEND_RATE_LIMIT"  envDefault:"120"`
	Window         time.Duration `env:"POLICYVAULT_SPEND_RATE_WINDOW" envDefault:"1m"`
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.JWTSigningKey) == "" {
		errs = append(errs, errors.New("POLICYVAULT_JWT_SIGNING_KEY is required"))
	}
	if c.Server.Production && c.Server.JWTSigningKey == devSigningKey {
		errs = append(errs, errors.New("POLICYVAULT_JWT_SIGNING_KEY must be overridden in production"))
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.Topic) == "" {
		errs = append(errs, errors.New("POLICYVAULT_KAFKA_TOPIC is required with brokers"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("POLICYVAULT_TRACE_SAMPLE_RATIO must be within [0, 1]"))
	}
	if c.Custody.Timeout <= 0 {
		errs = append(errs, errors.New("POLICYVAULT_CUSTODY_TIMEOUT must be positive"))
	}
	if c.Limits.SpendPerWindow < 0 {
		errs = append(errs, errors.New("POLICYVAULT_SPEND_RATE_LIMIT must not be negative"))
	}
	if c.Limits.SpendPerWindow > 0 && c.Limits.Window <= 0 {
		errs = append(errs, errors.New("POLICYVAULT_SPEND_RATE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}
