package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/shopline/commerce/pkg/config"
	"github.com/shopline/commerce/pkg/database"
	"github.com/shopline/commerce/pkg/httpclient"
)

// Config holds all configuration for the order service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"ORDER_LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort       int           `env:"ORDER_HTTP_PORT" envDefault:"8004"`
	RequestTimeout time.Duration `env:"ORDER_REQUEST_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"ORDER_HTTP_WRITE_TIMEOUT" envDefault:"35s"`

	// PostgreSQL
	PostgresHost string `env:"ORDER_POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"ORDER_POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"ORDER_POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"ORDER_POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"ORDER_POSTGRES_DB" envDefault:"order_db"`
	PostgresSSL  string `env:"ORDER_POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"ORDER_DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"ORDER_DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Catalog (stock ledger) client
	CatalogURL        string        `env:"CATALOG_SERVICE_URL" envDefault:"http://localhost:8002"`
	CatalogTimeout    time.Duration `env:"CATALOG_TIMEOUT" envDefault:"5s"`
	CatalogMaxRetries int           `env:"CATALOG_MAX_RETRIES" envDefault:"2"`

	// Circuit breaker around the catalog client
	CBMaxRequests  uint32        `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     time.Duration `env:"CB_INTERVAL" envDefault:"60s"`
	CBTimeout      time.Duration `env:"CB_TIMEOUT" envDefault:"30s"`
	CBFailureRatio float64       `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32        `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Placement workflow
	SagaLookupTimeout  time.Duration `env:"SAGA_LOOKUP_TIMEOUT" envDefault:"3s"`
	SagaAdjustTimeout  time.Duration `env:"SAGA_ADJUST_TIMEOUT" envDefault:"5s"`
	SagaPersistTimeout time.Duration `env:"SAGA_PERSIST_TIMEOUT" envDefault:"5s"`
	SagaCompensate     bool          `env:"SAGA_COMPENSATE" envDefault:"false"`
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileBatchSize int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load order config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("ORDER_REQUEST_TIMEOUT must be > 0, got %s", c.RequestTimeout)
	}
	// A placement may commit right up to the request deadline; its response
	// still has to fit inside the server's write deadline.
	if c.WriteTimeout <= c.RequestTimeout {
		return fmt.Errorf("ORDER_HTTP_WRITE_TIMEOUT (%s) must exceed ORDER_REQUEST_TIMEOUT (%s)", c.WriteTimeout, c.RequestTimeout)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("ORDER_POSTGRES_HOST is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("ORDER_DB_MIN_CONNS (%d) exceeds ORDER_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	u, err := url.Parse(c.CatalogURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CATALOG_SERVICE_URL must be an absolute URL, got %q", c.CatalogURL)
	}
	if c.CatalogTimeout <= 0 {
		return fmt.Errorf("CATALOG_TIMEOUT must be > 0, got %s", c.CatalogTimeout)
	}
	if c.CatalogMaxRetries < 0 {
		return fmt.Errorf("CATALOG_MAX_RETRIES must be >= 0, got %d", c.CatalogMaxRetries)
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %f", c.CBFailureRatio)
	}
	if c.SagaLookupTimeout <= 0 || c.SagaAdjustTimeout <= 0 || c.SagaPersistTimeout <= 0 {
		return fmt.Errorf("SAGA_*_TIMEOUT values must be > 0")
	}
	if step := c.SagaLookupTimeout + c.SagaAdjustTimeout + c.SagaPersistTimeout; step >= c.RequestTimeout {
		return fmt.Errorf("ORDER_REQUEST_TIMEOUT (%s) must exceed one item's saga budget (%s)", c.RequestTimeout, step)
	}
	if c.SagaCompensate && c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be > 0 when SAGA_COMPENSATE is set, got %s", c.ReconcileInterval)
	}
	if c.ReconcileBatchSize < 1 {
		return fmt.Errorf("RECONCILE_BATCH_SIZE must be >= 1, got %d", c.ReconcileBatchSize)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Postgres returns the connection settings for the order database.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		ApplicationName: "order-service",
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return c.Postgres().DSN()
}

// CatalogClient returns the retrying HTTP client settings for the catalog.
func (c *Config) CatalogClient() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = c.CatalogTimeout
	cfg.MaxRetries = c.CatalogMaxRetries
	cfg.RetryWaitMin = 100 * time.Millisecond
	cfg.RetryWaitMax = time.Second
	return cfg
}

// CatalogBreaker returns the circuit breaker settings for the catalog client.
func (c *Config) CatalogBreaker() httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         "catalog",
		MaxRequests:  c.CBMaxRequests,
		Interval:     c.CBInterval,
		Timeout:      c.CBTimeout,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}
