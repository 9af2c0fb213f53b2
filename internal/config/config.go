// Package config builds domain.Config from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// Prefix is prepended to every Walletwatch variable.
const Prefix = "WALLETWATCH_"

// Load reads configuration from the environment on top of
// domain.DefaultConfig. A .env file in the working directory is loaded
// first if present; real environment variables win over it.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration using lookup for variable access.
func FromEnv(lookup func(string) (string, bool)) (*domain.Config, error) {
	e := &env{lookup: lookup}
	cfg := domain.DefaultConfig()

	// Server
	cfg.Server.Host = e.str("HOST", cfg.Server.Host)
	cfg.Server.Port = e.int("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = e.int("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = e.int("WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	// Risk
	cfg.Risk.WindowSize = e.int("WINDOW_SIZE", cfg.Risk.WindowSize)
	cfg.Risk.MeanAmountMax = e.float("MEAN_AMOUNT_MAX", cfg.Risk.MeanAmountMax)
	cfg.Risk.IntervalMinSeconds = e.float("INTERVAL_MIN_SECONDS", cfg.Risk.IntervalMinSeconds)
	cfg.Risk.IntervalPolicy = domain.IntervalPolicy(e.str("INTERVAL_POLICY", string(cfg.Risk.IntervalPolicy)))
	cfg.Risk.UniqueSendersMax = e.int("UNIQUE_SENDERS_MAX", cfg.Risk.UniqueSendersMax)
	cfg.Risk.UniqueReceiversMax = e.int("UNIQUE_RECEIVERS_MAX", cfg.Risk.UniqueReceiversMax)
	cfg.Risk.RatioMin = e.float("RATIO_MIN", cfg.Risk.RatioMin)
	cfg.Risk.RatioMax = e.float("RATIO_MAX", cfg.Risk.RatioMax)
	cfg.Risk.BigTxnThreshold = e.float("BIG_TXN_THRESHOLD", cfg.Risk.BigTxnThreshold)
	cfg.Risk.BatchConcurrency = e.int("BATCH_CONCURRENCY", cfg.Risk.BatchConcurrency)

	// Repository
	cfg.Repository.Driver = e.str("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = e.str("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = e.str("POSTGRES_HOST", "localhost")
	cfg.Repository.PostgresPort = e.int("POSTGRES_PORT", 5432)
	cfg.Repository.PostgresUser = e.str("POSTGRES_USER", "walletwatch")
	cfg.Repository.PostgresPassword = e.str("POSTGRES_PASSWORD", "")
	cfg.Repository.PostgresDB = e.str("POSTGRES_DB", "walletwatch")
	cfg.Repository.PostgresSSLMode = e.str("POSTGRES_SSLMODE", "disable")

	// Cache
	cfg.Cache.Type = e.str("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = e.str("REDIS_ADDR", "localhost:6379")
	cfg.Cache.RedisPassword = e.str("REDIS_PASSWORD", "")
	cfg.Cache.RedisDB = e.int("REDIS_DB", 0)
	cfg.Cache.EnableTwoPhase = e.bool("CACHE_TWO_PHASE", cfg.Cache.EnableTwoPhase)
	cfg.Cache.ReportTTL = e.duration("REPORT_TTL", cfg.Cache.ReportTTL)

	// Event bus
	cfg.EventBus.Type = e.str("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = e.str("NATS_URL", "nats://localhost:4222")
	cfg.EventBus.NATSToken = e.str("NATS_TOKEN", "")
	cfg.EventBus.NATSMaxReconnects = e.int("NATS_MAX_RECONNECTS", 10)
	cfg.EventBus.NATSReconnectWait = e.int("NATS_RECONNECT_WAIT", 2)
	cfg.EventBus.NATSQueueGroup = e.str("NATS_QUEUE_GROUP", "walletwatch-workers")

	// Explanation API; the unprefixed names are kept for existing deployments.
	cfg.Explain.APIKey = e.raw("GEMINI_API_KEY", "")
	cfg.Explain.APIURL = e.raw("GEMINI_API_URL", cfg.Explain.APIURL)
	cfg.Explain.Enabled = e.bool("EXPLAIN_ENABLED", cfg.Explain.APIKey != "")
	cfg.Explain.Timeout = e.duration("EXPLAIN_TIMEOUT", cfg.Explain.Timeout)

	// Oracle
	_, urlSet := lookup(Prefix + "ORACLE_URL")
	cfg.Oracle.BaseURL = e.str("ORACLE_URL", cfg.Oracle.BaseURL)
	cfg.Oracle.Enabled = e.bool("ORACLE_ENABLED", urlSet)
	cfg.Oracle.Timeout = e.duration("ORACLE_TIMEOUT", cfg.Oracle.Timeout)

	// Observability
	cfg.Logging.Level = strings.ToLower(e.str("LOG_LEVEL", cfg.Logging.Level))
	if e.bool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = e.str("LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Endpoint = e.raw("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.Tracing.Enabled = e.bool("TRACING_ENABLED", cfg.Tracing.Endpoint != "")
	cfg.Tracing.ServiceName = e.str("SERVICE_NAME", cfg.Tracing.ServiceName)

	cfg.AsyncWorker = e.bool("ASYNC_WORKER", cfg.AsyncWorker)

	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return cfg, nil
}

// env reads prefixed variables and collects parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(name, fallback string) string {
	if v, ok := e.lookup(name); ok && v != "" {
		return v
	}
	return fallback
}

func (e *env) str(key, fallback string) string {
	return e.raw(Prefix+key, fallback)
}

func (e *env) int(key string, fallback int) int {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid integer %q", Prefix, key, v))
		return fallback
	}
	return n
}

func (e *env) float(key string, fallback float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid number %q", Prefix, key, v))
		return fallback
	}
	return f
}

func (e *env) bool(key string, fallback bool) bool {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid boolean %q", Prefix, key, v))
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid duration %q", Prefix, key, v))
		return fallback
	}
	return d
}
