package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Walletwatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Risk holds the canonical rule-set thresholds.
	Risk RiskConfig `json:"risk"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// External collaborators
	Explain ExplainConfig `json:"explain"`
	Oracle  OracleConfig  `json:"oracle"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// AsyncWorker enables the batch job worker.
	AsyncWorker bool `json:"asyncWorker"`
}

// RiskConfig is the single configuration value for the wallet rule set.
// Legacy rule-set variants disagree on these numbers; the defaults follow
// the most recent one and every field can be overridden at the boundary.
type RiskConfig struct {
	// WindowSize is n_last, the number of most recent transactions per wallet.
	WindowSize int `json:"windowSize"`

	MeanAmountMax      float64        `json:"meanAmountMax"`
	IntervalMinSeconds float64        `json:"intervalMinSeconds"`
	IntervalPolicy     IntervalPolicy `json:"intervalPolicy"`
	UniqueSendersMax   int            `json:"uniqueSendersMax"`
	UniqueReceiversMax int            `json:"uniqueReceiversMax"`
	RatioMin           float64        `json:"ratioMin"`
	RatioMax           float64        `json:"ratioMax"`

	// BigTxnThreshold splits big (>=) from small (<) transactions.
	BigTxnThreshold float64 `json:"bigTxnThreshold"`

	// BatchConcurrency bounds parallel wallet evaluation in batch runs.
	BatchConcurrency int `json:"batchConcurrency"`
}

// DefaultRiskConfig returns the canonical thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		WindowSize:         20,
		MeanAmountMax:      187.5,
		IntervalMinSeconds: 10 * 3600,
		IntervalPolicy:     IntervalMeanGap,
		UniqueSendersMax:   7,
		UniqueReceiversMax: 7,
		RatioMin:           0.5,
		RatioMax:           1.5,
		BigTxnThreshold:    1.0,
		BatchConcurrency:   8,
	}
}

// Validate checks the risk configuration for values the rule set cannot use.
func (c RiskConfig) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	}
	if !c.IntervalPolicy.Valid() {
		return fmt.Errorf("unknown interval policy %q", c.IntervalPolicy)
	}
	if c.RatioMin > c.RatioMax {
		return fmt.Errorf("ratio range is empty: [%g, %g]", c.RatioMin, c.RatioMax)
	}
	if c.BigTxnThreshold < 0 {
		return fmt.Errorf("big transaction threshold must not be negative")
	}
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ExplainConfig holds settings for the forensic report generator.
type ExplainConfig struct {
	Enabled bool          `json:"enabled"`
	APIURL  string        `json:"apiUrl"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

// OracleConfig holds settings for the ledger oracle service.
type OracleConfig struct {
	Enabled bool          `json:"enabled"`
	BaseURL string        `json:"baseUrl"`
	Timeout time.Duration `json:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // otlp
	Endpoint     string `json:"endpoint"`
}

// DefaultGeminiURL is the generateContent endpoint used for reports.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Risk: DefaultRiskConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./walletwatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ReportTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Explain: ExplainConfig{
			APIURL:  DefaultGeminiURL,
			Timeout: 60 * time.Second,
		},
		Oracle: OracleConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "walletwatch",
		},
		AsyncWorker: true,
	}
}
