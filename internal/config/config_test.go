package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

func mapLookup(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(mapLookup(nil))
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultRiskConfig(), cfg.Risk)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.False(t, cfg.Explain.Enabled)
	assert.False(t, cfg.Oracle.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, domain.DefaultGeminiURL, cfg.Explain.APIURL)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"WALLETWATCH_PORT":                 "8081",
		"WALLETWATCH_WINDOW_SIZE":          "50",
		"WALLETWATCH_MEAN_AMOUNT_MAX":      "47.5",
		"WALLETWATCH_INTERVAL_POLICY":      "total_span",
		"WALLETWATCH_INTERVAL_MIN_SECONDS": "720000",
		"WALLETWATCH_UNIQUE_SENDERS_MAX":   "3",
		"WALLETWATCH_DB_DRIVER":            "postgres",
		"WALLETWATCH_CACHE_TYPE":           "redis",
		"WALLETWATCH_REPORT_TTL":           "15m",
		"WALLETWATCH_ORACLE_URL":           "http://ledger:8080",
		"WALLETWATCH_DEBUG":                "true",
		"GEMINI_API_KEY":                   "key",
		"OTEL_EXPORTER_OTLP_ENDPOINT":      "collector:4317",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Risk.WindowSize)
	assert.Equal(t, 47.5, cfg.Risk.MeanAmountMax)
	assert.Equal(t, domain.IntervalTotalSpan, cfg.Risk.IntervalPolicy)
	assert.Equal(t, 720000.0, cfg.Risk.IntervalMinSeconds)
	assert.Equal(t, 3, cfg.Risk.UniqueSendersMax)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, 15*time.Minute, cfg.Cache.ReportTTL)
	assert.True(t, cfg.Oracle.Enabled)
	assert.Equal(t, "http://ledger:8080", cfg.Oracle.BaseURL)
	assert.True(t, cfg.Explain.Enabled)
	assert.Equal(t, "key", cfg.Explain.APIKey)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestFromEnvExplicitDisable(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"GEMINI_API_KEY":              "key",
		"WALLETWATCH_EXPLAIN_ENABLED": "false",
		"WALLETWATCH_ORACLE_URL":      "http://ledger:8080",
		"WALLETWATCH_ORACLE_ENABLED":  "false",
	}))
	require.NoError(t, err)

	assert.False(t, cfg.Explain.Enabled)
	assert.False(t, cfg.Oracle.Enabled)
}

func TestFromEnvInvalidValues(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{
		"WALLETWATCH_PORT":       "http",
		"WALLETWATCH_RATIO_MIN":  "low",
		"WALLETWATCH_REPORT_TTL": "forever",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLETWATCH_PORT")
	assert.Contains(t, err.Error(), "WALLETWATCH_RATIO_MIN")
	assert.Contains(t, err.Error(), "WALLETWATCH_REPORT_TTL")
}

func TestFromEnvRejectsInvalidRiskConfig(t *testing.T) {
	tests := map[string]map[string]string{
		"UnknownPolicy": {"WALLETWATCH_INTERVAL_POLICY": "median"},
		"ZeroWindow":    {"WALLETWATCH_WINDOW_SIZE": "0"},
		"EmptyRange":    {"WALLETWATCH_RATIO_MIN": "2", "WALLETWATCH_RATIO_MAX": "1"},
	}

	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(mapLookup(vars))
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WALLETWATCH_WINDOW_SIZE=7\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		os.Chdir(wd)
		os.Unsetenv("WALLETWATCH_WINDOW_SIZE")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Risk.WindowSize)
}
