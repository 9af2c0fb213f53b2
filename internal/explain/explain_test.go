package explain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/resilience"
)

var now = time.Date(2025, 7, 4, 9, 30, 0, 0, time.UTC)

func sampleInput() PromptInput {
	cand := domain.Transaction{
		ID:        "cand",
		Sender:    "alice",
		Receiver:  "bob",
		Amount:    decimal.RequireFromString("250"),
		Timestamp: now,
	}
	return PromptInput{
		Candidate: cand,
		Windows: []domain.WalletWindow{
			{Wallet: "alice", Transactions: []domain.Transaction{cand}, HasCandidate: true},
		},
		Metrics: []domain.WalletMetrics{
			{
				Wallet:         "alice",
				MeanAmount:     decimal.RequireFromString("250"),
				TotalSent:      decimal.RequireFromString("250"),
				Fraudulent:     true,
				TriggeredRules: []string{domain.RuleMeanAmountHigh, domain.RuleRatioOutOfRange},
			},
		},
		Rules: []domain.RuleDefinition{
			{
				ID:          domain.RuleMeanAmountHigh,
				Description: "Mean transaction amount must not exceed 187.5",
				Parameters:  []domain.RuleParameter{{Name: "mean_amount_max", Value: 187.5}},
			},
		},
		BigTxnThreshold: 1,
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(sampleInput(), now)

	sections := []string{
		"SECTION 1: HISTORICAL TRANSACTION REFERENCE",
		"SECTION 2: CURRENT TRANSACTION DETAILS",
		"SECTION 3: APPLIED FRAUD DETECTION RULES",
		"SECTION 4: ANALYSIS TASK",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		require.GreaterOrEqual(t, idx, 0, "missing %s", s)
		assert.Greater(t, idx, last, "%s out of order", s)
		last = idx
	}

	assert.Contains(t, prompt, "Wallet alice (1 transactions)")
	assert.Contains(t, prompt, "input_address")
	assert.Contains(t, prompt, "- Amount: 250 BTC")
	assert.Contains(t, prompt, "1. Mean transaction amount must not exceed 187.5 (Thresholds: mean_amount_max=187.5)")
	assert.Contains(t, prompt, "2. Big transaction threshold >= 1 BTC")
	assert.Contains(t, prompt, "ratio=undefined")
	assert.Contains(t, prompt, "triggered=mean-amount-high, ratio-out-of-range")
	assert.Contains(t, prompt, "Take 2025-07-04 as the analysis date.")
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	return string(b)
}

func newTestClient(url string) *GeminiClient {
	c := NewGeminiClient(domain.ExplainConfig{APIURL: url, APIKey: "secret", Timeout: time.Second}, nil)
	c.retry = resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	return c
}

func TestGeminiGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-goog-api-key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)

		w.Write([]byte(geminiReply("the report")))
	}))
	defer server.Close()

	report, err := newTestClient(server.URL).Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "the report", report)
}

func TestGeminiRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(geminiReply("ok")))
	}))
	defer server.Close()

	report, err := newTestClient(server.URL).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", report)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeminiDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Generate(context.Background(), "p")
	require.Error(t, err)

	var extErr *domain.ErrExternalService
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, ServiceName, extErr.Service)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiEmptyReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyReport)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) Ping(context.Context) error { return nil }
func (c *mapCache) Close() error               { return nil }

type countingGenerator struct {
	calls int
	err   error
}

func (g *countingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "report for " + prompt[:8], nil
}

type hitCounter struct{ hits, misses int }

func (h *hitCounter) RecordCacheLookup(hit bool) {
	if hit {
		h.hits++
		return
	}
	h.misses++
}

func TestExplainerCachesReports(t *testing.T) {
	gen := &countingGenerator{}
	counter := &hitCounter{}
	e := NewExplainer(gen, newMapCache(), time.Hour).WithRecorder(counter)
	e.now = func() time.Time { return now }

	first, err := e.Explain(context.Background(), sampleInput())
	require.NoError(t, err)
	second, err := e.Explain(context.Background(), sampleInput())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, counter.hits)
	assert.Equal(t, 1, counter.misses)
}

func TestExplainerWithoutCache(t *testing.T) {
	gen := &countingGenerator{}
	e := NewExplainer(gen, nil, time.Hour)

	_, err := e.Explain(context.Background(), sampleInput())
	require.NoError(t, err)
	_, err = e.Explain(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
}

func TestExplainerPropagatesErrors(t *testing.T) {
	boom := &domain.ErrExternalService{Service: ServiceName, Err: errors.New("down")}
	cache := newMapCache()
	e := NewExplainer(&countingGenerator{err: boom}, cache, time.Hour)

	_, err := e.Explain(context.Background(), sampleInput())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, cache.data)
}
