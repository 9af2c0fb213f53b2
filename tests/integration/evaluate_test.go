//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running
// Walletwatch server.
//
// These tests drive the full path:
//
//	stored history → wallet window → metrics → rule table → flag
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must run with the default thresholds:
//
// | Rule                   | Violated when                                 |
// |------------------------|-----------------------------------------------|
// | mean_amount_high       | mean amount > 187.5                           |
// | interval_too_short     | interval < 36000 seconds                      |
// | unique_senders_high    | unique senders > 7                            |
// | unique_receivers_high  | unique receivers > 7                          |
// | ratio_out_of_range     | sent/received undefined or outside [0.5, 1.5] |
//
// Wallet addresses carry a per-run suffix so the tests can be repeated
// against the same database.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	RunID   string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("WALLETWATCH_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	return TestConfig{
		BaseURL: baseURL,
		RunID:   fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

func (c TestConfig) wallet(name string) string {
	return name + "-" + c.RunID
}

// ============================================================================
// API Request/Response Types
// ============================================================================

type TransactionRequest struct {
	ID        string  `json:"id,omitempty"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}

type WalletMetrics struct {
	Wallet          string   `json:"wallet"`
	WindowSize      int      `json:"windowSize"`
	IntervalSeconds float64  `json:"intervalSeconds"`
	UniqueSenders   int      `json:"uniqueSenders"`
	UniqueReceivers int      `json:"uniqueReceivers"`
	Fraudulent      bool     `json:"fraudulent"`
	TriggeredRules  []string `json:"triggeredRules"`
}

type AMLCheckResponse struct {
	Flag         bool           `json:"flag"`
	Message      string         `json:"message"`
	AssessmentID string         `json:"assessmentId"`
	Sender       *WalletMetrics `json:"sender"`
	Receiver     *WalletMetrics `json:"receiver"`
}

type WalletResponse struct {
	Metrics WalletMetrics `json:"metrics"`
}

type BatchJob struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Wallets int    `json:"wallets"`
	Flagged int    `json:"flagged"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, in any, wantStatus int, out any) {
	t.Helper()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

// seed stores n transfers from sender to receiver spaced by gap.
func seed(t *testing.T, config TestConfig, sender, receiver string, n int, gap time.Duration, start time.Time) {
	t.Helper()

	txs := make([]TransactionRequest, n)
	for i := range txs {
		txs[i] = TransactionRequest{
			Sender:    sender,
			Receiver:  receiver,
			Amount:    1,
			Timestamp: start.Add(time.Duration(i) * gap).Format(time.RFC3339),
		}
	}
	call(t, config, http.MethodPost, "/transactions", txs, http.StatusCreated, nil)
}

var start = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// ============================================================================
// SCENARIO 1: Balanced, slow exchange (no flag)
// ============================================================================

func TestBalancedExchange_NoFlag(t *testing.T) {
	/*
	   SCENARIO: Two wallets send 1 BTC back and forth every two days.

	   EXPECTED BEHAVIOR:
	   - interval 48h ≥ 10h, one counterparty each, ratio ≈ 1
	   - The check passes, the transaction is appended to the history
	*/
	config := getTestConfig()
	a, b := config.wallet("balanced-a"), config.wallet("balanced-b")

	txs := make([]TransactionRequest, 4)
	for i := range txs {
		s, r := a, b
		if i%2 == 1 {
			s, r = b, a
		}
		txs[i] = TransactionRequest{
			Sender:    s,
			Receiver:  r,
			Amount:    1,
			Timestamp: start.Add(time.Duration(i) * 48 * time.Hour).Format(time.RFC3339),
		}
	}
	call(t, config, http.MethodPost, "/transactions", txs, http.StatusCreated, nil)

	var result AMLCheckResponse
	call(t, config, http.MethodPost, "/aml-checks", TransactionRequest{
		Sender:    b,
		Receiver:  a,
		Amount:    1,
		Timestamp: start.Add(4 * 48 * time.Hour).Format(time.RFC3339),
	}, http.StatusOK, &result)

	if result.Flag {
		t.Fatalf("Expected no flag, sender %+v receiver %+v", result.Sender, result.Receiver)
	}
	if result.Sender == nil || result.Sender.WindowSize != 5 {
		t.Errorf("Expected sender window of 5 with candidate, got %+v", result.Sender)
	}

	var wallet WalletResponse
	call(t, config, http.MethodGet, "/wallets/"+a+"/metrics", nil, http.StatusOK, &wallet)
	if wallet.Metrics.WindowSize != 5 {
		t.Errorf("Expected clean transaction to be stored, window is %d", wallet.Metrics.WindowSize)
	}

	t.Logf("✓ Balanced exchange passed: message=%q", result.Message)
}

// ============================================================================
// SCENARIO 2: Rapid one-way transfers (flag)
// ============================================================================

func TestRapidTransfers_Flagged(t *testing.T) {
	/*
	   SCENARIO: A wallet pays the same counterparty every 10 minutes.

	   EXPECTED BEHAVIOR:
	   - interval_too_short fires (600s < 36000s)
	   - ratio_out_of_range fires (nothing received, ratio undefined)
	   - The candidate is NOT stored
	*/
	config := getTestConfig()
	mule, sink := config.wallet("mule"), config.wallet("sink")

	seed(t, config, mule, sink, 6, 10*time.Minute, start)

	var result AMLCheckResponse
	call(t, config, http.MethodPost, "/aml-checks", TransactionRequest{
		Sender:    mule,
		Receiver:  sink,
		Amount:    1,
		Timestamp: start.Add(time.Hour).Format(time.RFC3339),
	}, http.StatusOK, &result)

	if !result.Flag {
		t.Fatal("Expected flag for rapid transfers")
	}
	if result.Message == "" {
		t.Error("Expected a report or summary message")
	}

	want := map[string]bool{"interval_too_short": false, "ratio_out_of_range": false}
	for _, id := range result.Sender.TriggeredRules {
		if _, ok := want[id]; ok {
			want[id] = true
		}
	}
	for id, seen := range want {
		if !seen {
			t.Errorf("Expected %s to trigger, got %v", id, result.Sender.TriggeredRules)
		}
	}

	var wallet WalletResponse
	call(t, config, http.MethodGet, "/wallets/"+mule+"/metrics", nil, http.StatusOK, &wallet)
	if wallet.Metrics.WindowSize != 6 {
		t.Errorf("Flagged transaction must not be stored, window is %d", wallet.Metrics.WindowSize)
	}

	t.Logf("✓ Rapid transfers flagged: rules=%v", result.Sender.TriggeredRules)
}

// ============================================================================
// SCENARIO 3: Fan-in (too many senders)
// ============================================================================

func TestFanIn_UniqueSendersHigh(t *testing.T) {
	/*
	   SCENARIO: Eight distinct wallets each pay one collector, a day apart.

	   EXPECTED BEHAVIOR:
	   - unique_senders_high fires (8 > 7)
	*/
	config := getTestConfig()
	collector := config.wallet("collector")

	for i := 0; i < 8; i++ {
		seed(t, config, config.wallet(fmt.Sprintf("payer-%d", i)), collector, 1, 0, start.Add(time.Duration(i)*24*time.Hour))
	}

	var wallet WalletResponse
	call(t, config, http.MethodGet, "/wallets/"+collector+"/metrics", nil, http.StatusOK, &wallet)

	if wallet.Metrics.UniqueSenders != 8 {
		t.Errorf("Expected 8 unique senders, got %d", wallet.Metrics.UniqueSenders)
	}
	found := false
	for _, id := range wallet.Metrics.TriggeredRules {
		if id == "unique_senders_high" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected unique_senders_high, got %v", wallet.Metrics.TriggeredRules)
	}
}

// ============================================================================
// SCENARIO 4: Window truncation
// ============================================================================

func TestWindowTruncation(t *testing.T) {
	/*
	   SCENARIO: 25 transfers stored; the window keeps only the last N.
	*/
	config := getTestConfig()
	a, b := config.wallet("long-a"), config.wallet("long-b")

	seed(t, config, a, b, 25, 12*time.Hour, start)

	var wallet WalletResponse
	call(t, config, http.MethodGet, "/wallets/"+a+"/metrics", nil, http.StatusOK, &wallet)
	if wallet.Metrics.WindowSize != 20 {
		t.Errorf("Expected default window of 20, got %d", wallet.Metrics.WindowSize)
	}

	call(t, config, http.MethodGet, "/wallets/"+a+"/metrics?window=5", nil, http.StatusOK, &wallet)
	if wallet.Metrics.WindowSize != 5 {
		t.Errorf("Expected window of 5, got %d", wallet.Metrics.WindowSize)
	}
}

// ============================================================================
// SCENARIO 5: Error handling
// ============================================================================

func TestErrors(t *testing.T) {
	config := getTestConfig()

	t.Run("UnknownWallet", func(t *testing.T) {
		call(t, config, http.MethodGet, "/wallets/"+config.wallet("nobody")+"/metrics", nil, http.StatusNotFound, nil)
	})

	t.Run("InvalidWindow", func(t *testing.T) {
		call(t, config, http.MethodGet, "/wallets/any/metrics?window=0", nil, http.StatusBadRequest, nil)
	})

	t.Run("MissingFields", func(t *testing.T) {
		call(t, config, http.MethodPost, "/aml-checks", map[string]any{"sender": "x"}, http.StatusBadRequest, nil)
	})
}

// ============================================================================
// SCENARIO 6: Batch analysis
// ============================================================================

func TestBatchJob(t *testing.T) {
	config := getTestConfig()
	seed(t, config, config.wallet("batch-a"), config.wallet("batch-b"), 3, time.Minute, start)

	var job BatchJob
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(config.BaseURL+"/batch", "application/json", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 200 or 202, got %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode job: %v", err)
	}

	deadline := time.Now().Add(2 * time.Minute)
	for job.Status != "completed" {
		if job.Status == "failed" {
			t.Fatalf("Batch job failed: %+v", job)
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for batch job %s", job.ID)
		}
		time.Sleep(500 * time.Millisecond)
		call(t, config, http.MethodGet, "/batch/"+job.ID, nil, http.StatusOK, &job)
	}

	if job.Wallets < 2 || job.Flagged < 2 {
		t.Errorf("Expected at least the two seeded wallets flagged, got %+v", job)
	}
	t.Logf("✓ Batch job completed: wallets=%d flagged=%d", job.Wallets, job.Flagged)
}
