package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/resilience"
)

func sampleTx() domain.Transaction {
	return domain.Transaction{
		ID:        "tx-1",
		Sender:    "alice",
		Receiver:  "bob",
		Amount:    decimal.RequireFromString("0.125"),
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
	}
}

func newTestClient(url string) *Client {
	c := NewClient(domain.OracleConfig{BaseURL: url + "/", Timeout: time.Second}, nil)
	c.retry = resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	return c
}

func TestAddTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, AddTransactionPath, r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["sender"])
		assert.Equal(t, "bob", body["receiver"])
		assert.Equal(t, 0.125, body["amount"])
		assert.Equal(t, float64(1740819600), body["timestamp"])

		w.Write([]byte("recorded"))
	}))
	defer server.Close()

	reply, err := newTestClient(server.URL).AddTransaction(context.Background(), sampleTx())
	require.NoError(t, err)
	assert.Equal(t, "recorded", reply)
}

func TestAddTransactionRejected(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).AddTransaction(context.Background(), sampleTx())

	var extErr *domain.ErrExternalService
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, ServiceName, extErr.Service)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAddTransactionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).AddTransaction(context.Background(), sampleTx())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAddTransactionUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestClient(url).AddTransaction(context.Background(), sampleTx())

	var extErr *domain.ErrExternalService
	assert.ErrorAs(t, err, &extErr)
}
