// Package oracle submits approved transactions to the ledger oracle service.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/resilience"
)

// ServiceName labels errors and metrics for the oracle.
const ServiceName = "oracle"

// AddTransactionPath is the ledger endpoint for approved transactions.
const AddTransactionPath = "/oracle/add-transaction"

// CallRecorder observes calls to external services.
type CallRecorder interface {
	RecordExternalCall(service string, d time.Duration, err error)
}

// Client talks to the oracle service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	retry      resilience.Config
	recorder   CallRecorder
}

// NewClient creates a client from cfg. recorder may be nil.
func NewClient(cfg domain.OracleConfig, recorder CallRecorder) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cb:         resilience.NewCircuitBreaker(ServiceName),
		retry:      resilience.DefaultConfig(),
		recorder:   recorder,
	}
}

// Submission is the ledger payload. Timestamp is in Unix seconds.
type Submission struct {
	Sender    string      `json:"sender"`
	Amount    json.Number `json:"amount"`
	Receiver  string      `json:"receiver"`
	Timestamp int64       `json:"timestamp"`
}

// NewSubmission converts tx into the ledger payload.
func NewSubmission(tx domain.Transaction) Submission {
	return Submission{
		Sender:    tx.Sender,
		Amount:    json.Number(tx.Amount.String()),
		Receiver:  tx.Receiver,
		Timestamp: tx.Timestamp.Unix(),
	}
}

// AddTransaction records tx on the ledger and returns the oracle's reply.
// Any status other than 200 is an error.
func (c *Client) AddTransaction(ctx context.Context, tx domain.Transaction) (string, error) {
	start := time.Now()

	reply, err := resilience.Call(ctx, c.cb, c.retry, func() (string, error) {
		return c.post(ctx, NewSubmission(tx))
	})

	if c.recorder != nil {
		c.recorder.RecordExternalCall(ServiceName, time.Since(start), err)
	}
	if err != nil {
		return "", &domain.ErrExternalService{Service: ServiceName, Err: err}
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, sub Submission) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AddTransactionPath, bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("oracle returned status %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return "", resilience.Permanent(err)
		}
		return "", err
	}

	return string(reply), nil
}
