package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/resilience"
)

// ServiceName labels errors and metrics for the text-generation API.
const ServiceName = "gemini"

// ErrEmptyReport is returned when the API answers without any text.
var ErrEmptyReport = errors.New("empty report in response")

// Generator turns a prompt into report text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CallRecorder observes calls to external services.
type CallRecorder interface {
	RecordExternalCall(service string, d time.Duration, err error)
}

// GeminiClient calls the generateContent endpoint.
type GeminiClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	retry      resilience.Config
	recorder   CallRecorder
}

// NewGeminiClient creates a client from cfg. recorder may be nil.
func NewGeminiClient(cfg domain.ExplainConfig, recorder CallRecorder) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	url := cfg.APIURL
	if url == "" {
		url = domain.DefaultGeminiURL
	}

	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		apiKey:     cfg.APIKey,
		cb:         resilience.NewCircuitBreaker(ServiceName),
		retry:      resilience.DefaultConfig(),
		recorder:   recorder,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate sends prompt and returns the first candidate's text.
// Failures are reported as *domain.ErrExternalService.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	report, err := resilience.Call(ctx, c.cb, c.retry, func() (string, error) {
		return c.generate(ctx, prompt)
	})

	if c.recorder != nil {
		c.recorder.RecordExternalCall(ServiceName, time.Since(start), err)
	}
	if err != nil {
		return "", &domain.ErrExternalService{Service: ServiceName, Err: err}
	}
	return report, nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("generateContent returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", resilience.Permanent(err)
		}
		return "", err
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 || out.Candidates[0].Content.Parts[0].Text == "" {
		return "", resilience.Permanent(ErrEmptyReport)
	}

	return out.Candidates[0].Content.Parts[0].Text, nil
}
