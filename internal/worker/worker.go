// Package worker runs asynchronous batch analysis jobs off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/risk"
)

// BatchRequest is the payload published on domain.TopicBatchRequested.
type BatchRequest struct {
	JobID string `json:"jobId"`
}

// BatchCompleted is the payload published on domain.TopicBatchCompleted.
type BatchCompleted struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Wallets int    `json:"wallets"`
	Flagged int    `json:"flagged"`
	Error   string `json:"error,omitempty"`
}

// JobRecorder counts finished jobs by status.
type JobRecorder interface {
	RecordBatchJob(status string)
}

// Worker evaluates every stored wallet for each requested batch job.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	service  *risk.Service
	recorder JobRecorder

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, service *risk.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WithRecorder sets the job recorder and returns w.
func (w *Worker) WithRecorder(r JobRecorder) *Worker {
	w.recorder = r
	return w
}

// Start subscribes to batch requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBatchRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicBatchRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("batch worker started",
		"topic", domain.TopicBatchRequested,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var req BatchRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse batch request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	job, err := w.repo.GetBatchJob(ctx, req.JobID)
	if err != nil {
		slog.Error("failed to load batch job",
			"job_id", req.JobID,
			"error", err,
		)
		return err
	}

	return w.Run(ctx, job)
}

// Run executes job synchronously over the full stored history and persists
// its outcome. A failed evaluation is recorded on the job; only storage
// errors are returned.
func (w *Worker) Run(ctx context.Context, job *domain.BatchJob) error {
	start := time.Now()

	job.Status = domain.JobRunning
	if err := w.repo.SaveBatchJob(ctx, job); err != nil {
		return fmt.Errorf("save batch job %s: %w", job.ID, err)
	}

	rows, runErr := w.evaluate(ctx, job.WindowSize)

	completed := time.Now().UTC()
	job.CompletedAt = &completed
	if runErr != nil {
		job.Status = domain.JobFailed
		job.Error = runErr.Error()
		slog.Error("batch job failed",
			"job_id", job.ID,
			"error", runErr,
		)
	} else {
		job.Status = domain.JobCompleted
		job.Results = rows
		job.Wallets = len(rows)
		job.Flagged = 0
		for _, r := range rows {
			if r.Fraudulent {
				job.Flagged++
			}
		}
	}

	// The job outcome must be persisted even if the request was cancelled.
	saveCtx := context.WithoutCancel(ctx)
	if err := w.repo.SaveBatchJob(saveCtx, job); err != nil {
		return fmt.Errorf("save batch job %s: %w", job.ID, err)
	}

	if w.recorder != nil {
		w.recorder.RecordBatchJob(job.Status)
	}

	payload, _ := json.Marshal(BatchCompleted{
		JobID:   job.ID,
		Status:  job.Status,
		Wallets: job.Wallets,
		Flagged: job.Flagged,
		Error:   job.Error,
	})
	if err := w.bus.Publish(saveCtx, domain.TopicBatchCompleted, payload); err != nil {
		slog.Error("failed to publish batch completion",
			"job_id", job.ID,
			"error", err,
		)
	}

	slog.Info("batch job processed",
		"job_id", job.ID,
		"status", job.Status,
		"wallets", job.Wallets,
		"flagged", job.Flagged,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) evaluate(ctx context.Context, windowSize int) ([]domain.WalletMetrics, error) {
	txs, err := w.repo.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(txs) == 0 {
		return nil, errors.New("no stored transactions")
	}
	return w.service.EvaluateBatch(ctx, txs, windowSize)
}

// Stop cancels running jobs, unsubscribes and waits for handlers to return.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("batch worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
