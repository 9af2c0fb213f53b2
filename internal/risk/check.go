package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// HistorySource yields the recent history of one wallet in chronological order.
type HistorySource interface {
	ListWalletTransactions(ctx context.Context, wallet string, limit int) ([]domain.Transaction, error)
}

// Check is the outcome of an online check of one candidate transaction.
type Check struct {
	Assessment *domain.Assessment
	Sender     Evaluation
	Receiver   Evaluation
}

// CheckTransaction evaluates the sender and the receiver of candidate, each
// against its own stored history with the candidate merged in. The check
// alerts when either side is flagged.
func (s *Service) CheckTransaction(ctx context.Context, src HistorySource, candidate domain.Transaction, windowSize int) (*Check, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "risk.CheckTransaction",
		trace.WithAttributes(
			attribute.String("tx.id", candidate.ID),
			attribute.String("tx.sender", candidate.Sender),
			attribute.String("tx.receiver", candidate.Receiver),
		),
	)
	defer span.End()

	sender, err := s.checkSide(ctx, src, candidate.Sender, candidate, windowSize)
	if err != nil {
		return nil, err
	}

	receiver := sender
	if candidate.Receiver != candidate.Sender {
		receiver, err = s.checkSide(ctx, src, candidate.Receiver, candidate, windowSize)
		if err != nil {
			return nil, err
		}
	}
	rulesMs := time.Since(start).Milliseconds()

	status := domain.StatusNoAlert
	if sender.Metrics.Fraudulent || receiver.Metrics.Fraudulent {
		status = domain.StatusAlert
	}
	span.SetAttributes(attribute.String("check.status", status))

	sm, rm := sender.Metrics, receiver.Metrics
	assessment := &domain.Assessment{
		ID:        uuid.New().String(),
		Candidate: candidate,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Sender:    &sm,
		Receiver:  &rm,
		Metadata: domain.AssessmentMetadata{
			TraceID:        traceID(span),
			RulesMs:        rulesMs,
			TotalMs:        time.Since(start).Milliseconds(),
			RulesEvaluated: len(sender.Results) + len(receiver.Results),
			WindowSize:     windowSize,
			EngineVersion:  EngineVersion,
		},
	}

	return &Check{Assessment: assessment, Sender: sender, Receiver: receiver}, nil
}

func (s *Service) checkSide(ctx context.Context, src HistorySource, wallet string, candidate domain.Transaction, windowSize int) (Evaluation, error) {
	txs, err := src.ListWalletTransactions(ctx, wallet, windowSize)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to load history for %s: %w", wallet, err)
	}
	return s.evaluate(ctx, ModeOnline, wallet, txs, &candidate, windowSize)
}

func traceID(span trace.Span) string {
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
