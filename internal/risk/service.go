// Package risk composes history selection, metric calculation and rule
// evaluation into wallet-level operations: single-wallet evaluation, the
// batch driver over a whole dataset and the two-sided online check.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/history"
	"github.com/opensource-finance/walletwatch/internal/metrics"
	"github.com/opensource-finance/walletwatch/internal/rules"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "walletwatch-1.0"

var tracer = otel.Tracer("walletwatch-risk")

// Evaluation modes, used as a metrics label.
const (
	ModeOnline = "online"
	ModeBatch  = "batch"
	ModeWallet = "wallet"
)

// Recorder receives one observation per wallet evaluation.
type Recorder interface {
	RecordEvaluation(mode string, m domain.WalletMetrics, d time.Duration)
}

// Service runs the risk pipeline with one fixed rule set.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	cfg      domain.RiskConfig
	opts     metrics.Options
	engine   *rules.Engine
	recorder Recorder
}

// NewService validates cfg and compiles its rule table.
func NewService(cfg domain.RiskConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}

	engine, err := rules.NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}

	return &Service{
		cfg:    cfg,
		opts:   metrics.OptionsFromConfig(cfg),
		engine: engine,
	}, nil
}

// WithRecorder sets the evaluation recorder and returns s.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// Config returns the risk configuration in use.
func (s *Service) Config() domain.RiskConfig {
	return s.cfg
}

// Definitions returns the rule table, in evaluation order.
func (s *Service) Definitions() []domain.RuleDefinition {
	return s.engine.Definitions()
}

// Evaluation pairs a wallet's metrics with the window and rule outcomes
// they were derived from.
type Evaluation struct {
	Window  domain.WalletWindow
	Metrics domain.WalletMetrics
	Results []domain.RuleResult
}

// EvaluateWallet computes the flagged metrics for wallet.
// It returns history.ErrNoHistory when there is nothing to evaluate.
func (s *Service) EvaluateWallet(ctx context.Context, wallet string, txs []domain.Transaction, candidate *domain.Transaction, windowSize int) (domain.WalletMetrics, error) {
	ev, err := s.Evaluate(ctx, wallet, txs, candidate, windowSize)
	if err != nil {
		return domain.WalletMetrics{}, err
	}
	return ev.Metrics, nil
}

// Evaluate is EvaluateWallet keeping the window and per-rule results.
func (s *Service) Evaluate(ctx context.Context, wallet string, txs []domain.Transaction, candidate *domain.Transaction, windowSize int) (Evaluation, error) {
	return s.evaluate(ctx, ModeWallet, wallet, txs, candidate, windowSize)
}

func (s *Service) evaluate(ctx context.Context, mode, wallet string, txs []domain.Transaction, candidate *domain.Transaction, windowSize int) (Evaluation, error) {
	start := time.Now()

	window, err := history.Select(wallet, txs, candidate, windowSize)
	if err != nil {
		return Evaluation{}, err
	}

	m := metrics.Calculate(window, s.opts)

	verdict, err := s.engine.Evaluate(m)
	if err != nil {
		return Evaluation{}, fmt.Errorf("wallet %s: %w", wallet, err)
	}
	m.Fraudulent = verdict.Fraudulent
	m.TriggeredRules = verdict.Triggered

	if s.recorder != nil {
		s.recorder.RecordEvaluation(mode, m, time.Since(start))
	}

	return Evaluation{Window: window, Metrics: m, Results: verdict.Results}, nil
}

// EvaluateBatch evaluates every distinct address in txs without a candidate.
// Rows follow history.Wallets order; wallets with no data are skipped.
// Wallets are evaluated in parallel, bounded by the configured concurrency.
func (s *Service) EvaluateBatch(ctx context.Context, txs []domain.Transaction, windowSize int) ([]domain.WalletMetrics, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: %d", history.ErrInvalidWindowSize, windowSize)
	}

	ctx, span := tracer.Start(ctx, "risk.EvaluateBatch",
		trace.WithAttributes(
			attribute.Int("batch.transactions", len(txs)),
			attribute.Int("batch.window_size", windowSize),
		),
	)
	defer span.End()

	wallets := history.Wallets(txs)
	groups := history.ByWallet(txs)

	rows := make([]domain.WalletMetrics, len(wallets))
	found := make([]bool, len(wallets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)

	for i, wallet := range wallets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ev, err := s.evaluate(gctx, ModeBatch, wallet, groups[wallet], nil, windowSize)
			if errors.Is(err, history.ErrNoHistory) {
				return nil
			}
			if err != nil {
				return err
			}
			rows[i] = ev.Metrics
			found[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("batch evaluation: %w", err)
	}

	out := make([]domain.WalletMetrics, 0, len(rows))
	flagged := 0
	for i, ok := range found {
		if !ok {
			continue
		}
		if rows[i].Fraudulent {
			flagged++
		}
		out = append(out, rows[i])
	}

	span.SetAttributes(
		attribute.Int("batch.wallets", len(out)),
		attribute.Int("batch.flagged", flagged),
	)
	return out, nil
}
