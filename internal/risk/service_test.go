package risk

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/history"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func tx(id, sender, receiver, amount string, offset time.Duration) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Amount:    decimal.RequireFromString(amount),
		Timestamp: t0.Add(offset),
	}
}

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(domain.DefaultRiskConfig())
	require.NoError(t, err)
	return svc
}

// hourly builds n transactions of amount 1 from sender to receiver, one hour apart.
func hourly(n int, sender, receiver string) []domain.Transaction {
	txs := make([]domain.Transaction, n)
	for i := range txs {
		txs[i] = tx(fmt.Sprintf("t%02d", i), sender, receiver, "1", time.Duration(i)*time.Hour)
	}
	return txs
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	cfg.IntervalPolicy = "median"

	_, err := NewService(cfg)
	assert.Error(t, err)
}

func TestEvaluateWalletSelfTransfer(t *testing.T) {
	svc := newService(t)

	m, err := svc.EvaluateWallet(context.Background(), "alice",
		[]domain.Transaction{tx("1", "alice", "alice", "10", 0)}, nil, 20)
	require.NoError(t, err)

	assert.Equal(t, 1, m.WindowSize)
	assert.Equal(t, float64(0), m.IntervalSeconds)
	assert.Equal(t, 1, m.UniqueSenders)
	assert.Equal(t, 1, m.UniqueReceivers)
	assert.True(t, m.MeanAmount.Equal(decimal.NewFromInt(10)))

	// Amount is below the mean threshold; the zero interval trips the rule set.
	assert.True(t, m.Fraudulent)
	assert.Equal(t, []string{domain.RuleIntervalTooShort}, m.TriggeredRules)
}

func TestEvaluateWalletTruncatesHistory(t *testing.T) {
	svc := newService(t)
	txs := hourly(21, "alice", "bob")

	ev, err := svc.Evaluate(context.Background(), "alice", txs, nil, 20)
	require.NoError(t, err)

	require.Equal(t, 20, ev.Window.Len())
	assert.Equal(t, "t01", ev.Window.Transactions[0].ID)
	assert.Equal(t, 20, ev.Metrics.WindowSize)
	assert.InDelta(t, 3600, ev.Metrics.IntervalSeconds, 1e-9)
	assert.True(t, ev.Metrics.MeanAmount.Equal(decimal.NewFromInt(1)))
	assert.Len(t, ev.Results, 5)
}

func TestEvaluateWalletWithCandidate(t *testing.T) {
	svc := newService(t)
	txs := hourly(20, "alice", "bob")
	candidate := tx("cand", "alice", "bob", "2", 30*time.Hour)

	ev, err := svc.Evaluate(context.Background(), "alice", txs, &candidate, 20)
	require.NoError(t, err)

	assert.Equal(t, 21, ev.Window.Len())
	assert.True(t, ev.Window.HasCandidate)
	assert.Equal(t, "cand", ev.Window.Transactions[20].ID)
	assert.Equal(t, 21, ev.Metrics.WindowSize)
}

func TestEvaluateWalletNoHistory(t *testing.T) {
	svc := newService(t)

	_, err := svc.EvaluateWallet(context.Background(), "zed", hourly(3, "alice", "bob"), nil, 20)
	assert.ErrorIs(t, err, history.ErrNoHistory)
}

func TestEvaluateWalletNothingReceivedIsFlagged(t *testing.T) {
	svc := newService(t)

	// Slow, small and few counterparties: only the undefined ratio can trip.
	txs := []domain.Transaction{
		tx("1", "alice", "bob", "1", 0),
		tx("2", "alice", "carol", "1", 24*time.Hour),
	}

	m, err := svc.EvaluateWallet(context.Background(), "alice", txs, nil, 20)
	require.NoError(t, err)

	assert.True(t, m.TotalReceived.IsZero())
	assert.False(t, m.RatioInOut.Valid)
	assert.True(t, m.Fraudulent)
	assert.Equal(t, []string{domain.RuleRatioOutOfRange}, m.TriggeredRules)
}

func TestEvaluateWalletCleanWallet(t *testing.T) {
	svc := newService(t)

	txs := []domain.Transaction{
		tx("1", "bob", "alice", "2", 0),
		tx("2", "alice", "carol", "2", 24*time.Hour),
		tx("3", "dave", "alice", "3", 48*time.Hour),
		tx("4", "alice", "erin", "3", 72*time.Hour),
	}

	m, err := svc.EvaluateWallet(context.Background(), "alice", txs, nil, 20)
	require.NoError(t, err)

	assert.False(t, m.Fraudulent)
	assert.Empty(t, m.TriggeredRules)
}

func TestEvaluateWalletIsIdempotent(t *testing.T) {
	svc := newService(t)
	txs := []domain.Transaction{
		tx("1", "bob", "alice", "0.3", 0),
		tx("2", "alice", "carol", "7.25", 90*time.Minute),
		tx("3", "alice", "dave", "1.5", 3*time.Hour),
	}

	first, err := svc.EvaluateWallet(context.Background(), "alice", txs, nil, 20)
	require.NoError(t, err)
	second, err := svc.EvaluateWallet(context.Background(), "alice", txs, nil, 20)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEvaluateBatchOrderAndSkips(t *testing.T) {
	svc := newService(t)
	txs := []domain.Transaction{
		tx("1", "bob", "alice", "1", 0),
		tx("2", "carol", "bob", "1", time.Hour),
		tx("3", "bob", "dave", "1", 2*time.Hour),
	}

	rows, err := svc.EvaluateBatch(context.Background(), txs, 20)
	require.NoError(t, err)

	var wallets []string
	for _, r := range rows {
		wallets = append(wallets, r.Wallet)
	}
	assert.Equal(t, []string{"bob", "carol", "alice", "dave"}, wallets)

	for _, r := range rows {
		single, err := svc.EvaluateWallet(context.Background(), r.Wallet, txs, nil, 20)
		require.NoError(t, err)
		assert.Equal(t, single, r, "wallet %s", r.Wallet)
	}
}

func TestEvaluateBatchDeterministicUnderConcurrency(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	cfg.BatchConcurrency = 4
	svc, err := NewService(cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	var txs []domain.Transaction
	for i := 0; i < 300; i++ {
		s := fmt.Sprintf("w%02d", rng.Intn(40))
		r := fmt.Sprintf("w%02d", rng.Intn(40))
		amount := decimal.NewFromInt(int64(rng.Intn(500))).Div(decimal.NewFromInt(10))
		txs = append(txs, domain.Transaction{
			ID:        fmt.Sprintf("%03d", i),
			Sender:    s,
			Receiver:  r,
			Amount:    amount,
			Timestamp: t0.Add(time.Duration(rng.Intn(72)) * time.Hour),
		})
	}

	first, err := svc.EvaluateBatch(context.Background(), txs, 10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.EvaluateBatch(context.Background(), txs, 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Len(t, first, len(history.Wallets(txs)))
}

func TestEvaluateBatchStableOnTimestampTies(t *testing.T) {
	svc := newService(t)

	// Same timestamps; the window keeps input order, so the last two rows win.
	txs := []domain.Transaction{
		tx("a", "alice", "bob", "100", 0),
		tx("b", "alice", "bob", "1", 0),
		tx("c", "alice", "bob", "1", 0),
	}

	rows, err := svc.EvaluateBatch(context.Background(), txs, 2)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "alice", rows[0].Wallet)
	assert.True(t, rows[0].MeanAmount.Equal(decimal.NewFromInt(1)))
}

func TestEvaluateBatchInvalidWindow(t *testing.T) {
	svc := newService(t)

	_, err := svc.EvaluateBatch(context.Background(), hourly(2, "a", "b"), 0)
	assert.ErrorIs(t, err, history.ErrInvalidWindowSize)
}

func TestEvaluateBatchCancelled(t *testing.T) {
	svc := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.EvaluateBatch(ctx, hourly(5, "a", "b"), 20)
	assert.True(t, errors.Is(err, context.Canceled))
}

type recorderFunc func(mode string, m domain.WalletMetrics, d time.Duration)

func (f recorderFunc) RecordEvaluation(mode string, m domain.WalletMetrics, d time.Duration) {
	f(mode, m, d)
}

func TestRecorderReceivesEvaluations(t *testing.T) {
	var modes []string
	svc := newService(t).WithRecorder(recorderFunc(func(mode string, _ domain.WalletMetrics, _ time.Duration) {
		modes = append(modes, mode)
	}))

	_, err := svc.EvaluateWallet(context.Background(), "alice", hourly(2, "alice", "bob"), nil, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{ModeWallet}, modes)
}
