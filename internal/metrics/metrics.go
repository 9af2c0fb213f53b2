// Package metrics derives behavioral statistics for a wallet window.
package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// Options controls the parts of the calculation that vary per rule-set version.
type Options struct {
	IntervalPolicy  domain.IntervalPolicy
	BigTxnThreshold decimal.Decimal
}

// OptionsFromConfig builds Options out of the risk configuration.
func OptionsFromConfig(cfg domain.RiskConfig) Options {
	return Options{
		IntervalPolicy:  cfg.IntervalPolicy,
		BigTxnThreshold: decimal.NewFromFloat(cfg.BigTxnThreshold),
	}
}

// Calculate computes the statistic set for window from the point of view of
// window.Wallet. The fraud flag and triggered rules are left unset; they are
// filled in by the rule evaluator.
//
// An empty window yields zero values with both ratios undefined.
func Calculate(window domain.WalletWindow, opts Options) domain.WalletMetrics {
	wallet := window.Wallet
	txs := window.Transactions

	m := domain.WalletMetrics{
		Wallet:          wallet,
		WindowSize:      len(txs),
		IntervalPolicy:  opts.IntervalPolicy,
		IntervalSeconds: Interval(txs, opts.IntervalPolicy),
	}

	senders := make(map[string]struct{})
	receivers := make(map[string]struct{})
	total := decimal.Zero

	for _, tx := range txs {
		total = total.Add(tx.Amount)

		if tx.Receiver == wallet {
			senders[tx.Sender] = struct{}{}
			m.TotalReceived = m.TotalReceived.Add(tx.Amount)
		}
		if tx.Sender == wallet {
			receivers[tx.Receiver] = struct{}{}
			m.TotalSent = m.TotalSent.Add(tx.Amount)
		}

		if tx.Amount.GreaterThanOrEqual(opts.BigTxnThreshold) {
			m.BigCount++
			m.BigSum = m.BigSum.Add(tx.Amount)
		} else {
			m.SmallCount++
			m.SmallSum = m.SmallSum.Add(tx.Amount)
		}
	}

	if len(txs) > 0 {
		m.MeanAmount = total.Div(decimal.NewFromInt(int64(len(txs))))
	}

	m.UniqueSenders = len(senders)
	m.UniqueReceivers = len(receivers)
	m.RatioInOut = ratio(m.TotalSent, m.TotalReceived)
	m.BigSmallRatio = ratio(m.BigSum, m.SmallSum)

	return m
}

// Interval returns the interval statistic in seconds for a chronologically
// ordered slice. Fewer than two transactions yield 0.
func Interval(txs []domain.Transaction, policy domain.IntervalPolicy) float64 {
	if len(txs) < 2 {
		return 0
	}

	span := txs[len(txs)-1].Timestamp.Sub(txs[0].Timestamp).Seconds()
	if policy == domain.IntervalTotalSpan {
		return span
	}

	var sum float64
	for i := 1; i < len(txs); i++ {
		sum += txs[i].Timestamp.Sub(txs[i-1].Timestamp).Seconds()
	}
	return sum / float64(len(txs)-1)
}

// ratio divides num by den; the result is invalid when den is exactly zero.
func ratio(num, den decimal.Decimal) decimal.NullDecimal {
	if den.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(num.Div(den))
}
