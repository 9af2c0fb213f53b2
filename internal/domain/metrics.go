package domain

import (
	"github.com/shopspring/decimal"
)

// IntervalPolicy selects how the interval statistic is derived from a window.
type IntervalPolicy string

const (
	// IntervalMeanGap is the mean of consecutive timestamp differences.
	IntervalMeanGap IntervalPolicy = "mean_gap"

	// IntervalTotalSpan is the distance between the first and last timestamp.
	IntervalTotalSpan IntervalPolicy = "total_span"
)

// Valid reports whether p is a known policy.
func (p IntervalPolicy) Valid() bool {
	return p == IntervalMeanGap || p == IntervalTotalSpan
}

// WalletMetrics is the derived statistic set for one wallet and window,
// together with the fraud flag. Values are computed once and never mutated.
//
// Naming is fixed from the wallet's point of view: TotalSent is what the
// wallet paid out (legacy "input"), TotalReceived is what it was paid
// (legacy "output").
type WalletMetrics struct {
	Wallet     string `json:"wallet"`
	WindowSize int    `json:"windowSize"`

	MeanAmount decimal.Decimal `json:"meanAmount"`

	IntervalSeconds float64        `json:"intervalSeconds"`
	IntervalPolicy  IntervalPolicy `json:"intervalPolicy"`

	UniqueSenders   int `json:"uniqueSenders"`
	UniqueReceivers int `json:"uniqueReceivers"`

	TotalSent     decimal.Decimal `json:"totalSent"`
	TotalReceived decimal.Decimal `json:"totalReceived"`

	// RatioInOut is TotalSent / TotalReceived; invalid when nothing was received.
	RatioInOut decimal.NullDecimal `json:"ratioInOut"`

	BigCount   int             `json:"bigTransactionsCount"`
	BigSum     decimal.Decimal `json:"bigTransactionsSum"`
	SmallCount int             `json:"smallTransactionsCount"`
	SmallSum   decimal.Decimal `json:"smallTransactionsSum"`

	// BigSmallRatio is BigSum / SmallSum; invalid when SmallSum is zero.
	// Explanatory only, it does not gate the flag.
	BigSmallRatio decimal.NullDecimal `json:"bigSmallRatio"`

	// TriggeredRules lists the IDs of violated rules in rule-table order.
	TriggeredRules []string `json:"triggeredRules,omitempty"`

	Fraudulent bool `json:"fraudulent"`
}
