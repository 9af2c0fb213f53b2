package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single transfer between two wallet addresses.
// Transactions are treated as immutable once loaded.
type Transaction struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Involves reports whether the wallet is the sender or the receiver.
func (t Transaction) Involves(wallet string) bool {
	return t.Sender == wallet || t.Receiver == wallet
}

// TransactionRequest is the API payload for an online AML check.
// Timestamp is kept as a string so both ISO 8601 and Unix seconds are accepted.
type TransactionRequest struct {
	ID        string          `json:"id,omitempty"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp string          `json:"timestamp"`
}

// WalletWindow is the bounded, time-ordered slice of transactions relevant
// to one wallet. Transactions are chronologically non-decreasing.
type WalletWindow struct {
	Wallet       string        `json:"wallet"`
	Transactions []Transaction `json:"transactions"`

	// HasCandidate is true when a not-yet-committed transaction was merged in.
	HasCandidate bool `json:"hasCandidate"`
}

// Len returns the number of transactions in the window.
func (w WalletWindow) Len() int {
	return len(w.Transactions)
}
