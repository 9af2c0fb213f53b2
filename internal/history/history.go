// Package history selects the bounded, chronological transaction window
// for a single wallet.
package history

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// DefaultWindowSize is the number of most recent transactions kept per wallet.
const DefaultWindowSize = 20

var (
	// ErrNoHistory signals that the wallet has no related transactions.
	// It is an absence result, not a failure.
	ErrNoHistory = errors.New("no data for wallet")

	// ErrInvalidWindowSize is returned for a non-positive window size.
	ErrInvalidWindowSize = errors.New("window size must be positive")

	// ErrCandidateMismatch is returned when the candidate does not involve the wallet.
	ErrCandidateMismatch = errors.New("candidate transaction does not involve wallet")
)

// indexed pairs a transaction with its input position for stable ordering.
type indexed struct {
	tx  domain.Transaction
	pos int
}

// Select builds the window for wallet out of history.
//
// Related transactions are ordered by (timestamp, input position) and the most
// recent windowSize are kept. This equals sorting newest first and taking the
// first windowSize, with one tie rule: when transactions sharing a timestamp
// straddle the cut, those later in the input are kept.
//
// A non-nil candidate is appended after that truncation and before the final
// chronological sort, so it is always part of the window and the result may
// hold windowSize+1 transactions.
//
// The history slice is never modified.
func Select(wallet string, txs []domain.Transaction, candidate *domain.Transaction, windowSize int) (domain.WalletWindow, error) {
	if windowSize <= 0 {
		return domain.WalletWindow{}, fmt.Errorf("%w: %d", ErrInvalidWindowSize, windowSize)
	}
	if candidate != nil && !candidate.Involves(wallet) {
		return domain.WalletWindow{}, fmt.Errorf("%w: %s", ErrCandidateMismatch, wallet)
	}

	related := make([]indexed, 0, windowSize+1)
	for i, tx := range txs {
		if tx.Involves(wallet) {
			related = append(related, indexed{tx: tx, pos: i})
		}
	}

	if len(related) == 0 && candidate == nil {
		return domain.WalletWindow{}, ErrNoHistory
	}

	sortChronological(related)
	if len(related) > windowSize {
		related = related[len(related)-windowSize:]
	}

	if candidate != nil {
		// Positioned after every history row so that a timestamp tie keeps it last.
		related = append(related, indexed{tx: *candidate, pos: len(txs)})
		sortChronological(related)
	}

	window := domain.WalletWindow{
		Wallet:       wallet,
		Transactions: make([]domain.Transaction, len(related)),
		HasCandidate: candidate != nil,
	}
	for i, r := range related {
		window.Transactions[i] = r.tx
	}

	return window, nil
}

// Wallets returns every distinct address in txs: senders in input order
// first, then receivers not yet seen.
func Wallets(txs []domain.Transaction) []string {
	seen := make(map[string]struct{}, len(txs))
	wallets := make([]string, 0, len(txs))

	add := func(addr string) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		wallets = append(wallets, addr)
	}

	for _, tx := range txs {
		add(tx.Sender)
	}
	for _, tx := range txs {
		add(tx.Receiver)
	}
	return wallets
}

// ByWallet groups txs by every address they involve, keeping input order
// within each group. A self-transfer is listed once under its address.
//
// Selecting from a group gives the same window as selecting from txs, which
// lets batch runs avoid rescanning the full dataset per wallet.
func ByWallet(txs []domain.Transaction) map[string][]domain.Transaction {
	groups := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		groups[tx.Sender] = append(groups[tx.Sender], tx)
		if tx.Receiver != tx.Sender {
			groups[tx.Receiver] = append(groups[tx.Receiver], tx)
		}
	}
	return groups
}

func sortChronological(rows []indexed) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].tx.Timestamp.Equal(rows[j].tx.Timestamp) {
			return rows[i].pos < rows[j].pos
		}
		return rows[i].tx.Timestamp.Before(rows[j].tx.Timestamp)
	})
}
