// Package loader reads transaction datasets from CSV, validates them and
// writes per-wallet metrics back out in the legacy report layout.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// Dataset column names.
const (
	ColumnSender    = "input_address"
	ColumnReceiver  = "output_address"
	ColumnAmount    = "transaction_value_btc"
	ColumnTimestamp = "timestamp"
	ColumnID        = "id"
)

var requiredColumns = []string{ColumnSender, ColumnReceiver, ColumnAmount, ColumnTimestamp}

// ValidationError describes a malformed dataset or payload. It matches
// domain.ErrInvalidInput with errors.Is.
type ValidationError struct {
	Line   int // 1-based CSV line, 0 when not applicable
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrInvalidInput
}

// LoadFile reads and validates the CSV dataset at path.
func LoadFile(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read parses a CSV dataset. Every row must be valid; the first bad row
// aborts the load with a *ValidationError. Rows without an id column get a
// generated one.
func Read(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Field: "header", Reason: "empty dataset"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Field: "header", Reason: "missing required columns: " + strings.Join(missing, ", ")}
	}
	idCol, hasID := colIndex[ColumnID]

	var txs []domain.Transaction
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &ValidationError{Line: perr.Line, Field: "row", Reason: perr.Err.Error()}
			}
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		tx, err := parseRecord(record, colIndex)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verr.Line = line
			}
			return nil, err
		}

		if hasID && strings.TrimSpace(record[idCol]) != "" {
			tx.ID = strings.TrimSpace(record[idCol])
		} else {
			tx.ID = uuid.NewString()
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

func parseRecord(record []string, colIndex map[string]int) (domain.Transaction, error) {
	field := func(col string) string {
		return strings.TrimSpace(record[colIndex[col]])
	}

	amount, err := ParseAmount(field(ColumnAmount))
	if err != nil {
		return domain.Transaction{}, err
	}
	ts, err := ParseTimestamp(field(ColumnTimestamp))
	if err != nil {
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		Sender:    field(ColumnSender),
		Receiver:  field(ColumnReceiver),
		Amount:    amount,
		Timestamp: ts,
	}
	return tx, Validate(tx)
}

// Validate checks the invariants every stored transaction must hold.
func Validate(tx domain.Transaction) error {
	if tx.Sender == "" {
		return &ValidationError{Field: ColumnSender, Reason: "address is empty"}
	}
	if tx.Receiver == "" {
		return &ValidationError{Field: ColumnReceiver, Reason: "address is empty"}
	}
	if tx.Amount.IsNegative() {
		return &ValidationError{Field: ColumnAmount, Reason: "amount is negative"}
	}
	if tx.Timestamp.IsZero() {
		return &ValidationError{Field: ColumnTimestamp, Reason: "timestamp is missing"}
	}
	if !storable(tx.Timestamp) {
		return &ValidationError{Field: ColumnTimestamp, Reason: "timestamp out of range"}
	}
	return nil
}

// ParseAmount parses a non-negative decimal amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, &ValidationError{Field: ColumnAmount, Reason: "amount is empty"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Field: ColumnAmount, Reason: fmt.Sprintf("unparsable amount %q", s)}
	}
	if d.IsNegative() {
		return decimal.Decimal{}, &ValidationError{Field: ColumnAmount, Reason: "amount is negative"}
	}
	return d, nil
}

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Timestamps are stored as Unix nanoseconds, which bounds the usable range
// to roughly 1677-09-21 .. 2262-04-11.
var (
	earliestTimestamp = time.Unix(0, math.MinInt64).UTC()
	latestTimestamp   = time.Unix(0, math.MaxInt64).UTC()
)

func storable(ts time.Time) bool {
	return !ts.Before(earliestTimestamp) && !ts.After(latestTimestamp)
}

// ParseTimestamp accepts ISO 8601 / RFC 3339 instants, naive date-times
// (read as UTC) and Unix seconds. The result is in UTC and representable
// as Unix nanoseconds; anything else is a ValidationError.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &ValidationError{Field: ColumnTimestamp, Reason: "timestamp is empty"}
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) ||
			secs < float64(earliestTimestamp.Unix()) || secs > float64(latestTimestamp.Unix()) {
			return time.Time{}, &ValidationError{Field: ColumnTimestamp, Reason: fmt.Sprintf("timestamp %q out of range", s)}
		}
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * float64(time.Second))
		return checkRange(s, time.Unix(whole, nanos).UTC())
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return checkRange(s, ts.UTC())
		}
	}

	return time.Time{}, &ValidationError{Field: ColumnTimestamp, Reason: fmt.Sprintf("unparsable timestamp %q", s)}
}

func checkRange(s string, ts time.Time) (time.Time, error) {
	if !storable(ts) {
		return time.Time{}, &ValidationError{Field: ColumnTimestamp, Reason: fmt.Sprintf("timestamp %q out of range", s)}
	}
	return ts, nil
}
