package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// MetricsHeader is the legacy per-wallet report layout. total_input_btc is
// what the wallet sent and total_output_btc what it received.
var MetricsHeader = []string{
	"wallet_address",
	"mean_transaction_amount_btc",
	"average_time_interval_seconds",
	"unique_senders",
	"unique_receivers",
	"total_input_btc",
	"total_output_btc",
	"ratio_in_out",
	"big_transactions_count",
	"small_transactions_count",
	"big_txn_sum_small_txn_sum_ratio",
	"fraudulent_transaction_flag",
}

// WriteMetricsFile writes rows to path, replacing any existing file.
func WriteMetricsFile(path string, rows []domain.WalletMetrics) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	if err := WriteMetrics(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteMetrics writes one CSV row per wallet. Undefined ratios are empty cells.
func WriteMetrics(w io.Writer, rows []domain.WalletMetrics) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(MetricsHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, m := range rows {
		flag := "0"
		if m.Fraudulent {
			flag = "1"
		}
		record := []string{
			m.Wallet,
			m.MeanAmount.String(),
			strconv.FormatFloat(m.IntervalSeconds, 'f', -1, 64),
			strconv.Itoa(m.UniqueSenders),
			strconv.Itoa(m.UniqueReceivers),
			m.TotalSent.String(),
			m.TotalReceived.String(),
			nullable(m.RatioInOut),
			strconv.Itoa(m.BigCount),
			strconv.Itoa(m.SmallCount),
			nullable(m.BigSmallRatio),
			flag,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", m.Wallet, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func nullable(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
