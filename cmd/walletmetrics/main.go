// Walletwatch - Wallet risk scoring for on-chain transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Walletmetrics derives per-wallet metrics from a transaction CSV.
//
// Usage:
//
//	walletmetrics -txs transactions.csv -out wallet_metrics.csv -n_last 20
//
// Thresholds come from the same WALLETWATCH_* variables as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/walletwatch/internal/config"
	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/loader"
	"github.com/opensource-finance/walletwatch/internal/risk"
)

func main() {
	txsPath := flag.String("txs", "", "Path to the transaction CSV")
	outPath := flag.String("out", "wallet_metrics.csv", "Path of the metrics CSV to write")
	nLast := flag.Int("n_last", 0, "Transactions per wallet window (0 = configured window size)")
	verbose := flag.Bool("verbose", false, "Print every flagged wallet")
	flag.Parse()

	if *txsPath == "" {
		fmt.Println("Usage: walletmetrics -txs /path/to/transactions.csv [-out wallet_metrics.csv] [-n_last 20]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(*txsPath, *outPath, *nLast, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(txsPath, outPath string, nLast int, verbose bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if nLast == 0 {
		nLast = cfg.Risk.WindowSize
	}

	svc, err := risk.NewService(cfg.Risk)
	if err != nil {
		return err
	}

	txs, err := loader.LoadFile(txsPath)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d transactions from %s\n", len(txs), txsPath)

	start := time.Now()
	rows, err := svc.EvaluateBatch(context.Background(), txs, nLast)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := loader.WriteMetricsFile(outPath, rows); err != nil {
		return err
	}

	printSummary(rows, nLast, elapsed, verbose)
	fmt.Printf("\nWrote %s\n", outPath)
	return nil
}

func printSummary(rows []domain.WalletMetrics, nLast int, elapsed time.Duration, verbose bool) {
	flagged := 0
	hits := make(map[string]int)
	for _, m := range rows {
		if !m.Fraudulent {
			continue
		}
		flagged++
		for _, id := range m.TriggeredRules {
			hits[id]++
		}
		if verbose {
			fmt.Printf("  FLAGGED %-42s %v\n", m.Wallet, m.TriggeredRules)
		}
	}

	fmt.Printf("\nWallets:   %d\n", len(rows))
	fmt.Printf("Window:    %d\n", nLast)
	if len(rows) > 0 {
		fmt.Printf("Flagged:   %d (%.2f%%)\n", flagged, 100*float64(flagged)/float64(len(rows)))
	}
	fmt.Printf("Duration:  %s\n", elapsed.Round(time.Millisecond))

	if flagged == 0 {
		return
	}
	fmt.Println("\nRule violations:")
	for _, id := range []string{
		domain.RuleMeanAmountHigh,
		domain.RuleIntervalTooShort,
		domain.RuleUniqueSendersHigh,
		domain.RuleUniqueReceiversHigh,
		domain.RuleRatioOutOfRange,
	} {
		fmt.Printf("  %-28s %d\n", id, hits[id])
	}
}
