// Package domain defines the core interfaces and types for Walletwatch.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// It plays the role of the transaction store for the risk core.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	SaveTransactions(ctx context.Context, txs []Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)

	// ListWalletTransactions returns the most recent limit transactions where
	// the wallet is sender or receiver, in chronological (insertion) order.
	ListWalletTransactions(ctx context.Context, wallet string, limit int) ([]Transaction, error)

	// Assessment results
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)

	// Batch jobs
	SaveBatchJob(ctx context.Context, job *BatchJob) error
	GetBatchJob(ctx context.Context, id string) (*BatchJob, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
