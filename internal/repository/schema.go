package repository

import "fmt"

// Schema definitions for the Walletwatch database.
// Everything except the sequence column is shared by SQLite and PostgreSQL.

// seq preserves insertion order, which breaks timestamp ties in windows.
const (
	seqSQLite   = "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	seqPostgres = "seq BIGSERIAL PRIMARY KEY"
)

// Timestamps used for ordering are stored as Unix nanoseconds so that both
// drivers compare them numerically.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    %s,
    id TEXT NOT NULL UNIQUE,
    sender TEXT NOT NULL,
    receiver TEXT NOT NULL,
    amount TEXT NOT NULL,
    timestamp_ns BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_transactions_receiver ON transactions(receiver, timestamp_ns);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    sender TEXT NOT NULL,
    receiver TEXT NOT NULL,
    status TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    document TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tx ON assessments(tx_id);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status, timestamp);
`

const schemaBatchJobs = `
CREATE TABLE IF NOT EXISTS batch_jobs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    window_size INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    document TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs(status);
`

// AllSchemas returns all schema statements for driver, in order.
func AllSchemas(driver string) []string {
	seq := seqSQLite
	if driver == "postgres" {
		seq = seqPostgres
	}
	return []string{
		fmt.Sprintf(schemaTransactions, seq),
		schemaAssessments,
		schemaBatchJobs,
	}
}
