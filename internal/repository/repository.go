// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const insertTransaction = `
	INSERT INTO transactions (id, sender, receiver, amount, timestamp_ns, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING
`

// SaveTransaction stores a transaction. Saving an existing ID is a no-op.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := checkTransaction(tx); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, r.rebind(insertTransaction), transactionArgs(tx)...)
	return err
}

// SaveTransactions stores txs in one database transaction, keeping their
// order as insertion order.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []domain.Transaction) error {
	for i := range txs {
		if err := checkTransaction(&txs[i]); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(insertTransaction))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range txs {
		if _, err := stmt.ExecContext(ctx, transactionArgs(&txs[i])...); err != nil {
			return fmt.Errorf("failed to insert %s: %w", txs[i].ID, err)
		}
	}

	return dbTx.Commit()
}

func checkTransaction(tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if tx.Sender == "" || tx.Receiver == "" {
		return fmt.Errorf("%w: sender and receiver are required", ErrInvalidInput)
	}
	return nil
}

func transactionArgs(tx *domain.Transaction) []any {
	return []any{
		tx.ID, tx.Sender, tx.Receiver,
		tx.Amount.String(),
		tx.Timestamp.UTC().UnixNano(),
		time.Now().UTC(),
	}
}

const selectTransaction = `SELECT id, sender, receiver, amount, timestamp_ns FROM transactions`

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectTransaction+` WHERE id = ?`), txID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns every stored transaction in insertion order.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, selectTransaction+` ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListWalletTransactions returns the most recent limit transactions of
// wallet, oldest first. Rows sharing a timestamp keep insertion order.
func (r *SQLRepository) ListWalletTransactions(ctx context.Context, wallet string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := selectTransaction + `
		WHERE sender = ? OR receiver = ?
		ORDER BY timestamp_ns DESC, seq DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), wallet, wallet, limit)
	if err != nil {
		return nil, err
	}

	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount string
	var tsNano int64

	if err := s.Scan(&tx.ID, &tx.Sender, &tx.Receiver, &amount, &tsNano); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: corrupt amount %q: %w", tx.ID, amount, err)
	}
	tx.Amount = d
	tx.Timestamp = time.Unix(0, tsNano).UTC()

	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// SaveAssessment stores an online check result.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (id, tx_id, sender, receiver, status, timestamp, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.Candidate.ID, a.Candidate.Sender, a.Candidate.Receiver,
		a.Status, a.Timestamp, string(doc),
	)
	return err
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT document FROM assessments WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var a domain.Assessment
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("failed to decode assessment %s: %w", id, err)
	}
	return &a, nil
}

// SaveBatchJob inserts or replaces a batch job.
func (r *SQLRepository) SaveBatchJob(ctx context.Context, job *domain.BatchJob) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode batch job: %w", err)
	}

	query := `
		INSERT INTO batch_jobs (id, status, window_size, created_at, document)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			document = excluded.document
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		job.ID, job.Status, job.WindowSize, job.CreatedAt, string(doc),
	)
	return err
}

// GetBatchJob retrieves a batch job by ID.
func (r *SQLRepository) GetBatchJob(ctx context.Context, id string) (*domain.BatchJob, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT document FROM batch_jobs WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var job domain.BatchJob
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return nil, fmt.Errorf("failed to decode batch job %s: %w", id, err)
	}
	return &job, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
