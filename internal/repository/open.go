package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/resilience"
)

// connectRetry covers a database container that is still starting.
var connectRetry = resilience.Config{
	MaxRetries:     4,
	InitialBackoff: 500 * time.Millisecond,
}

// open resolves the driver and DSN for cfg and waits until the database
// answers a ping.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	var driverName, dsn string
	var err error

	switch cfg.Driver {
	case "sqlite":
		driverName = "sqlite"
		dsn, err = sqliteDSN(cfg.SQLitePath)
	case "postgres":
		driverName = "postgres"
		dsn = postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", domain.ErrInvalidInput, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent saves.
	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = resilience.RetryWithBackoff(ctx, connectRetry, func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	return db, nil
}

// sqliteDSN creates the parent directory of path and returns a DSN with WAL
// journaling. modernc.org/sqlite needs no CGO.
func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = "./walletwatch.db"
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode(), nil
}

// postgresDSN builds a postgres:// URL so credentials are escaped.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "walletwatch"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}
