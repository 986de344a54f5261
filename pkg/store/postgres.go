package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	savings_balance TEXT NOT NULL DEFAULT '0',
	fd_balance TEXT NOT NULL DEFAULT '0',
	loan_balance TEXT NOT NULL DEFAULT '0',
	accrued_savings_interest TEXT NOT NULL DEFAULT '0',
	accrued_fd_interest TEXT NOT NULL DEFAULT '0',
	accrued_loan_interest TEXT NOT NULL DEFAULT '0',
	last_accrual_at TIMESTAMPTZ,
	last_interest_calc_at TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	kind TEXT NOT NULL,
	amount TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	note TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, timestamp, seq);
CREATE TABLE IF NOT EXISTS rate_schemes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	annual_rate_percent TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS rate_versions (
	seq BIGSERIAL PRIMARY KEY,
	scheme_name TEXT NOT NULL,
	annual_rate_percent TEXT NOT NULL,
	effective_from TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_versions_name ON rate_versions(scheme_name, effective_from);
`

// NewPostgresStore connects to PostgreSQL and initializes the schema.
// Units of work lock account rows with SELECT ... FOR UPDATE.
func NewPostgresStore(connStr string) (*SQLStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.initSchema(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("database connection established and schema initialized", "driver", "postgres")
	return s, nil
}

// postgresUniqueViolation matches SQLSTATE 23505.
func postgresUniqueViolation(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == "23505"
}
