package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	savings_balance TEXT NOT NULL DEFAULT '0',
	fd_balance TEXT NOT NULL DEFAULT '0',
	loan_balance TEXT NOT NULL DEFAULT '0',
	accrued_savings_interest TEXT NOT NULL DEFAULT '0',
	accrued_fd_interest TEXT NOT NULL DEFAULT '0',
	accrued_loan_interest TEXT NOT NULL DEFAULT '0',
	last_accrual_at DATETIME,
	last_interest_calc_at DATETIME,
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	amount TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, timestamp, seq);
CREATE TABLE IF NOT EXISTS rate_schemes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	annual_rate_percent TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS rate_versions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	scheme_name TEXT NOT NULL,
	annual_rate_percent TEXT NOT NULL,
	effective_from DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_versions_name ON rate_versions(scheme_name, effective_from);
`

// NewSQLiteStore creates a new SQLStore on an SQLite file and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// WAL lets readers proceed while a unit of work holds the write lock.
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.initSchema(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("database connection established and schema initialized", "driver", "sqlite3")
	return s, nil
}

// sqliteDSN enables foreign keys on every pooled connection and makes each
// transaction take the write lock up front (BEGIN IMMEDIATE), which is what
// serializes concurrent units of work on the same file.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

func sqliteUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
