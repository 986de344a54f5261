package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/shopspring/decimal"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Storage on database/sql. The same queries serve SQLite
// and PostgreSQL; placeholders are written as ? and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

const accountColumns = `id, name, savings_balance, fd_balance, loan_balance, accrued_savings_interest, accrued_fd_interest, accrued_loan_interest, last_accrual_at, last_interest_calc_at, version, created_at, updated_at`

const transactionColumns = `seq, id, account_id, kind, amount, timestamp, note`

const schemeColumns = `id, name, annual_rate_percent, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) initSchema(schema string) error {
	_, err := s.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lockClause is appended to row reads inside a unit of work. SQLite already
// holds the database write lock from BEGIN IMMEDIATE.
func (s *SQLStore) lockClause() string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLStore) isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if s.dialect == dialectPostgres {
		return postgresUniqueViolation(err)
	}
	return sqliteUniqueViolation(err)
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var idStr string
	var lastAccrual, lastCalc sql.NullTime
	var created, updated time.Time
	err := row.Scan(&idStr, &a.Name, &a.SavingsBalance, &a.FDBalance, &a.LoanBalance,
		&a.AccruedSavingsInterest, &a.AccruedFDInterest, &a.AccruedLoanInterest,
		&lastAccrual, &lastCalc, &a.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", idStr, err)
	}
	a.ID = id
	a.CreatedAt = created.UTC()
	a.UpdatedAt = updated.UTC()
	if lastAccrual.Valid {
		t := lastAccrual.Time.UTC()
		a.LastAccrualAt = &t
	}
	if lastCalc.Valid {
		t := lastCalc.Time.UTC()
		a.LastInterestCalcAt = &t
	}
	return &a, nil
}

func scanAccounts(rows *sql.Rows) ([]*models.Account, error) {
	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return accounts, nil
}

// scanTransactions reads rows ordered by seq and returns them in ledger order.
func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		var idStr, accountIDStr, kind string
		var ts time.Time
		if err := rows.Scan(&t.Seq, &idStr, &accountIDStr, &kind, &t.Amount, &ts, &t.Note); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		t.ID = uuid.MustParse(idStr)
		t.AccountID = uuid.MustParse(accountIDStr)
		t.Kind = models.TransactionKind(kind)
		t.Timestamp = ts.UTC()
		txs = append(txs, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })
	return txs, nil
}

func scanScheme(row rowScanner) (*models.RateScheme, error) {
	var sc models.RateScheme
	var idStr, name string
	var created, updated time.Time
	if err := row.Scan(&idStr, &name, &sc.AnnualRatePercent, &created, &updated); err != nil {
		return nil, err
	}
	sc.ID = uuid.MustParse(idStr)
	sc.Name = models.SchemeName(name)
	sc.CreatedAt = created.UTC()
	sc.UpdatedAt = updated.UTC()
	return &sc, nil
}

// CreateAccount inserts a new account.
func (s *SQLStore) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		account.ID.String(), account.Name, account.SavingsBalance, account.FDBalance, account.LoanBalance,
		account.AccruedSavingsInterest, account.AccruedFDInterest, account.AccruedLoanInterest,
		utcOrNil(account.LastAccrualAt), utcOrNil(account.LastInterestCalcAt), account.Version,
		account.CreatedAt.UTC(), account.UpdatedAt.UTC(),
	)
	if s.isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, account.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by its ID.
func (s *SQLStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.getAccount(ctx, s.db, id, "")
}

func (s *SQLStore) getAccount(ctx context.Context, q queryer, id uuid.UUID, suffix string) (*models.Account, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`+suffix), id.String())
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetAccountByName retrieves an account by its unique name.
func (s *SQLStore) GetAccountByName(ctx context.Context, name string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE name = ?`), name)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, name)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts retrieves all accounts ordered by creation time.
func (s *SQLStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// DeleteAccount removes an account and its ledger within a transaction.
func (s *SQLStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM transactions WHERE account_id = ?`), id.String()); err != nil {
		return fmt.Errorf("failed to delete associated transactions: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM accounts WHERE id = ?`), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	return tx.Commit()
}

// WithAccounts loads and locks the accounts, runs fn, then writes the accounts
// back guarded by their version and commits together with any appended entries.
func (s *SQLStore) WithAccounts(ctx context.Context, ids []uuid.UUID, fn UnitOfWork) error {
	ordered := sortedIDs(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	accounts := make(map[uuid.UUID]*models.Account, len(ordered))
	versions := make(map[uuid.UUID]int64, len(ordered))
	for _, id := range ordered {
		a, err := s.getAccount(ctx, tx, id, s.lockClause())
		if err != nil {
			return err
		}
		accounts[id] = a
		versions[id] = a.Version
	}

	if err := fn(ctx, &sqlTx{store: s, tx: tx, accounts: accounts}, accounts); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, id := range ordered {
		a := accounts[id]
		if a == nil {
			return fmt.Errorf("account %s removed from unit of work", id)
		}
		result, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE accounts SET savings_balance = ?, fd_balance = ?, loan_balance = ?,
			accrued_savings_interest = ?, accrued_fd_interest = ?, accrued_loan_interest = ?,
			last_accrual_at = ?, last_interest_calc_at = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`),
			a.SavingsBalance, a.FDBalance, a.LoanBalance,
			a.AccruedSavingsInterest, a.AccruedFDInterest, a.AccruedLoanInterest,
			utcOrNil(a.LastAccrualAt), utcOrNil(a.LastInterestCalcAt), now,
			id.String(), versions[id],
		)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrConflict, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, id := range ordered {
		accounts[id].Version = versions[id] + 1
		accounts[id].UpdatedAt = now
	}
	return nil
}

type sqlTx struct {
	store    *SQLStore
	tx       *sql.Tx
	accounts map[uuid.UUID]*models.Account
}

func (t *sqlTx) Transactions(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	return t.store.transactionsFor(ctx, t.tx, accountID)
}

func (t *sqlTx) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, ok := t.accounts[txn.AccountID]; !ok {
		return fmt.Errorf("account %s is not part of this unit of work", txn.AccountID)
	}
	if err := txn.Validate(); err != nil {
		return err
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.Timestamp = txn.Timestamp.UTC()

	s := t.store
	args := []any{txn.ID.String(), txn.AccountID.String(), string(txn.Kind), txn.Amount, txn.Timestamp, txn.Note}
	const insert = `INSERT INTO transactions (id, account_id, kind, amount, timestamp, note) VALUES (?, ?, ?, ?, ?, ?)`

	if s.dialect == dialectPostgres {
		if err := t.tx.QueryRowContext(ctx, s.rebind(insert+` RETURNING seq`), args...).Scan(&txn.Seq); err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
		return nil
	}
	result, err := t.tx.ExecContext(ctx, insert, args...)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction sequence: %w", err)
	}
	txn.Seq = seq
	return nil
}

func (s *SQLStore) transactionsFor(ctx context.Context, q queryer, accountID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`SELECT `+transactionColumns+` FROM transactions WHERE account_id = ? ORDER BY seq`), accountID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// GetTransactionsForAccount retrieves an account's ledger ordered by timestamp, then insertion.
func (s *SQLStore) GetTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	return s.transactionsFor(ctx, s.db, accountID)
}

// GetAllTransactions retrieves every ledger entry across all accounts.
func (s *SQLStore) GetAllTransactions(ctx context.Context) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// CreateScheme inserts a scheme and records its opening rate version.
func (s *SQLStore) CreateScheme(ctx context.Context, scheme *models.RateScheme) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM rate_schemes WHERE name = ?`), string(scheme.Name)).Scan(&count); err != nil {
		return fmt.Errorf("failed to check scheme: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateScheme, scheme.Name)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO rate_schemes (`+schemeColumns+`) VALUES (?, ?, ?, ?, ?)`),
		scheme.ID.String(), string(scheme.Name), scheme.AnnualRatePercent, scheme.CreatedAt.UTC(), scheme.UpdatedAt.UTC())
	if s.isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateScheme, scheme.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create scheme: %w", err)
	}
	if err := s.insertVersion(ctx, tx, scheme.Name, scheme.AnnualRatePercent, scheme.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) insertVersion(ctx context.Context, q queryer, name models.SchemeName, rate decimal.Decimal, at time.Time) error {
	_, err := q.ExecContext(ctx, s.rebind(`INSERT INTO rate_versions (scheme_name, annual_rate_percent, effective_from) VALUES (?, ?, ?)`),
		string(name), rate, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record rate version: %w", err)
	}
	return nil
}

// GetScheme retrieves a scheme by its ID.
func (s *SQLStore) GetScheme(ctx context.Context, id uuid.UUID) (*models.RateScheme, error) {
	return s.getScheme(ctx, s.db, `id = ?`, id.String())
}

// GetSchemeByName retrieves a scheme by its name.
func (s *SQLStore) GetSchemeByName(ctx context.Context, name models.SchemeName) (*models.RateScheme, error) {
	return s.getScheme(ctx, s.db, `name = ?`, string(name))
}

func (s *SQLStore) getScheme(ctx context.Context, q queryer, where string, arg any) (*models.RateScheme, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+schemeColumns+` FROM rate_schemes WHERE `+where), arg)
	sc, err := scanScheme(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", ErrSchemeNotFound, arg)
		}
		return nil, fmt.Errorf("failed to get scheme: %w", err)
	}
	return sc, nil
}

// ListSchemes retrieves all schemes ordered by name.
func (s *SQLStore) ListSchemes(ctx context.Context) ([]*models.RateScheme, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+schemeColumns+` FROM rate_schemes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemes: %w", err)
	}
	defer rows.Close()

	var schemes []*models.RateScheme
	for rows.Next() {
		sc, err := scanScheme(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheme row: %w", err)
		}
		schemes = append(schemes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return schemes, nil
}

// UpdateSchemeRate changes a scheme's current rate and appends a version effective at.
func (s *SQLStore) UpdateSchemeRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal, at time.Time) (*models.RateScheme, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sc, err := s.getScheme(ctx, tx, `id = ?`+s.lockClause(), id.String())
	if err != nil {
		return nil, err
	}
	sc.AnnualRatePercent = rate
	sc.UpdatedAt = at.UTC()

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE rate_schemes SET annual_rate_percent = ?, updated_at = ? WHERE id = ?`),
		sc.AnnualRatePercent, sc.UpdatedAt, id.String()); err != nil {
		return nil, fmt.Errorf("failed to update scheme: %w", err)
	}
	if err := s.insertVersion(ctx, tx, sc.Name, rate, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sc, nil
}

// DeleteScheme removes a scheme and its rate history.
func (s *SQLStore) DeleteScheme(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sc, err := s.getScheme(ctx, tx, `id = ?`, id.String())
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM rate_versions WHERE scheme_name = ?`), string(sc.Name)); err != nil {
		return fmt.Errorf("failed to delete rate versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM rate_schemes WHERE id = ?`), id.String()); err != nil {
		return fmt.Errorf("failed to delete scheme: %w", err)
	}
	return tx.Commit()
}

// ListRateVersions returns the rate history of a scheme, oldest first.
func (s *SQLStore) ListRateVersions(ctx context.Context, name models.SchemeName) ([]*models.RateVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT scheme_name, annual_rate_percent, effective_from FROM rate_versions WHERE scheme_name = ? ORDER BY seq`), string(name))
	if err != nil {
		return nil, fmt.Errorf("failed to list rate versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.RateVersion
	for rows.Next() {
		var v models.RateVersion
		var schemeName string
		var from time.Time
		if err := rows.Scan(&schemeName, &v.AnnualRatePercent, &from); err != nil {
			return nil, fmt.Errorf("failed to scan rate version row: %w", err)
		}
		v.SchemeName = models.SchemeName(schemeName)
		v.EffectiveFrom = from.UTC()
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	sort.SliceStable(versions, func(i, j int) bool { return versions[i].EffectiveFrom.Before(versions[j].EffectiveFrom) })
	return versions, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
