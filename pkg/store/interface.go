package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrSchemeNotFound  = errors.New("rate scheme not found")
	ErrDuplicateScheme = errors.New("rate scheme already exists")
	ErrDuplicateName   = errors.New("account name already taken")
	ErrConflict        = errors.New("account modified concurrently")
)

// Tx is the view of storage available inside a unit of work.
type Tx interface {
	// Transactions returns the account's ledger, including entries appended
	// earlier in the same unit of work, ordered by timestamp then insertion.
	Transactions(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error)
	AppendTransaction(ctx context.Context, t *models.Transaction) error
}

// UnitOfWork receives the locked accounts keyed by ID. Changes made to them are
// persisted, with a version check, only when it returns nil.
type UnitOfWork func(ctx context.Context, tx Tx, accounts map[uuid.UUID]*models.Account) error

// Storage defines the persistence operations for accounts, their ledgers and rate schemes.
// Implementations must not be called from inside a UnitOfWork; use the Tx instead.
type Storage interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByName(ctx context.Context, name string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error

	// WithAccounts runs fn in a single storage transaction scoped to the given accounts.
	WithAccounts(ctx context.Context, ids []uuid.UUID, fn UnitOfWork) error

	GetTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error)
	GetAllTransactions(ctx context.Context) ([]*models.Transaction, error)

	CreateScheme(ctx context.Context, scheme *models.RateScheme) error
	GetScheme(ctx context.Context, id uuid.UUID) (*models.RateScheme, error)
	GetSchemeByName(ctx context.Context, name models.SchemeName) (*models.RateScheme, error)
	ListSchemes(ctx context.Context) ([]*models.RateScheme, error)
	UpdateSchemeRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal, at time.Time) (*models.RateScheme, error)
	DeleteScheme(ctx context.Context, id uuid.UUID) error
	ListRateVersions(ctx context.Context, name models.SchemeName) ([]*models.RateVersion, error)

	Close() error
}

// sortedIDs returns ids deduplicated and in a stable order so that multi-account
// units of work always lock rows in the same sequence.
func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
