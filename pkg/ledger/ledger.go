package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/events"
	"github.com/mcclellann/kidLedger/pkg/lock"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/mcclellann/kidLedger/pkg/store"
	"github.com/shopspring/decimal"
)

// Ledger handles the account operations. Every operation validates against
// balances replayed from the ledger, appends entries and reconciles, all in
// one unit of work.
type Ledger struct {
	storage   store.Storage
	schedule  *rates.Schedule
	locker    lock.Locker
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	fd        FDPolicy
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLocker(l lock.Locker) Option {
	return func(lg *Ledger) { lg.locker = l }
}

func WithPublisher(p events.Publisher) Option {
	return func(lg *Ledger) { lg.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = logger }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

func WithFDPolicy(p FDPolicy) Option {
	return func(lg *Ledger) { lg.fd = p }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, schedule *rates.Schedule, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		schedule: schedule,
		logger:   slog.Default(),
		now:      time.Now,
		fd:       DefaultFDPolicy(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Storage exposes the underlying store for read-only collaborators.
func (l *Ledger) Storage() store.Storage {
	return l.storage
}

// Now returns the ledger's clock reading in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

// CreateAccount opens an account with zero balances.
func (l *Ledger) CreateAccount(ctx context.Context, name string) (*models.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	now := l.Now()
	account := &models.Account{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.storage.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}
	l.logger.Info("account created", "account_id", account.ID, "name", name)
	return account, nil
}

// GetAccount retrieves an account by its ID.
func (l *Ledger) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return l.storage.GetAccount(ctx, id)
}

// ListAccounts retrieves all accounts.
func (l *Ledger) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return l.storage.ListAccounts(ctx)
}

// DeleteAccount deletes an account together with its ledger.
func (l *Ledger) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteAccount(ctx, id); err != nil {
		return err
	}
	l.logger.Info("account deleted", "account_id", id)
	return nil
}

// Transactions enumerates an account's ledger without changing anything.
func (l *Ledger) Transactions(ctx context.Context, id uuid.UUID) ([]*models.Transaction, error) {
	if _, err := l.storage.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return l.storage.GetTransactionsForAccount(ctx, id)
}

// AllTransactions enumerates every ledger entry across accounts.
func (l *Ledger) AllTransactions(ctx context.Context) ([]*models.Transaction, error) {
	return l.storage.GetAllTransactions(ctx)
}

// Reconcile recomputes and saves the account's cached balances.
func (l *Ledger) Reconcile(ctx context.Context, id uuid.UUID) (models.Balances, error) {
	var b models.Balances
	_, err := l.Mutate(ctx, []uuid.UUID{id}, func(u *Unit) error {
		var err error
		b, err = u.Reconcile(id)
		return err
	})
	if err != nil {
		return models.Balances{}, err
	}
	return b, nil
}

// Receipt is returned by the account operations.
type Receipt struct {
	Account      *models.Account       `json:"account"`
	Counterparty *models.Account       `json:"counterparty,omitempty"`
	Transactions []*models.Transaction `json:"transactions"`
	Plan         *WithdrawalPlan       `json:"plan,omitempty"`
}

func (l *Ledger) single(ctx context.Context, id uuid.UUID, amount decimal.Decimal, fn func(u *Unit, b models.Balances, at time.Time) error) (*Receipt, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	out, err := l.Mutate(ctx, []uuid.UUID{id}, func(u *Unit) error {
		b, err := u.Balances(id)
		if err != nil {
			return err
		}
		if err := fn(u, b, l.Now()); err != nil {
			return err
		}
		_, err = u.Reconcile(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{Account: out.Accounts[id], Transactions: out.Transactions}, nil
}

// Deposit credits savings.
func (l *Ledger) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Receipt, error) {
	return l.single(ctx, id, amount, func(u *Unit, _ models.Balances, at time.Time) error {
		_, err := u.Append(id, models.KindDeposit, amount, at, "")
		return err
	})
}

// Withdraw debits savings.
func (l *Ledger) Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Receipt, error) {
	return l.single(ctx, id, amount, func(u *Unit, b models.Balances, at time.Time) error {
		if b.Savings.LessThan(amount) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount.StringFixed(2), b.Savings.StringFixed(2))
		}
		_, err := u.Append(id, models.KindWithdrawal, amount, at, "")
		return err
	})
}

// TakeLoan increases the loan balance.
func (l *Ledger) TakeLoan(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Receipt, error) {
	return l.single(ctx, id, amount, func(u *Unit, _ models.Balances, at time.Time) error {
		_, err := u.Append(id, models.KindLoan, amount, at, "")
		return err
	})
}

// RepayLoan pays down the loan from savings. Repaying more than is owed is rejected.
func (l *Ledger) RepayLoan(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Receipt, error) {
	return l.single(ctx, id, amount, func(u *Unit, b models.Balances, at time.Time) error {
		if !b.Loan.IsPositive() {
			return ErrNoActiveLoan
		}
		if amount.GreaterThan(b.Loan) {
			return fmt.Errorf("%w: requested %s, outstanding %s", ErrRepaymentExceedsLoan, amount.StringFixed(2), b.Loan.StringFixed(2))
		}
		if b.Savings.LessThan(amount) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount.StringFixed(2), b.Savings.StringFixed(2))
		}
		if _, err := u.Append(id, models.KindWithdrawal, amount, at, "loan repayment"); err != nil {
			return err
		}
		_, err := u.Append(id, models.KindRepayment, amount, at, "")
		return err
	})
}

// PlaceFixedDeposit moves savings into a new fixed-deposit lot.
func (l *Ledger) PlaceFixedDeposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Receipt, error) {
	return l.single(ctx, id, amount, func(u *Unit, b models.Balances, at time.Time) error {
		if b.Savings.LessThan(amount) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount.StringFixed(2), b.Savings.StringFixed(2))
		}
		if _, err := u.Append(id, models.KindWithdrawal, amount, at, "fixed deposit placement"); err != nil {
			return err
		}
		_, err := u.Append(id, models.KindFDPlace, amount, at, "")
		return err
	})
}

// Transfer moves savings between two accounts in one unit of work.
func (l *Ledger) Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) (*Receipt, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if from == to {
		return nil, ErrSameAccount
	}
	out, err := l.Mutate(ctx, []uuid.UUID{from, to}, func(u *Unit) error {
		b, err := u.Balances(from)
		if err != nil {
			return err
		}
		if b.Savings.LessThan(amount) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount.StringFixed(2), b.Savings.StringFixed(2))
		}
		at := l.Now()
		if _, err := u.Append(from, models.KindWithdrawal, amount, at, "transfer to "+to.String()); err != nil {
			return err
		}
		if _, err := u.Append(to, models.KindDeposit, amount, at, "transfer from "+from.String()); err != nil {
			return err
		}
		if _, err := u.Reconcile(from); err != nil {
			return err
		}
		_, err = u.Reconcile(to)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("transfer completed", "from", from, "to", to, "amount", amount.StringFixed(2))
	return &Receipt{
		Account:      out.Accounts[from],
		Counterparty: out.Accounts[to],
		Transactions: out.Transactions,
	}, nil
}
