package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/lock"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/store"
	"github.com/shopspring/decimal"
)

const maxAttempts = 3

// Unit is the per-account view handed to a mutation. Balances it reports are
// always reconciled from the ledger, including entries appended through it.
type Unit struct {
	ctx      context.Context
	tx       store.Tx
	accounts map[uuid.UUID]*models.Account
	appended []*models.Transaction
}

// Account returns the locked account. Changes to its accrual fields are saved on commit.
func (u *Unit) Account(id uuid.UUID) *models.Account {
	return u.accounts[id]
}

// Transactions returns the account's ledger in order.
func (u *Unit) Transactions(id uuid.UUID) ([]*models.Transaction, error) {
	txs, err := u.tx.Transactions(u.ctx, id)
	if err != nil {
		return nil, err
	}
	return Ordered(txs), nil
}

// Balances replays the account's ledger without touching the cached fields.
func (u *Unit) Balances(id uuid.UUID) (models.Balances, error) {
	txs, err := u.Transactions(id)
	if err != nil {
		return models.Balances{}, err
	}
	return Reconcile(txs), nil
}

// Append adds one entry to the account's ledger.
func (u *Unit) Append(id uuid.UUID, kind models.TransactionKind, amount decimal.Decimal, at time.Time, note string) (*models.Transaction, error) {
	t := models.NewTransaction(id, kind, amount, at)
	t.Note = note
	if err := u.tx.AppendTransaction(u.ctx, t); err != nil {
		return nil, fmt.Errorf("failed to append %s: %w", kind, err)
	}
	u.appended = append(u.appended, t)
	return t, nil
}

// Reconcile overwrites the account's cached balances from its ledger.
func (u *Unit) Reconcile(id uuid.UUID) (models.Balances, error) {
	b, err := u.Balances(id)
	if err != nil {
		return models.Balances{}, err
	}
	u.accounts[id].ApplyBalances(b)
	return b, nil
}

// Appended returns the entries added so far in this unit.
func (u *Unit) Appended() []*models.Transaction {
	return u.appended
}

// Outcome is what a committed mutation produced.
type Outcome struct {
	Accounts     map[uuid.UUID]*models.Account
	Transactions []*models.Transaction
}

// Mutate runs fn as one unit of work over the given accounts. The unit is
// retried on version conflicts; events for appended entries are published
// after commit.
func (l *Ledger) Mutate(ctx context.Context, ids []uuid.UUID, fn func(u *Unit) error) (*Outcome, error) {
	unlock, err := l.lockAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = l.storage.WithAccounts(ctx, ids, func(ctx context.Context, tx store.Tx, accounts map[uuid.UUID]*models.Account) error {
			u := &Unit{ctx: ctx, tx: tx, accounts: accounts}
			if err := fn(u); err != nil {
				return err
			}
			out = &Outcome{Accounts: accounts, Transactions: u.appended}
			return nil
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		l.logger.Warn("unit of work conflicted, retrying", "attempt", attempt, "accounts", len(ids))
	}
	if err != nil {
		return nil, err
	}

	l.publish(ctx, out)
	return out, nil
}

func (l *Ledger) lockAccounts(ctx context.Context, ids []uuid.UUID) (func(), error) {
	if l.locker == nil {
		return func() {}, nil
	}
	keys := make([]string, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			keys = append(keys, lock.AccountKey(id.String()))
		}
	}
	sort.Strings(keys)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := l.locker.Lock(ctx, key)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func (l *Ledger) publish(ctx context.Context, out *Outcome) {
	if l.publisher == nil {
		return
	}
	for _, t := range out.Transactions {
		ev := models.LedgerEvent{
			Type:        models.EventTransactionPosted,
			AccountID:   t.AccountID,
			Transaction: t,
			OccurredAt:  l.now().UTC(),
		}
		if a, ok := out.Accounts[t.AccountID]; ok {
			ev.Balances = a.Balances()
		}
		if err := l.publisher.Publish(ctx, ev); err != nil {
			l.logger.Error("failed to publish ledger event", "account_id", t.AccountID, "transaction_id", t.ID, "error", err)
		}
	}
}
