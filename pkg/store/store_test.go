package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Storage

func newSQLite(t *testing.T) Storage {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(t *testing.T) Storage {
	return NewMemoryStore()
}

var backends = map[string]storeFactory{
	"sqlite": newSQLite,
	"memory": newMemory,
}

func newAccount(name string) *models.Account {
	now := time.Now().UTC()
	return &models.Account{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_CreateAndGetAccount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		acc := newAccount("alice")
		acc.AccruedFDInterest = decimal.RequireFromString("1.2345")
		require.NoError(t, s.CreateAccount(ctx, acc))

		fetched, err := s.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", fetched.Name)
		assert.True(t, fetched.AccruedFDInterest.Equal(acc.AccruedFDInterest))
		assert.Nil(t, fetched.LastAccrualAt)

		byName, err := s.GetAccountByName(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, acc.ID, byName.ID)

		err = s.CreateAccount(ctx, newAccount("alice"))
		assert.ErrorIs(t, err, ErrDuplicateName)

		_, err = s.GetAccount(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestStore_ConcurrentDuplicateNames(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		const racers = 8

		var wg sync.WaitGroup
		errs := make(chan error, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.CreateAccount(ctx, newAccount("bob"))
			}()
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicateName)
		}
		assert.Equal(t, 1, created)
	})
}

func TestStore_WithAccountsPersistsChanges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		acc := newAccount("bob")
		require.NoError(t, s.CreateAccount(ctx, acc))

		at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
		err := s.WithAccounts(ctx, []uuid.UUID{acc.ID}, func(ctx context.Context, tx Tx, accounts map[uuid.UUID]*models.Account) error {
			require.NoError(t, tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.NewFromInt(100), at)))
			require.NoError(t, tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindWithdrawal, decimal.NewFromInt(25), at)))

			txs, err := tx.Transactions(ctx, acc.ID)
			require.NoError(t, err)
			require.Len(t, txs, 2)
			assert.Equal(t, models.KindDeposit, txs[0].Kind)

			a := accounts[acc.ID]
			a.SavingsBalance = decimal.NewFromInt(75)
			a.LastAccrualAt = &at
			return nil
		})
		require.NoError(t, err)

		fetched, err := s.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		assert.True(t, fetched.SavingsBalance.Equal(decimal.NewFromInt(75)))
		assert.Equal(t, int64(1), fetched.Version)
		require.NotNil(t, fetched.LastAccrualAt)
		assert.True(t, fetched.LastAccrualAt.Equal(at))

		txs, err := s.GetTransactionsForAccount(ctx, acc.ID)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, models.KindDeposit, txs[0].Kind)
		assert.Equal(t, models.KindWithdrawal, txs[1].Kind)
		assert.Less(t, txs[0].Seq, txs[1].Seq)
	})
}

func TestStore_WithAccountsRollsBackOnError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		acc := newAccount("carol")
		require.NoError(t, s.CreateAccount(ctx, acc))

		boom := errors.New("boom")
		err := s.WithAccounts(ctx, []uuid.UUID{acc.ID}, func(ctx context.Context, tx Tx, accounts map[uuid.UUID]*models.Account) error {
			require.NoError(t, tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.NewFromInt(10), time.Now())))
			accounts[acc.ID].SavingsBalance = decimal.NewFromInt(10)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		txs, err := s.GetTransactionsForAccount(ctx, acc.ID)
		require.NoError(t, err)
		assert.Empty(t, txs)

		fetched, err := s.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		assert.True(t, fetched.SavingsBalance.IsZero())
		assert.Equal(t, int64(0), fetched.Version)
	})
}

func TestStore_AppendRejectsInvalidEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		acc := newAccount("dave")
		other := newAccount("erin")
		require.NoError(t, s.CreateAccount(ctx, acc))
		require.NoError(t, s.CreateAccount(ctx, other))

		err := s.WithAccounts(ctx, []uuid.UUID{acc.ID}, func(ctx context.Context, tx Tx, _ map[uuid.UUID]*models.Account) error {
			err := tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.Zero, time.Now()))
			assert.ErrorIs(t, err, models.ErrInvalidAmount)

			err = tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, "bonus", decimal.NewFromInt(1), time.Now()))
			assert.ErrorIs(t, err, models.ErrInvalidKind)

			err = tx.AppendTransaction(ctx, models.NewTransaction(other.ID, models.KindDeposit, decimal.NewFromInt(1), time.Now()))
			assert.Error(t, err)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestStore_LedgerOrderBreaksTiesByInsertion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		acc := newAccount("frank")
		require.NoError(t, s.CreateAccount(ctx, acc))

		early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		late := early.Add(time.Hour)
		err := s.WithAccounts(ctx, []uuid.UUID{acc.ID}, func(ctx context.Context, tx Tx, _ map[uuid.UUID]*models.Account) error {
			require.NoError(t, tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.NewFromInt(3), late)))
			require.NoError(t, tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.NewFromInt(1), early)))
			require.NoError(t, tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.NewFromInt(2), early)))
			return nil
		})
		require.NoError(t, err)

		txs, err := s.GetTransactionsForAccount(ctx, acc.ID)
		require.NoError(t, err)
		require.Len(t, txs, 3)
		assert.Equal(t, "1", txs[0].Amount.String())
		assert.Equal(t, "2", txs[1].Amount.String())
		assert.Equal(t, "3", txs[2].Amount.String())
	})
}

func TestStore_ConcurrentUnitsOfWorkSerialize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		acc := newAccount("gina")
		require.NoError(t, s.CreateAccount(ctx, acc))

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.WithAccounts(ctx, []uuid.UUID{acc.ID}, func(ctx context.Context, tx Tx, accounts map[uuid.UUID]*models.Account) error {
					a := accounts[acc.ID]
					a.SavingsBalance = a.SavingsBalance.Add(decimal.NewFromInt(1))
					return tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.NewFromInt(1), time.Now()))
				})
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}

		fetched, err := s.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		txs, err := s.GetTransactionsForAccount(ctx, acc.ID)
		require.NoError(t, err)
		assert.Len(t, txs, succeeded)
		assert.True(t, fetched.SavingsBalance.Equal(decimal.NewFromInt(int64(succeeded))))
		assert.Equal(t, int64(succeeded), fetched.Version)
	})
}

func TestStore_DeleteAccountRemovesLedger(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		acc := newAccount("hank")
		require.NoError(t, s.CreateAccount(ctx, acc))
		require.NoError(t, s.WithAccounts(ctx, []uuid.UUID{acc.ID}, func(ctx context.Context, tx Tx, _ map[uuid.UUID]*models.Account) error {
			return tx.AppendTransaction(ctx, models.NewTransaction(acc.ID, models.KindDeposit, decimal.NewFromInt(5), time.Now()))
		}))

		require.NoError(t, s.DeleteAccount(ctx, acc.ID))
		_, err := s.GetAccount(ctx, acc.ID)
		assert.ErrorIs(t, err, ErrAccountNotFound)

		all, err := s.GetAllTransactions(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		assert.ErrorIs(t, s.DeleteAccount(ctx, acc.ID), ErrAccountNotFound)
	})
}

func TestStore_SchemesAndVersions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		sc := &models.RateScheme{
			ID:                uuid.New(),
			Name:              models.SchemeDeposit,
			AnnualRatePercent: decimal.NewFromInt(4),
			CreatedAt:         created,
			UpdatedAt:         created,
		}
		require.NoError(t, s.CreateScheme(ctx, sc))

		dup := *sc
		dup.ID = uuid.New()
		assert.ErrorIs(t, s.CreateScheme(ctx, &dup), ErrDuplicateScheme)

		updated, err := s.UpdateSchemeRate(ctx, sc.ID, decimal.NewFromInt(6), created.AddDate(0, 2, 0))
		require.NoError(t, err)
		assert.True(t, updated.AnnualRatePercent.Equal(decimal.NewFromInt(6)))

		byName, err := s.GetSchemeByName(ctx, models.SchemeDeposit)
		require.NoError(t, err)
		assert.True(t, byName.AnnualRatePercent.Equal(decimal.NewFromInt(6)))

		versions, err := s.ListRateVersions(ctx, models.SchemeDeposit)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.True(t, versions[0].AnnualRatePercent.Equal(decimal.NewFromInt(4)))
		assert.True(t, versions[1].EffectiveFrom.Equal(created.AddDate(0, 2, 0)))

		_, err = s.UpdateSchemeRate(ctx, uuid.New(), decimal.NewFromInt(1), created)
		assert.ErrorIs(t, err, ErrSchemeNotFound)

		require.NoError(t, s.DeleteScheme(ctx, sc.ID))
		_, err = s.GetScheme(ctx, sc.ID)
		assert.ErrorIs(t, err, ErrSchemeNotFound)
		versions, err = s.ListRateVersions(ctx, models.SchemeDeposit)
		require.NoError(t, err)
		assert.Empty(t, versions)
		assert.ErrorIs(t, s.DeleteScheme(ctx, sc.ID), ErrSchemeNotFound)
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SQLStore{dialect: dialectSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?cache=shared&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", sqliteDSN("a.db?cache=shared"))
	assert.Equal(t, "a.db?_txlock=deferred", sqliteDSN("a.db?_txlock=deferred"))
}
