package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Storage used by tests and the --memory flag.
// A single mutex is held for the whole of a unit of work.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	txs      []*models.Transaction
	schemes  map[uuid.UUID]*models.RateScheme
	versions map[models.SchemeName][]*models.RateVersion
	seq      int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*models.Account),
		schemes:  make(map[uuid.UUID]*models.RateScheme),
		versions: make(map[models.SchemeName][]*models.RateVersion),
	}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	if a.LastAccrualAt != nil {
		t := *a.LastAccrualAt
		c.LastAccrualAt = &t
	}
	if a.LastInterestCalcAt != nil {
		t := *a.LastInterestCalcAt
		c.LastInterestCalcAt = &t
	}
	return &c
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	return &c
}

func ledgerOrder(txs []*models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Seq < txs[j].Seq
		}
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})
}

func (m *MemoryStore) CreateAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	for _, a := range m.accounts {
		if a.Name == account.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, account.Name)
		}
	}
	m.accounts[account.ID] = copyAccount(account)
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return copyAccount(a), nil
}

func (m *MemoryStore) GetAccountByName(_ context.Context, name string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Name == name {
			return copyAccount(a), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, name)
}

func (m *MemoryStore) ListAccounts(_ context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteAccount(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	delete(m.accounts, id)
	kept := m.txs[:0]
	for _, t := range m.txs {
		if t.AccountID != id {
			kept = append(kept, t)
		}
	}
	m.txs = kept
	return nil
}

// WithAccounts runs fn against copies of the accounts. Appended entries and
// account changes are applied only when fn returns nil.
func (m *MemoryStore) WithAccounts(ctx context.Context, ids []uuid.UUID, fn UnitOfWork) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := sortedIDs(ids)
	accounts := make(map[uuid.UUID]*models.Account, len(ordered))
	versions := make(map[uuid.UUID]int64, len(ordered))
	for _, id := range ordered {
		a, ok := m.accounts[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		accounts[id] = copyAccount(a)
		versions[id] = a.Version
	}

	tx := &memoryTx{store: m, accounts: accounts}
	if err := fn(ctx, tx, accounts); err != nil {
		return err
	}

	for _, id := range ordered {
		if accounts[id] == nil {
			return fmt.Errorf("account %s removed from unit of work", id)
		}
		if m.accounts[id].Version != versions[id] {
			return fmt.Errorf("%w: %s", ErrConflict, id)
		}
	}

	now := time.Now().UTC()
	for _, t := range tx.pending {
		m.seq++
		t.Seq = m.seq
		m.txs = append(m.txs, copyTransaction(t))
	}
	for _, id := range ordered {
		a := accounts[id]
		a.Version = versions[id] + 1
		a.UpdatedAt = now
		m.accounts[id] = copyAccount(a)
	}
	return nil
}

type memoryTx struct {
	store    *MemoryStore
	accounts map[uuid.UUID]*models.Account
	pending  []*models.Transaction
}

func (t *memoryTx) Transactions(_ context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	out := t.store.transactionsLocked(accountID)
	// Pending entries sort after committed ones at equal timestamps.
	next := t.store.seq
	for _, p := range t.pending {
		if p.AccountID == accountID {
			c := copyTransaction(p)
			next++
			c.Seq = next
			out = append(out, c)
		}
	}
	ledgerOrder(out)
	return out, nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, txn *models.Transaction) error {
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
	t.pending = append(t.pending, txn)
	return nil
}

func (m *MemoryStore) transactionsLocked(accountID uuid.UUID) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range m.txs {
		if t.AccountID == accountID {
			out = append(out, copyTransaction(t))
		}
	}
	ledgerOrder(out)
	return out
}

func (m *MemoryStore) GetTransactionsForAccount(_ context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactionsLocked(accountID), nil
}

func (m *MemoryStore) GetAllTransactions(_ context.Context) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Transaction, 0, len(m.txs))
	for _, t := range m.txs {
		out = append(out, copyTransaction(t))
	}
	ledgerOrder(out)
	return out, nil
}

func (m *MemoryStore) CreateScheme(_ context.Context, scheme *models.RateScheme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.schemes {
		if sc.Name == scheme.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateScheme, scheme.Name)
		}
	}
	c := *scheme
	m.schemes[scheme.ID] = &c
	m.versions[scheme.Name] = append(m.versions[scheme.Name], &models.RateVersion{
		SchemeName:        scheme.Name,
		AnnualRatePercent: scheme.AnnualRatePercent,
		EffectiveFrom:     scheme.CreatedAt.UTC(),
	})
	return nil
}

func (m *MemoryStore) GetScheme(_ context.Context, id uuid.UUID) (*models.RateScheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schemes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemeNotFound, id)
	}
	c := *sc
	return &c, nil
}

func (m *MemoryStore) GetSchemeByName(_ context.Context, name models.SchemeName) (*models.RateScheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.schemes {
		if sc.Name == name {
			c := *sc
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSchemeNotFound, name)
}

func (m *MemoryStore) ListSchemes(_ context.Context) ([]*models.RateScheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RateScheme, 0, len(m.schemes))
	for _, sc := range m.schemes {
		c := *sc
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateSchemeRate(_ context.Context, id uuid.UUID, rate decimal.Decimal, at time.Time) (*models.RateScheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schemes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemeNotFound, id)
	}
	sc.AnnualRatePercent = rate
	sc.UpdatedAt = at.UTC()
	m.versions[sc.Name] = append(m.versions[sc.Name], &models.RateVersion{
		SchemeName:        sc.Name,
		AnnualRatePercent: rate,
		EffectiveFrom:     at.UTC(),
	})
	c := *sc
	return &c, nil
}

func (m *MemoryStore) DeleteScheme(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schemes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSchemeNotFound, id)
	}
	delete(m.versions, sc.Name)
	delete(m.schemes, id)
	return nil
}

func (m *MemoryStore) ListRateVersions(_ context.Context, name models.SchemeName) ([]*models.RateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RateVersion, 0, len(m.versions[name]))
	for _, v := range m.versions[name] {
		c := *v
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EffectiveFrom.Before(out[j].EffectiveFrom) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
