package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidKind   = errors.New("unknown transaction kind")
)

type TransactionKind string

const (
	KindDeposit         TransactionKind = "deposit"
	KindWithdrawal      TransactionKind = "withdrawal"
	KindLoan            TransactionKind = "loan"
	KindRepayment       TransactionKind = "repayment"
	KindFDPlace         TransactionKind = "fd_place"
	KindFDWithdraw      TransactionKind = "fd_withdraw"
	KindInterestSavings TransactionKind = "interest_savings"
	KindInterestFD      TransactionKind = "interest_fd"
	KindInterestLoan    TransactionKind = "interest_loan"
)

// TransactionKinds lists every kind the ledger accepts.
var TransactionKinds = []TransactionKind{
	KindDeposit,
	KindWithdrawal,
	KindLoan,
	KindRepayment,
	KindFDPlace,
	KindFDWithdraw,
	KindInterestSavings,
	KindInterestFD,
	KindInterestLoan,
}

// Valid reports whether k is a known transaction kind.
func (k TransactionKind) Valid() bool {
	for _, known := range TransactionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsInterest reports whether k is an interest posting.
func (k TransactionKind) IsInterest() bool {
	return k == KindInterestSavings || k == KindInterestFD || k == KindInterestLoan
}

// Effect returns the balance a kind moves and the direction (+1 or -1).
func (k TransactionKind) Effect() (BalanceType, int) {
	switch k {
	case KindDeposit, KindInterestSavings:
		return BalanceSavings, 1
	case KindWithdrawal:
		return BalanceSavings, -1
	case KindFDPlace, KindInterestFD:
		return BalanceFD, 1
	case KindFDWithdraw:
		return BalanceFD, -1
	case KindLoan:
		return BalanceLoan, 1
	case KindRepayment, KindInterestLoan:
		return BalanceLoan, -1
	}
	return "", 0
}

// Transaction is one immutable ledger entry. Amount is always positive;
// the kind decides which balance moves and in which direction.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"` // Insertion order, assigned by the store
	AccountID uuid.UUID       `json:"account_id"`
	Kind      TransactionKind `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Note      string          `json:"note,omitempty"`
}

// NewTransaction builds an entry with a fresh ID.
func NewTransaction(accountID uuid.UUID, kind TransactionKind, amount decimal.Decimal, at time.Time) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      kind,
		Amount:    amount,
		Timestamp: at.UTC(),
	}
}

// Validate checks the invariants every stored entry must hold.
func (t *Transaction) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, t.Amount)
	}
	return nil
}

// LedgerEvent is published after a unit of work that appended transactions commits.
type LedgerEvent struct {
	Type        string       `json:"type"`
	AccountID   uuid.UUID    `json:"account_id"`
	Transaction *Transaction `json:"transaction"`
	Balances    Balances     `json:"balances"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

const EventTransactionPosted = "transaction.posted"
