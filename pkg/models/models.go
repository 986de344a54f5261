package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID                     uuid.UUID       `json:"id"`
	Name                   string          `json:"name"`
	SavingsBalance         decimal.Decimal `json:"savings_balance"`
	FDBalance              decimal.Decimal `json:"fd_balance"`
	LoanBalance            decimal.Decimal `json:"loan_balance"`
	AccruedSavingsInterest decimal.Decimal `json:"accrued_savings_interest"` // Interest accrued since last posting
	AccruedFDInterest      decimal.Decimal `json:"accrued_fd_interest"`
	AccruedLoanInterest    decimal.Decimal `json:"accrued_loan_interest"`
	LastAccrualAt          *time.Time      `json:"last_accrual_at,omitempty"`       // To prevent duplicate daily accruals
	LastInterestCalcAt     *time.Time      `json:"last_interest_calc_at,omitempty"` // Last on-demand pro-rata calculation
	Version                int64           `json:"version"`                         // Optimistic lock counter
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Balances returns the cached balances held on the account.
func (a *Account) Balances() Balances {
	return Balances{
		Savings: a.SavingsBalance,
		FD:      a.FDBalance,
		Loan:    a.LoanBalance,
	}
}

// ApplyBalances overwrites the cached balance fields.
func (a *Account) ApplyBalances(b Balances) {
	a.SavingsBalance = b.Savings
	a.FDBalance = b.FD
	a.LoanBalance = b.Loan
}

// Accrued returns the accrued-but-unposted interest for the given balance type.
func (a *Account) Accrued(t BalanceType) decimal.Decimal {
	switch t {
	case BalanceSavings:
		return a.AccruedSavingsInterest
	case BalanceFD:
		return a.AccruedFDInterest
	case BalanceLoan:
		return a.AccruedLoanInterest
	}
	return decimal.Zero
}

// SetAccrued replaces the accrued-but-unposted interest for the given balance type.
func (a *Account) SetAccrued(t BalanceType, v decimal.Decimal) {
	switch t {
	case BalanceSavings:
		a.AccruedSavingsInterest = v
	case BalanceFD:
		a.AccruedFDInterest = v
	case BalanceLoan:
		a.AccruedLoanInterest = v
	}
}

// Balances is the result of replaying an account's ledger.
type Balances struct {
	Savings decimal.Decimal `json:"savings_balance"`
	FD      decimal.Decimal `json:"fd_balance"`
	Loan    decimal.Decimal `json:"loan_balance"`
}

// Get returns the balance of the given type.
func (b Balances) Get(t BalanceType) decimal.Decimal {
	switch t {
	case BalanceSavings:
		return b.Savings
	case BalanceFD:
		return b.FD
	case BalanceLoan:
		return b.Loan
	}
	return decimal.Zero
}

// Equal reports whether all three balances match.
func (b Balances) Equal(o Balances) bool {
	return b.Savings.Equal(o.Savings) && b.FD.Equal(o.FD) && b.Loan.Equal(o.Loan)
}

// BalanceType names one of the three balances an account carries.
type BalanceType string

const (
	BalanceSavings BalanceType = "savings"
	BalanceFD      BalanceType = "fd"
	BalanceLoan    BalanceType = "loan"
)

// BalanceTypes lists the balance types in posting order.
var BalanceTypes = []BalanceType{BalanceSavings, BalanceFD, BalanceLoan}

// InterestKind returns the transaction kind used to post interest for the balance type.
func (t BalanceType) InterestKind() TransactionKind {
	switch t {
	case BalanceSavings:
		return KindInterestSavings
	case BalanceFD:
		return KindInterestFD
	case BalanceLoan:
		return KindInterestLoan
	}
	return ""
}

// Scheme returns the rate scheme that governs the balance type.
func (t BalanceType) Scheme() SchemeName {
	switch t {
	case BalanceSavings:
		return SchemeDeposit
	case BalanceFD:
		return SchemeFD
	case BalanceLoan:
		return SchemeLoan
	}
	return ""
}
