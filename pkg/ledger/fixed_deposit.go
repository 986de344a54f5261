package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/store"
	"github.com/shopspring/decimal"
)

// DefaultLockInDays is how long a lot must be held before it matures.
const DefaultLockInDays = 1095

// FDPolicy holds the fixed-deposit parameters that do not come from the rate schedule.
type FDPolicy struct {
	LockIn        time.Duration
	PrematureRate decimal.Decimal
	// DefaultRate is used when no fd scheme exists.
	DefaultRate decimal.Decimal
}

func DefaultFDPolicy() FDPolicy {
	return FDPolicy{
		LockIn:        DefaultLockInDays * 24 * time.Hour,
		PrematureRate: decimal.RequireFromString("3.5"),
		DefaultRate:   decimal.NewFromInt(8),
	}
}

// LotClassification splits the remaining fixed-deposit principal by maturity.
type LotClassification struct {
	AsOf            time.Time       `json:"as_of"`
	MatureAmount    decimal.Decimal `json:"mature_amount"`
	PrematureAmount decimal.Decimal `json:"premature_amount"`
	MatureLots      []models.FDLot  `json:"mature_lots"`
	PrematureLots   []models.FDLot  `json:"premature_lots"`
}

// Total is the principal available for withdrawal.
func (c LotClassification) Total() decimal.Decimal {
	return c.MatureAmount.Add(c.PrematureAmount)
}

func isMature(placed, at time.Time, lockIn time.Duration) bool {
	return at.Sub(placed) >= lockIn
}

type openLot struct {
	txn       *models.Transaction
	remaining decimal.Decimal
}

// consume draws amount from the lots, taking those mature at `at` first and
// the oldest first within each group.
func consume(lots []*openLot, amount decimal.Decimal, at time.Time, lockIn time.Duration) {
	remaining := amount
	for _, wantMature := range []bool{true, false} {
		for _, lot := range lots {
			if !remaining.IsPositive() {
				return
			}
			if !lot.remaining.IsPositive() || isMature(lot.txn.Timestamp, at, lockIn) != wantMature {
				continue
			}
			take := decimal.Min(lot.remaining, remaining)
			lot.remaining = lot.remaining.Sub(take)
			remaining = remaining.Sub(take)
		}
	}
}

// ClassifyLots replays fixed-deposit placements and withdrawals up to asOf and
// reports what principal is left in each lot. Posted FD interest is
// capitalised, so it forms a lot of its own dated at posting. Drained lots
// are omitted.
func ClassifyLots(txs []*models.Transaction, asOf time.Time, lockIn time.Duration) LotClassification {
	var lots []*openLot
	for _, t := range Ordered(txs) {
		if t.Timestamp.After(asOf) {
			break
		}
		switch t.Kind {
		case models.KindFDPlace, models.KindInterestFD:
			lots = append(lots, &openLot{txn: t, remaining: t.Amount})
		case models.KindFDWithdraw:
			consume(lots, t.Amount, t.Timestamp, lockIn)
		}
	}

	c := LotClassification{AsOf: asOf}
	for _, lot := range lots {
		if !lot.remaining.IsPositive() {
			continue
		}
		age := asOf.Sub(lot.txn.Timestamp)
		fl := models.FDLot{
			TransactionID: lot.txn.ID,
			PlacedAt:      lot.txn.Timestamp,
			Principal:     lot.txn.Amount,
			Remaining:     lot.remaining,
			Age:           age,
			YearsOld:      age.Hours() / 24 / 365,
		}
		if isMature(lot.txn.Timestamp, asOf, lockIn) {
			c.MatureAmount = c.MatureAmount.Add(lot.remaining)
			c.MatureLots = append(c.MatureLots, fl)
		} else {
			c.PrematureAmount = c.PrematureAmount.Add(lot.remaining)
			c.PrematureLots = append(c.PrematureLots, fl)
		}
	}
	return c
}

// WithdrawalPlan is how a fixed-deposit withdrawal would be funded and what interest it realises.
type WithdrawalPlan struct {
	Amount                 decimal.Decimal `json:"amount"`
	PrincipalFromMature    decimal.Decimal `json:"principal_from_mature"`
	PrincipalFromPremature decimal.Decimal `json:"principal_from_premature"`
	InterestEarned         decimal.Decimal `json:"interest_earned"`
	MatureAmount           decimal.Decimal `json:"mature_amount"`
	PrematureAmount        decimal.Decimal `json:"premature_amount"`
	IsMatureWithdrawal     bool            `json:"is_mature_withdrawal"`
}

// PlanWithdrawal splits amount across mature and premature principal and
// computes the interest paid out. A withdrawal covered by mature principal
// realises all accrued FD interest. Otherwise the accrued interest is
// pro-rated by amount/fdBalance and the premature share of it is cut by
// (fdRate-prematureRate)/fdRate.
func PlanWithdrawal(c LotClassification, fdBalance, accrued, amount, fdRate, prematureRate decimal.Decimal) (*WithdrawalPlan, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if amount.GreaterThan(c.Total()) {
		return nil, fmt.Errorf("%w: total %s, mature %s, premature %s", ErrInsufficientFD,
			c.Total().StringFixed(2), c.MatureAmount.StringFixed(2), c.PrematureAmount.StringFixed(2))
	}

	plan := &WithdrawalPlan{
		Amount:          amount,
		MatureAmount:    c.MatureAmount,
		PrematureAmount: c.PrematureAmount,
	}

	var interest decimal.Decimal
	if amount.LessThanOrEqual(c.MatureAmount) {
		plan.IsMatureWithdrawal = true
		plan.PrincipalFromMature = amount
		interest = accrued
	} else {
		plan.PrincipalFromMature = c.MatureAmount
		plan.PrincipalFromPremature = amount.Sub(c.MatureAmount)

		proportional := decimal.Zero
		if fdBalance.IsPositive() {
			proportional = accrued.Mul(amount).Div(fdBalance)
		}
		prematureRatio := plan.PrincipalFromPremature.Div(amount)
		penalty := decimal.Zero
		if fdRate.IsPositive() {
			penalty = proportional.Mul(prematureRatio).Mul(fdRate.Sub(prematureRate).Div(fdRate))
		}
		interest = proportional.Sub(penalty)
	}
	plan.InterestEarned = clamp(interest).Round(2)
	return plan, nil
}

// ClassifyLots reports the account's fixed-deposit lots as of asOf.
func (l *Ledger) ClassifyLots(ctx context.Context, id uuid.UUID, asOf time.Time) (LotClassification, error) {
	txs, err := l.Transactions(ctx, id)
	if err != nil {
		return LotClassification{}, err
	}
	return ClassifyLots(txs, asOf.UTC(), l.fd.LockIn), nil
}

// PlanFixedDepositWithdrawal previews a withdrawal without changing anything.
func (l *Ledger) PlanFixedDepositWithdrawal(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*WithdrawalPlan, error) {
	fdRate, err := l.fdRate(ctx)
	if err != nil {
		return nil, err
	}
	account, err := l.storage.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := l.storage.GetTransactionsForAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	asOf := l.Now()
	return PlanWithdrawal(ClassifyLots(txs, asOf, l.fd.LockIn), Reconcile(txs).FD,
		account.AccruedFDInterest, amount, fdRate, l.fd.PrematureRate)
}

// WithdrawFixedDeposit takes amount out of the fixed deposit, realises the
// planned interest into the FD and returns the principal to savings.
func (l *Ledger) WithdrawFixedDeposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Receipt, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	fdRate, err := l.fdRate(ctx)
	if err != nil {
		return nil, err
	}

	var plan *WithdrawalPlan
	out, err := l.Mutate(ctx, []uuid.UUID{id}, func(u *Unit) error {
		txs, err := u.Transactions(id)
		if err != nil {
			return err
		}
		at := l.Now()
		account := u.Account(id)
		plan, err = PlanWithdrawal(ClassifyLots(txs, at, l.fd.LockIn), Reconcile(txs).FD,
			account.AccruedFDInterest, amount, fdRate, l.fd.PrematureRate)
		if err != nil {
			return err
		}

		if _, err := u.Append(id, models.KindFDWithdraw, amount, at, ""); err != nil {
			return err
		}
		if plan.InterestEarned.IsPositive() {
			if _, err := u.Append(id, models.KindInterestFD, plan.InterestEarned, at, "realised on withdrawal"); err != nil {
				return err
			}
		}
		if _, err := u.Append(id, models.KindDeposit, amount, at, "fixed deposit withdrawal"); err != nil {
			return err
		}
		account.AccruedFDInterest = clamp(account.AccruedFDInterest.Sub(plan.InterestEarned))
		_, err = u.Reconcile(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("fixed deposit withdrawn", "account_id", id, "amount", amount.StringFixed(2),
		"interest", plan.InterestEarned.StringFixed(2), "mature", plan.IsMatureWithdrawal)
	return &Receipt{Account: out.Accounts[id], Transactions: out.Transactions, Plan: plan}, nil
}

func (l *Ledger) fdRate(ctx context.Context) (decimal.Decimal, error) {
	if l.schedule == nil {
		return l.fd.DefaultRate, nil
	}
	rate, err := l.schedule.GetRate(ctx, models.SchemeFD)
	if errors.Is(err, store.ErrSchemeNotFound) {
		return l.fd.DefaultRate, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read fd rate: %w", err)
	}
	return rate, nil
}
