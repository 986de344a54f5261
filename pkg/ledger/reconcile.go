package ledger

import (
	"sort"
	"time"

	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/shopspring/decimal"
)

// Ordered returns a copy of txs sorted by timestamp. Entries with equal
// timestamps keep insertion order (seq, or input order when seq is unset).
func Ordered(txs []*models.Transaction) []*models.Transaction {
	out := make([]*models.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Seq != 0 && b.Seq != 0 {
			return a.Seq < b.Seq
		}
		return false
	})
	return out
}

// Reconcile folds a ledger into balances. Each balance is clamped at zero
// after the fold. No transactions yields zero balances.
func Reconcile(txs []*models.Transaction) models.Balances {
	var savings, fd, loan decimal.Decimal
	for _, t := range Ordered(txs) {
		balance, sign := t.Kind.Effect()
		delta := t.Amount
		if sign < 0 {
			delta = delta.Neg()
		}
		switch balance {
		case models.BalanceSavings:
			savings = savings.Add(delta)
		case models.BalanceFD:
			fd = fd.Add(delta)
		case models.BalanceLoan:
			loan = loan.Add(delta)
		}
	}
	return models.Balances{
		Savings: clamp(savings),
		FD:      clamp(fd),
		Loan:    clamp(loan),
	}
}

// BalanceAt reconciles only the entries dated at or before t.
func BalanceAt(txs []*models.Transaction, t time.Time) models.Balances {
	var upto []*models.Transaction
	for _, txn := range txs {
		if !txn.Timestamp.After(t) {
			upto = append(upto, txn)
		}
	}
	return Reconcile(upto)
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
