package interest

import (
	"time"

	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	daysInYear = decimal.NewFromInt(365)
	hundred    = decimal.NewFromInt(100)
	twelve     = decimal.NewFromInt(12)
)

// DailyInterest is one day of simple interest on principal at an annual percentage rate.
func DailyInterest(principal, annualRatePercent decimal.Decimal) decimal.Decimal {
	return principal.Mul(annualRatePercent).Div(hundred).Div(daysInYear)
}

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// IsLastDayOfMonth reports whether t falls on the last calendar day of its month.
func IsLastDayOfMonth(t time.Time) bool {
	return t.Day() == DaysInMonth(t)
}

// daysAfter counts the UTC calendar days from a to b. It is zero or negative
// when b falls on or before a's day.
func daysAfter(a, b time.Time) int {
	a, b = a.UTC(), b.UTC()
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// monthsAfter counts the UTC calendar months from a to b.
func monthsAfter(a, b time.Time) int {
	a, b = a.UTC(), b.UTC()
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// Factor is the share of asOf's month that money held from t until asOf
// earns, measured in fractional days and capped at one month. Money that
// arrives at or after asOf earns nothing.
func Factor(t, asOf time.Time) decimal.Decimal {
	if !t.Before(asOf) {
		return decimal.Zero
	}
	held := decimal.NewFromInt(int64(asOf.Sub(t) / time.Second))
	month := decimal.NewFromInt(int64(DaysInMonth(asOf.UTC())) * 24 * 60 * 60)
	f := held.Div(month)
	if f.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return f
}

// ProRataInterest computes the interest earned by one balance type between
// start and asOf. The balance held at start earns for the whole period and
// every later movement earns from its own timestamp, each at the monthly rate
// annualRatePercent/12. The result is clamped at zero and rounded to cents.
func ProRataInterest(txs []*models.Transaction, bt models.BalanceType, start, asOf time.Time, annualRatePercent decimal.Decimal) decimal.Decimal {
	m := annualRatePercent.Div(twelve).Div(hundred)

	total := ledger.BalanceAt(txs, start).Get(bt).Mul(m).Mul(Factor(start, asOf))
	for _, t := range txs {
		if !t.Timestamp.After(start) || t.Timestamp.After(asOf) {
			continue
		}
		balance, sign := t.Kind.Effect()
		if balance != bt {
			continue
		}
		delta := t.Amount.Mul(m).Mul(Factor(t.Timestamp, asOf))
		if sign < 0 {
			delta = delta.Neg()
		}
		total = total.Add(delta)
	}

	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}
