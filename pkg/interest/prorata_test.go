package interest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDailyInterest(t *testing.T) {
	assert.Equal(t, "0.136986301369863", DailyInterest(d("1000"), d("5")).String())
	assert.True(t, DailyInterest(decimal.Zero, d("5")).IsZero())
	assert.True(t, DailyInterest(d("1000"), decimal.Zero).IsZero())
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, DaysInMonth(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 28, DaysInMonth(time.Date(2023, 2, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 31, DaysInMonth(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsLastDayOfMonth(time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)))
	assert.False(t, IsLastDayOfMonth(time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)))
}

func TestFactor(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	assert.True(t, Factor(asOf, asOf).IsZero())
	assert.True(t, Factor(asOf.Add(time.Hour), asOf).IsZero())
	assert.Equal(t, "1", Factor(asOf.AddDate(0, -3, 0), asOf).String())
	assert.Equal(t, "0.5", Factor(asOf.AddDate(0, 0, -15), asOf).String())
	assert.Equal(t, "0.0125", Factor(asOf.Add(-9*time.Hour), asOf).String())
}

func TestProRataInterest(t *testing.T) {
	id := uuid.New()
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	txs := []*models.Transaction{
		models.NewTransaction(id, models.KindDeposit, d("1000"), start),
		models.NewTransaction(id, models.KindDeposit, d("300"), time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)),
		models.NewTransaction(id, models.KindWithdrawal, d("100"), time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)),
		models.NewTransaction(id, models.KindFDPlace, d("5000"), time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)),
		models.NewTransaction(id, models.KindDeposit, d("50"), time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)),
	}

	// 1000*0.01*29/30 + 300*0.01*14/30 - 100*0.01*9/30
	got := ProRataInterest(txs, models.BalanceSavings, start, asOf, d("12"))
	assert.Equal(t, "10.77", got.String())

	fd := ProRataInterest(txs, models.BalanceFD, start, asOf, d("12"))
	assert.Equal(t, "46.67", fd.String())

	assert.True(t, ProRataInterest(txs, models.BalanceLoan, start, asOf, d("12")).IsZero())
}

func TestProRataInterest_Edges(t *testing.T) {
	id := uuid.New()
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	txs := []*models.Transaction{
		models.NewTransaction(id, models.KindDeposit, d("1000"), asOf.AddDate(0, -1, 0)),
	}

	assert.True(t, ProRataInterest(txs, models.BalanceSavings, asOf, asOf, d("12")).IsZero(), "empty period")
	assert.True(t, ProRataInterest(txs, models.BalanceSavings, asOf.AddDate(0, -2, 0), asOf, decimal.Zero).IsZero(), "zero rate")

	// A withdrawal that outweighs the period's earnings clamps at zero.
	start := asOf.AddDate(0, 0, -1)
	negative := append(txs,
		models.NewTransaction(id, models.KindWithdrawal, d("2000"), start.Add(time.Hour)),
	)
	assert.True(t, ProRataInterest(negative, models.BalanceSavings, start, asOf, d("12")).IsZero())
}
