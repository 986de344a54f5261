package report

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/mcclellann/kidLedger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMonthly(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	txs := []*models.Transaction{
		models.NewTransaction(id, models.KindDeposit, d("100"), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		models.NewTransaction(id, models.KindWithdrawal, d("30"), time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)),
		models.NewTransaction(id, models.KindLoan, d("10"), time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC)),
		models.NewTransaction(id, models.KindDeposit, d("5"), time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)),
	}

	points := monthly(txs, now)
	require.Len(t, points, trendMonths)
	assert.Equal(t, "2023-07", points[0].Month)
	assert.Equal(t, 1, points[0].Count)
	assert.True(t, points[0].Net.IsZero())

	last := points[len(points)-1]
	assert.Equal(t, "2024-06", last.Month)
	assert.Equal(t, 2, last.Count)
	assert.Equal(t, "70", last.Net.String())
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	a := &models.Account{ID: uuid.New(), SavingsBalance: d("12000"), FDBalance: d("500"), AccruedFDInterest: d("1.5")}
	b := &models.Account{ID: uuid.New(), SavingsBalance: d("20"), LoanBalance: d("80")}
	txs := []*models.Transaction{
		models.NewTransaction(a.ID, models.KindDeposit, d("12500"), now),
		models.NewTransaction(a.ID, models.KindWithdrawal, d("500"), now),
		models.NewTransaction(a.ID, models.KindFDPlace, d("500"), now),
		models.NewTransaction(b.ID, models.KindDeposit, d("20"), now),
		models.NewTransaction(b.ID, models.KindLoan, d("80"), now),
	}
	schemes := []*models.RateScheme{
		{Name: models.SchemeDeposit, AnnualRatePercent: d("4")},
		{Name: models.SchemeLoan, AnnualRatePercent: d("10")},
	}

	s := Summarize([]*models.Account{a, b}, txs, schemes, now)
	assert.Equal(t, 2, s.Accounts)
	assert.Equal(t, "12020", s.Totals.Savings.String())
	assert.Equal(t, "500", s.Totals.FD.String())
	assert.Equal(t, "80", s.Totals.Loan.String())
	assert.Equal(t, "1.5", s.Totals.AccruedFD.String())

	assert.Equal(t, 2, s.ByKind[models.KindDeposit].Count)
	assert.Equal(t, "12520", s.ByKind[models.KindDeposit].Amount.String())
	assert.Equal(t, 0, s.ByKind[models.KindInterestFD].Count)

	require.Len(t, s.Schemes, 2)
	assert.Equal(t, SchemeHolders{Scheme: models.SchemeDeposit, Rate: d("4"), Count: 2}, s.Schemes[0])
	assert.Equal(t, 1, s.Schemes[1].Count)

	assert.Equal(t, 1, s.SavingsRanges["0-10k"])
	assert.Equal(t, 1, s.SavingsRanges["10k-50k"])
	assert.Equal(t, 0, s.SavingsRanges["100k+"])
}

func TestReporter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	schedule := rates.NewSchedule(s)
	l := ledger.NewLedger(s, schedule)
	r := NewReporter(l, schedule)

	acc, err := l.CreateAccount(ctx, "kid")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, acc.ID, d("40"))
	require.NoError(t, err)
	_, err = schedule.CreateScheme(ctx, models.SchemeDeposit, d("3"))
	require.NoError(t, err)

	rep, err := r.Account(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, rep.InSync)
	assert.Equal(t, "40", rep.Ledger.Savings.String())
	assert.Equal(t, 1, rep.ByKind[models.KindDeposit].Count)
	assert.True(t, rep.InterestPosted.Savings.IsZero())

	sum, err := r.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Accounts)
	require.Len(t, sum.Schemes, 1)
	assert.Equal(t, 1, sum.Schemes[0].Count)

	_, err = r.Account(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}
