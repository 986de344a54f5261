// Package report builds read-only aggregates over accounts and their ledgers.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/shopspring/decimal"
)

// trendMonths is how many calendar months the trend series cover, ending with the current one.
const trendMonths = 12

const monthKeyLayout = "2006-01"

// Totals are balance and accrual sums.
type Totals struct {
	Savings        decimal.Decimal `json:"savings"`
	FD             decimal.Decimal `json:"fd"`
	Loan           decimal.Decimal `json:"loan"`
	AccruedSavings decimal.Decimal `json:"accrued_savings_interest"`
	AccruedFD      decimal.Decimal `json:"accrued_fd_interest"`
	AccruedLoan    decimal.Decimal `json:"accrued_loan_interest"`
}

func (t *Totals) addAccount(a *models.Account) {
	t.Savings = t.Savings.Add(a.SavingsBalance)
	t.FD = t.FD.Add(a.FDBalance)
	t.Loan = t.Loan.Add(a.LoanBalance)
	t.AccruedSavings = t.AccruedSavings.Add(a.AccruedSavingsInterest)
	t.AccruedFD = t.AccruedFD.Add(a.AccruedFDInterest)
	t.AccruedLoan = t.AccruedLoan.Add(a.AccruedLoanInterest)
}

// KindStats counts and sums the entries of one kind.
type KindStats struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// MonthPoint is one month of a trend series.
type MonthPoint struct {
	Month string          `json:"month"`
	Count int             `json:"count"`
	Net   decimal.Decimal `json:"net_savings"`
}

// SchemeHolders is how many accounts hold a positive balance under a scheme.
type SchemeHolders struct {
	Scheme models.SchemeName `json:"scheme"`
	Rate   decimal.Decimal   `json:"annual_rate_percent"`
	Count  int               `json:"accounts"`
}

// Summary aggregates every account.
type Summary struct {
	GeneratedAt   time.Time                             `json:"generated_at"`
	Accounts      int                                   `json:"accounts"`
	Totals        Totals                                `json:"totals"`
	ByKind        map[models.TransactionKind]*KindStats `json:"by_kind"`
	Monthly       []MonthPoint                          `json:"monthly"`
	Schemes       []SchemeHolders                       `json:"schemes"`
	SavingsRanges map[string]int                        `json:"savings_ranges"`
}

// AccountReport aggregates one account.
type AccountReport struct {
	GeneratedAt time.Time                             `json:"generated_at"`
	Account     *models.Account                       `json:"account"`
	Ledger      models.Balances                       `json:"ledger_balances"`
	InSync      bool                                  `json:"in_sync"`
	ByKind      map[models.TransactionKind]*KindStats `json:"by_kind"`
	Monthly     []MonthPoint                          `json:"monthly"`
	// InterestPosted sums the interest entries by balance.
	InterestPosted models.Balances `json:"interest_posted"`
}

type savingsRange struct {
	label string
	floor decimal.Decimal
}

var savingsRanges = []savingsRange{
	{"100k+", decimal.NewFromInt(100000)},
	{"50k-100k", decimal.NewFromInt(50000)},
	{"10k-50k", decimal.NewFromInt(10000)},
	{"0-10k", decimal.Zero},
}

func byKind(txs []*models.Transaction) map[models.TransactionKind]*KindStats {
	out := make(map[models.TransactionKind]*KindStats, len(models.TransactionKinds))
	for _, k := range models.TransactionKinds {
		out[k] = &KindStats{}
	}
	for _, t := range txs {
		s, ok := out[t.Kind]
		if !ok {
			continue
		}
		s.Count++
		s.Amount = s.Amount.Add(t.Amount)
	}
	return out
}

// monthly buckets entries into the trendMonths calendar months ending with
// now's. Net tracks deposits minus withdrawals.
func monthly(txs []*models.Transaction, now time.Time) []MonthPoint {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(trendMonths - 1), 0)

	points := make([]MonthPoint, trendMonths)
	index := make(map[string]int, trendMonths)
	for i := range points {
		key := first.AddDate(0, i, 0).Format(monthKeyLayout)
		points[i] = MonthPoint{Month: key}
		index[key] = i
	}

	for _, t := range txs {
		i, ok := index[t.Timestamp.UTC().Format(monthKeyLayout)]
		if !ok {
			continue
		}
		points[i].Count++
		switch t.Kind {
		case models.KindDeposit:
			points[i].Net = points[i].Net.Add(t.Amount)
		case models.KindWithdrawal:
			points[i].Net = points[i].Net.Sub(t.Amount)
		}
	}
	return points
}

// Summarize builds the cross-account summary.
func Summarize(accounts []*models.Account, txs []*models.Transaction, schemes []*models.RateScheme, now time.Time) *Summary {
	s := &Summary{
		GeneratedAt:   now.UTC(),
		Accounts:      len(accounts),
		ByKind:        byKind(txs),
		Monthly:       monthly(txs, now),
		SavingsRanges: make(map[string]int, len(savingsRanges)),
	}
	for _, r := range savingsRanges {
		s.SavingsRanges[r.label] = 0
	}

	holders := make(map[models.SchemeName]int)
	for _, a := range accounts {
		s.Totals.addAccount(a)
		for _, bt := range models.BalanceTypes {
			if a.Balances().Get(bt).IsPositive() {
				holders[bt.Scheme()]++
			}
		}
		for _, r := range savingsRanges {
			if a.SavingsBalance.GreaterThanOrEqual(r.floor) {
				s.SavingsRanges[r.label]++
				break
			}
		}
	}

	for _, sc := range schemes {
		s.Schemes = append(s.Schemes, SchemeHolders{
			Scheme: sc.Name,
			Rate:   sc.AnnualRatePercent,
			Count:  holders[sc.Name],
		})
	}
	return s
}

// ForAccount builds the report of one account from its ledger.
func ForAccount(a *models.Account, txs []*models.Transaction, now time.Time) *AccountReport {
	r := &AccountReport{
		GeneratedAt: now.UTC(),
		Account:     a,
		Ledger:      ledger.Reconcile(txs),
		ByKind:      byKind(txs),
		Monthly:     monthly(txs, now),
	}
	r.InSync = r.Ledger.Equal(a.Balances())
	for _, t := range txs {
		switch t.Kind {
		case models.KindInterestSavings:
			r.InterestPosted.Savings = r.InterestPosted.Savings.Add(t.Amount)
		case models.KindInterestFD:
			r.InterestPosted.FD = r.InterestPosted.FD.Add(t.Amount)
		case models.KindInterestLoan:
			r.InterestPosted.Loan = r.InterestPosted.Loan.Add(t.Amount)
		}
	}
	return r
}

// Reporter loads what the reports need through the ledger and schedule.
type Reporter struct {
	ledger   *ledger.Ledger
	schedule *rates.Schedule
}

func NewReporter(l *ledger.Ledger, schedule *rates.Schedule) *Reporter {
	return &Reporter{ledger: l, schedule: schedule}
}

// Summary reports on every account.
func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	accounts, err := r.ledger.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	txs, err := r.ledger.AllTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	schemes, err := r.schedule.ListSchemes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemes: %w", err)
	}
	return Summarize(accounts, txs, schemes, r.ledger.Now()), nil
}

// Account reports on one account.
func (r *Reporter) Account(ctx context.Context, id uuid.UUID) (*AccountReport, error) {
	a, err := r.ledger.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := r.ledger.Transactions(ctx, id)
	if err != nil {
		return nil, err
	}
	return ForAccount(a, txs, r.ledger.Now()), nil
}
