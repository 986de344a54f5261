// Package interest accrues, posts and pro-rates interest on top of the ledger.
package interest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer                = otel.Tracer("kidledger/interest")
	meter                 = otel.Meter("kidledger/interest")
	accrualsTotal, _      = meter.Int64Counter("interest.accruals.total", metric.WithDescription("Daily accruals by outcome"))
	postingsTotal, _      = meter.Int64Counter("interest.postings.total", metric.WithDescription("Interest transactions posted by kind"))
	batchFailuresTotal, _ = meter.Int64Counter("interest.batch.failures", metric.WithDescription("Accounts that failed during a batch run"))
)

var (
	errAlreadyAccrued    = errors.New("already accrued through this day")
	errAlreadyCalculated = errors.New("already calculated for this month")
	errNothingToPost     = errors.New("nothing to post")
)

// Engine runs the interest paths against the ledger.
type Engine struct {
	ledger   *ledger.Ledger
	schedule *rates.Schedule
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine that reads rates from schedule and writes through l.
func NewEngine(l *ledger.Ledger, schedule *rates.Schedule, opts ...Option) *Engine {
	e := &Engine{
		ledger:   l,
		schedule: schedule,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result describes what one interest run did to one account.
type Result struct {
	AccountID uuid.UUID                              `json:"account_id"`
	Skipped   bool                                   `json:"skipped"`
	Days      int                                    `json:"days,omitempty"`
	Accrued   map[models.BalanceType]decimal.Decimal `json:"accrued,omitempty"`
	Posted    []*models.Transaction                  `json:"posted,omitempty"`
	Account   *models.Account                        `json:"account,omitempty"`
}

// AccrueDaily adds a day of interest to each balance that has a scheme, for
// every UTC day after the last accrual up to and including now's day. Days
// already accrued, including any after now, change nothing. Each last day of
// a month crossed posts the accrued interest in the same unit of work.
func (e *Engine) AccrueDaily(ctx context.Context, id uuid.UUID, now time.Time) (*Result, error) {
	snap, err := e.schedule.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return e.accrueDaily(ctx, id, now.UTC(), snap)
}

func (e *Engine) accrueDaily(ctx context.Context, id uuid.UUID, now time.Time, snap *rates.Snapshot) (*Result, error) {
	ctx, span := tracer.Start(ctx, "interest.accrue_daily", trace.WithAttributes(attribute.String("account_id", id.String())))
	defer span.End()

	res := &Result{AccountID: id}
	out, err := e.ledger.Mutate(ctx, []uuid.UUID{id}, func(u *ledger.Unit) error {
		account := u.Account(id)
		days := 1
		if account.LastAccrualAt != nil {
			days = daysAfter(*account.LastAccrualAt, now)
		}
		if days < 1 {
			return errAlreadyAccrued
		}
		txs, err := u.Transactions(id)
		if err != nil {
			return err
		}

		res.Days = days
		res.Accrued = make(map[models.BalanceType]decimal.Decimal)
		for i := days - 1; i >= 0; i-- {
			at := now.AddDate(0, 0, -i)
			b := ledger.BalanceAt(txs, at)
			for _, bt := range models.BalanceTypes {
				rate, ok := snap.RateAt(bt.Scheme(), at)
				if !ok {
					continue
				}
				daily := DailyInterest(b.Get(bt), rate)
				account.SetAccrued(bt, account.Accrued(bt).Add(daily))
				res.Accrued[bt] = res.Accrued[bt].Add(daily)
			}

			if IsLastDayOfMonth(at) {
				posted, err := postAccrued(u, id, at)
				if err != nil {
					return err
				}
				if len(posted) > 0 {
					if txs, err = u.Transactions(id); err != nil {
						return err
					}
				}
			}
		}
		if days > 1 {
			e.logger.Info("caught up missed accrual days", "account_id", id, "days", days)
		}
		account.LastAccrualAt = &now
		return nil
	})
	if errors.Is(err, errAlreadyAccrued) {
		accrualsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "skipped")))
		return &Result{AccountID: id, Skipped: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		accrualsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		return nil, fmt.Errorf("failed to accrue interest for %s: %w", id, err)
	}

	accrualsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	res.Posted = out.Transactions
	res.Account = out.Accounts[id]
	recordPostings(ctx, res.Posted)
	return res, nil
}

// postAccrued turns each balance's accrued interest into a ledger entry when
// it rounds to at least a cent, zeroes what was posted and reconciles.
func postAccrued(u *ledger.Unit, id uuid.UUID, at time.Time) ([]*models.Transaction, error) {
	account := u.Account(id)
	var posted []*models.Transaction
	for _, bt := range models.BalanceTypes {
		amount := account.Accrued(bt).Round(2)
		if !amount.IsPositive() {
			continue
		}
		t, err := u.Append(id, bt.InterestKind(), amount, at, "month-end interest")
		if err != nil {
			return nil, err
		}
		account.SetAccrued(bt, decimal.Zero)
		posted = append(posted, t)
	}
	if len(posted) == 0 {
		return nil, nil
	}
	if _, err := u.Reconcile(id); err != nil {
		return nil, err
	}
	return posted, nil
}

// PostMonthEnd posts the account's accrued interest dated now. An account
// with nothing worth a cent is left untouched.
func (e *Engine) PostMonthEnd(ctx context.Context, id uuid.UUID, now time.Time) (*Result, error) {
	now = now.UTC()
	out, err := e.ledger.Mutate(ctx, []uuid.UUID{id}, func(u *ledger.Unit) error {
		posted, err := postAccrued(u, id, now)
		if err != nil {
			return err
		}
		if len(posted) == 0 {
			return errNothingToPost
		}
		return nil
	})
	if errors.Is(err, errNothingToPost) {
		return &Result{AccountID: id, Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to post interest for %s: %w", id, err)
	}
	recordPostings(ctx, out.Transactions)
	return &Result{AccountID: id, Posted: out.Transactions, Account: out.Accounts[id]}, nil
}

// CalculateNow posts pro-rata interest for the period since the last
// calculation (or account creation) up to asOf, at most once per calendar
// month. An asOf that does not move past the last calculation's month, or
// that falls before the account existed, is skipped and leaves the account
// untouched.
func (e *Engine) CalculateNow(ctx context.Context, id uuid.UUID, asOf time.Time) (*Result, error) {
	snap, err := e.schedule.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return e.calculateNow(ctx, id, asOf.UTC(), snap)
}

func (e *Engine) calculateNow(ctx context.Context, id uuid.UUID, asOf time.Time, snap *rates.Snapshot) (*Result, error) {
	ctx, span := tracer.Start(ctx, "interest.calculate_now", trace.WithAttributes(attribute.String("account_id", id.String())))
	defer span.End()

	out, err := e.ledger.Mutate(ctx, []uuid.UUID{id}, func(u *ledger.Unit) error {
		account := u.Account(id)
		start := account.CreatedAt
		if account.LastInterestCalcAt != nil {
			start = *account.LastInterestCalcAt
			if monthsAfter(start, asOf) < 1 {
				return errAlreadyCalculated
			}
		}
		if !asOf.After(start) {
			return errAlreadyCalculated
		}
		txs, err := u.Transactions(id)
		if err != nil {
			return err
		}

		for _, bt := range models.BalanceTypes {
			rate, ok := snap.RateAt(bt.Scheme(), start)
			if !ok {
				continue
			}
			amount := ProRataInterest(txs, bt, start, asOf, rate)
			if !amount.IsPositive() {
				continue
			}
			if _, err := u.Append(id, bt.InterestKind(), amount, asOf, "pro-rata interest"); err != nil {
				return err
			}
		}
		at := asOf
		account.LastInterestCalcAt = &at
		_, err = u.Reconcile(id)
		return err
	})
	if errors.Is(err, errAlreadyCalculated) {
		return &Result{AccountID: id, Skipped: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to calculate interest for %s: %w", id, err)
	}
	recordPostings(ctx, out.Transactions)
	return &Result{AccountID: id, Posted: out.Transactions, Account: out.Accounts[id]}, nil
}

func recordPostings(ctx context.Context, posted []*models.Transaction) {
	for _, t := range posted {
		postingsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(t.Kind))))
	}
}
