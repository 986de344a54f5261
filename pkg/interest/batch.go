package interest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/rates"
	"github.com/mcclellann/kidLedger/pkg/scheduler"
)

// Failure records one account that could not be processed in a batch.
type Failure struct {
	AccountID uuid.UUID `json:"account_id"`
	Error     string    `json:"error"`
}

// BatchResult summarises a run over all accounts.
type BatchResult struct {
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Posted    int       `json:"posted"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (r *BatchResult) add(res *Result) {
	r.Processed++
	if res.Skipped {
		r.Skipped++
	}
	r.Posted += len(res.Posted)
}

type accountFunc func(ctx context.Context, id uuid.UUID, at time.Time, snap *rates.Snapshot) (*Result, error)

// run applies fn to every account. A failing account is logged and recorded
// and the run moves on.
func (e *Engine) run(ctx context.Context, name string, at time.Time, fn accountFunc) (*BatchResult, error) {
	accounts, err := e.ledger.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	snap, err := e.schedule.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res, err := fn(ctx, account.ID, at, snap)
		if err != nil {
			e.logger.Error("interest batch: account failed", "batch", name, "account_id", account.ID, "error", err)
			batchFailuresTotal.Add(ctx, 1)
			result.Failures = append(result.Failures, Failure{AccountID: account.ID, Error: err.Error()})
			continue
		}
		result.add(res)
	}

	e.logger.Info("interest batch complete", "batch", name, "processed", result.Processed,
		"skipped", result.Skipped, "posted", result.Posted, "failed", len(result.Failures))
	return result, nil
}

// RunDaily accrues a day of interest on every account.
func (e *Engine) RunDaily(ctx context.Context, now time.Time) (*BatchResult, error) {
	return e.run(ctx, "daily", now.UTC(), e.accrueDaily)
}

// RunCalculateNow runs the pro-rata calculation on every account.
func (e *Engine) RunCalculateNow(ctx context.Context, asOf time.Time) (*BatchResult, error) {
	return e.run(ctx, "calculate_now", asOf.UTC(), e.calculateNow)
}

// RunMonthEnd posts accrued interest on every account.
func (e *Engine) RunMonthEnd(ctx context.Context, now time.Time) (*BatchResult, error) {
	return e.run(ctx, "month_end", now.UTC(), func(ctx context.Context, id uuid.UUID, at time.Time, _ *rates.Snapshot) (*Result, error) {
		return e.PostMonthEnd(ctx, id, at)
	})
}

// AccrualJob accrues one account's daily interest when executed.
type AccrualJob struct {
	engine    *Engine
	accountID uuid.UUID
}

func (j *AccrualJob) Execute(ctx context.Context) error {
	_, err := j.engine.AccrueDaily(ctx, j.accountID, j.engine.ledger.Now())
	return err
}

func (j *AccrualJob) AccountID() string {
	return j.accountID.String()
}

func (j *AccrualJob) Description() string {
	return "daily interest accrual"
}

// Jobs returns one accrual job per account. It satisfies scheduler.JobProvider.
func (e *Engine) Jobs(ctx context.Context) ([]scheduler.Job, error) {
	accounts, err := e.ledger.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	jobs := make([]scheduler.Job, 0, len(accounts))
	for _, account := range accounts {
		jobs = append(jobs, &AccrualJob{engine: e, accountID: account.ID})
	}
	return jobs, nil
}
