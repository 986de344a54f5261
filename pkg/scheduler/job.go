package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. Context carries cancellation and the per-job timeout.
	Execute(ctx context.Context) error

	// AccountID identifies the account the job works on, for logging.
	AccountID() string

	Description() string
}

// JobProvider builds the jobs for one scheduled run.
type JobProvider func(context.Context) ([]Job, error)
