package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer       = otel.Tracer("kidledger/scheduler")
	jobMeter        = otel.Meter("kidledger/scheduler")
	jobDuration, _  = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _     = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobNotQueued, _ = jobMeter.Int64Counter("scheduler.job.not_queued", metric.WithDescription("Jobs abandoned before reaching the queue"))
)

var errPoolClosed = errors.New("worker pool is shut down")

const defaultJobTimeout = 2 * time.Minute

// WorkerPool runs jobs on a fixed number of goroutines fed from a bounded
// queue. Submitting waits for room in the queue rather than dropping work.
type WorkerPool struct {
	workers    int
	jobDelay   time.Duration
	jobTimeout time.Duration
	logger     *slog.Logger

	queue    chan Job
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	// mu guards closed; senders hold it shared so the queue is never
	// closed under them.
	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool creates a pool. jobDelay spaces out consecutive jobs on a
// worker; queueSize bounds the number of pending jobs.
func NewWorkerPool(workers int, jobDelay time.Duration, queueSize int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:    workers,
		jobDelay:   jobDelay,
		jobTimeout: defaultJobTimeout,
		logger:     logger,
		queue:      make(chan Job, queueSize),
		quit:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info("starting worker pool", "workers", wp.workers)
	for i := 1; i <= wp.workers; i++ {
		wp.wg.Add(1)
		go wp.work(i)
	}
}

// work drains the queue until it is closed or the pool is cancelled.
func (wp *WorkerPool) work(id int) {
	defer wp.wg.Done()
	for job := range wp.queue {
		if wp.ctx.Err() != nil {
			return
		}
		wp.execute(id, job)

		if wp.jobDelay > 0 {
			select {
			case <-time.After(wp.jobDelay):
			case <-wp.ctx.Done():
				return
			}
		}
	}
}

func (wp *WorkerPool) execute(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.Int("worker.id", workerID),
		attribute.String("job.description", job.Description()),
		attribute.String("job.account_id", job.AccountID()),
	))
	defer span.End()

	start := time.Now()
	err := job.Execute(ctx)
	jobDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		wp.logger.Error("job failed", "worker", workerID, "job", job.Description(), "account_id", job.AccountID(), "error", err)
		return
	}
	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	wp.logger.Debug("job completed", "worker", workerID, "job", job.Description(), "account_id", job.AccountID())
}

// submit waits until job is queued, ctx ends or the pool shuts down.
func (wp *WorkerPool) submit(ctx context.Context, job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return errPoolClosed
	}
	select {
	case wp.queue <- job:
		return nil
	case <-wp.quit:
		return errPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch queues jobs in order, waiting for room as workers free up, and
// returns how many were queued. It stops early when ctx ends or the pool
// shuts down.
func (wp *WorkerPool) SubmitBatch(ctx context.Context, jobs []Job) int {
	for i, job := range jobs {
		if err := wp.submit(ctx, job); err != nil {
			left := len(jobs) - i
			jobNotQueued.Add(context.Background(), int64(left))
			wp.logger.Warn("stopped submitting jobs", "queued", i, "abandoned", left, "error", err)
			return i
		}
	}
	wp.logger.Info("submitted jobs to worker pool", "queued", len(jobs))
	return len(jobs)
}

// ShutdownWithTimeout stops accepting jobs and lets the workers drain the
// queue. Jobs still running when timeout expires are cancelled.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.quitOnce.Do(func() {
		// Wakes senders blocked on a full queue so they release the lock.
		close(wp.quit)
		wp.mu.Lock()
		wp.closed = true
		close(wp.queue)
		wp.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info("worker pool: all workers finished")
	case <-time.After(timeout):
		wp.logger.Warn("worker pool: timeout reached, cancelling running jobs")
	}
	wp.cancel()
}
