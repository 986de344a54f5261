package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	id    string
	runs  *int32
	fail  bool
	delay time.Duration
}

func (j countingJob) Execute(ctx context.Context) error {
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	atomic.AddInt32(j.runs, 1)
	if j.fail {
		return errors.New("boom")
	}
	return nil
}

func (j countingJob) AccountID() string   { return j.id }
func (j countingJob) Description() string { return "count" }

func TestParseScheduleTime(t *testing.T) {
	st, err := ParseScheduleTime("02:30")
	require.NoError(t, err)
	assert.Equal(t, ScheduleTime{Hour: 2, Minute: 30}, st)
	assert.Equal(t, "02:30", st.String())

	for _, bad := range []string{"24:00", "12:60", "noon", "-1:10"} {
		_, err := ParseScheduleTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestNew_Validation(t *testing.T) {
	provider := func(context.Context) ([]Job, error) { return nil, nil }

	_, err := New(Config{JobProvider: provider})
	assert.Error(t, err)

	_, err = New(Config{ScheduleTimes: []string{"25:00"}, JobProvider: provider})
	assert.Error(t, err)

	_, err = New(Config{ScheduleTimes: []string{"01:00"}})
	assert.Error(t, err)
}

func TestScheduler_ShouldRunOncePerMinute(t *testing.T) {
	s, err := New(Config{
		ScheduleTimes: []string{"00:05", "12:00"},
		WorkerCount:   1,
		QueueSize:     1,
		JobProvider:   func(context.Context) ([]Job, error) { return nil, nil },
	})
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 0, 5, 10, 0, time.UTC)
	assert.True(t, s.shouldRun(at))
	assert.False(t, s.shouldRun(at.Add(20*time.Second)))
	assert.False(t, s.shouldRun(at.Add(time.Minute)))
	assert.True(t, s.shouldRun(at.AddDate(0, 0, 1)))
	assert.True(t, s.shouldRun(time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)))
}

func TestScheduler_NextRun(t *testing.T) {
	s, err := New(Config{
		ScheduleTimes: []string{"23:30", "00:05"},
		WorkerCount:   1,
		JobProvider:   func(context.Context) ([]Job, error) { return nil, nil },
	})
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC), s.NextRun(now))

	late := time.Date(2024, 3, 1, 23, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC), s.NextRun(late))
}

func TestScheduler_TriggerNowRunsAllJobs(t *testing.T) {
	var runs int32
	jobs := []Job{
		countingJob{id: "a", runs: &runs},
		countingJob{id: "b", runs: &runs, fail: true},
		countingJob{id: "c", runs: &runs},
	}
	s, err := New(Config{
		ScheduleTimes: []string{"03:00"},
		WorkerCount:   2,
		QueueSize:     10,
		JobProvider:   func(context.Context) ([]Job, error) { return jobs, nil },
	})
	require.NoError(t, err)

	s.Start()
	defer s.Shutdown(5 * time.Second)
	s.TriggerNow()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_SubmitBatchWaitsForRoom(t *testing.T) {
	var runs int32
	wp := NewWorkerPool(1, 0, 1, nil)
	wp.Start()

	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = countingJob{id: "a", runs: &runs, delay: time.Millisecond}
	}
	assert.Equal(t, 10, wp.SubmitBatch(context.Background(), jobs))

	wp.ShutdownWithTimeout(5 * time.Second)
	assert.Equal(t, int32(10), atomic.LoadInt32(&runs))
}

func TestWorkerPool_SubmitBatchStopsWithContext(t *testing.T) {
	var runs int32
	wp := NewWorkerPool(1, 0, 1, nil)
	defer wp.ShutdownWithTimeout(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// No workers are running, so only the first job fits in the queue.
	n := wp.SubmitBatch(ctx, []Job{
		countingJob{id: "a", runs: &runs},
		countingJob{id: "b", runs: &runs},
		countingJob{id: "c", runs: &runs},
	})
	assert.Equal(t, 1, n)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	var runs int32
	wp := NewWorkerPool(2, 0, 1, nil)
	wp.Start()
	wp.ShutdownWithTimeout(time.Second)

	assert.NotPanics(t, func() {
		n := wp.SubmitBatch(context.Background(), []Job{countingJob{id: "late", runs: &runs}})
		assert.Equal(t, 0, n)
	})
	assert.NotPanics(t, func() { wp.ShutdownWithTimeout(time.Second) })
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

func TestWorkerPool_ShutdownReleasesBlockedSubmitter(t *testing.T) {
	var runs int32
	wp := NewWorkerPool(1, 0, 1, nil)

	require.Equal(t, 1, wp.SubmitBatch(context.Background(), []Job{countingJob{id: "a", runs: &runs}}))

	queued := make(chan int, 1)
	go func() {
		queued <- wp.SubmitBatch(context.Background(), []Job{countingJob{id: "b", runs: &runs}})
	}()
	time.Sleep(20 * time.Millisecond)
	wp.ShutdownWithTimeout(time.Second)

	select {
	case n := <-queued:
		assert.Equal(t, 0, n)
	case <-time.After(5 * time.Second):
		t.Fatal("submitter still blocked after shutdown")
	}
}

func TestWorkerPool_ShutdownWithTimeoutCancelsSlowJobs(t *testing.T) {
	var runs int32
	wp := NewWorkerPool(1, 0, 4, nil)
	wp.Start()
	wp.SubmitBatch(context.Background(), []Job{countingJob{id: "slow", runs: &runs, delay: time.Hour}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		wp.ShutdownWithTimeout(50 * time.Millisecond)
	}()
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}
