package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/daytrader/pkg/logger"
)

type countingJob struct {
	name     string
	schedule string
	failures int32
	retries  int
	calls    atomic.Int32
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }
func (j *countingJob) Run(context.Context) error {
	if j.calls.Add(1) <= j.failures {
		return errors.New("transient")
	}
	return nil
}

type noRetryJob struct{ countingJob }

func (j *noRetryJob) MaxRetries() int { return 0 }

func testScheduler() *Scheduler {
	return New(logger.Nop(), Options{MaxRetries: 2, RetryDelay: time.Millisecond})
}

func waitRuns(t *testing.T, s *Scheduler, name string, n int) *JobHistory {
	t.Helper()
	var h *JobHistory
	require.Eventually(t, func() bool {
		got, err := s.GetJobHistory(name)
		if err != nil {
			return false
		}
		h = got
		return len(h.Results) >= n
	}, time.Second, 5*time.Millisecond)
	return h
}

func TestSchedulerAddJob(t *testing.T) {
	s := testScheduler()

	require.NoError(t, s.AddJob(&countingJob{name: "b", schedule: "0 25 13 * * MON-FRI"}))
	require.NoError(t, s.AddJob(&countingJob{name: "a", schedule: "@daily"}))
	assert.Error(t, s.AddJob(&countingJob{name: "a", schedule: "@daily"}), "duplicate name")
	assert.Error(t, s.AddJob(&countingJob{name: "c", schedule: "not a schedule"}))

	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())

	require.NoError(t, s.RemoveJob("a"))
	assert.Error(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.GetAllJobs())
}

func TestSchedulerRunJobRetries(t *testing.T) {
	s := testScheduler()
	job := &countingJob{name: "flaky", schedule: "@daily", failures: 2}
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("flaky"))
	h := waitRuns(t, s, "flaky", 1)

	assert.Equal(t, int32(3), job.calls.Load())
	assert.True(t, h.Results[0].Success)
	assert.Equal(t, 1.0, h.GetSuccessRate())

	assert.Error(t, s.RunJob("missing"))
}

func TestSchedulerRetryPolicy(t *testing.T) {
	s := testScheduler()
	job := &noRetryJob{countingJob{name: "once", schedule: "@daily", failures: 5}}
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("once"))
	h := waitRuns(t, s, "once", 1)

	assert.Equal(t, int32(1), job.calls.Load())
	assert.False(t, h.Results[0].Success)
	assert.Equal(t, "transient", h.Results[0].Error)

	stats := s.GetJobStats()["once"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.FailureCount)
	require.NotNil(t, stats.LastFailure)
	assert.Nil(t, stats.LastSuccess)
}

func TestSchedulerNextRun(t *testing.T) {
	s := testScheduler()
	require.NoError(t, s.AddJob(&countingJob{name: "open", schedule: "0 25 13 * * MON-FRI"}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		next, ok := s.NextRun("open")
		return ok && !next.IsZero()
	}, time.Second, 5*time.Millisecond)

	next, _ := s.NextRun("open")
	assert.Equal(t, 13, next.UTC().Hour())
	assert.Equal(t, 25, next.UTC().Minute())
	assert.NotEqual(t, time.Saturday, next.UTC().Weekday())
	assert.NotEqual(t, time.Sunday, next.UTC().Weekday())

	_, ok := s.NextRun("missing")
	assert.False(t, ok)
}

func TestJobHistoryKeepsLast100(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < 120; i++ {
		h.AddResult(JobResult{JobName: "x", Success: i%2 == 0})
	}
	assert.Len(t, h.Results, 100)
	assert.Len(t, h.GetLatestResults(5), 5)
	assert.Len(t, h.GetFailedResults(), 50)
	assert.InDelta(t, 0.5, h.GetSuccessRate(), 1e-9)
	assert.Empty(t, (&JobHistory{}).GetLatestResults(3))
}
