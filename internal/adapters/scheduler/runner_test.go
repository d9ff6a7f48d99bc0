package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
)

type stubScheduler struct {
	mu    sync.Mutex
	calls []time.Time
	res   core.SweepResult
	err   error
}

func (s *stubScheduler) Sweep(_ context.Context, now time.Time) (core.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, now)
	return s.res, s.err
}

func (s *stubScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestNewRunner_RequiresScheduler(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestTick_EmitsMetrics(t *testing.T) {
	fixed := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	rec := &statsd.Recorder{}
	sched := &stubScheduler{res: core.SweepResult{Considered: 3, Triggered: 2, Deduplicated: 1}}
	r, err := NewRunner(RunnerOptions{Scheduler: sched, Metrics: rec, Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	res := r.Tick(context.Background())
	assert.Equal(t, 2, res.Triggered)
	require.Len(t, sched.calls, 1)
	assert.True(t, fixed.Equal(sched.calls[0]))
	assert.Equal(t, int64(1), rec.Sum("scheduler.tick", map[string]string{"result": "success"}))
}

func TestTick_ErrorDoesNotPanic(t *testing.T) {
	rec := &statsd.Recorder{}
	sched := &stubScheduler{err: errors.New("list scheduled repos: connection refused")}
	r, err := NewRunner(RunnerOptions{Scheduler: sched, Metrics: rec})
	require.NoError(t, err)

	r.Tick(context.Background())
	assert.Equal(t, int64(1), rec.Sum("scheduler.tick", map[string]string{"result": "error"}))
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	sched := &stubScheduler{}
	r, err := NewRunner(RunnerOptions{Scheduler: sched, Interval: 5 * time.Millisecond, RunImmediately: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return sched.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
