package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/internal/core"
	domainjob "github.com/devion-industries/maintainer-brief/internal/domain/job"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/service/failurenotifier"
)

// harness wires the analysis path over in-memory stores.
type harness struct {
	clock     *testClock
	jobs      *memJobs
	queueRepo *memQueue
	outputs   *memOutputs
	repos     *memRepos
	cache     *memCacheRepo
	fetcher   *stubFetcher
	generator *stubGenerator
	notifier  *recordingNotifier
	alerts    *fixedFailureSink
	metrics   *statsd.Recorder

	gate     *Gate
	queue    *QueueService
	analysis *AnalysisService
	executor *PipelineExecutor
	repo     *model.ScheduledRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	h := &harness{
		clock:     newTestClock(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)),
		outputs:   newMemOutputs(),
		cache:     newMemCacheRepo(),
		fetcher:   &stubFetcher{snapshot: testSnapshot(12)},
		generator: &stubGenerator{},
		notifier:  &recordingNotifier{},
		alerts:    &fixedFailureSink{},
		metrics:   &statsd.Recorder{},
		repo:      testRepo(model.RecurrenceManual, nil),
	}
	h.jobs = newMemJobs(h.clock)
	h.queueRepo = newMemQueue(h.clock)
	h.repos = newMemRepos(h.repo)

	var err error
	h.gate, err = NewGate(GateOptions{
		Jobs:   h.jobs,
		Cache:  core.NewRecentSuccessCache(h.cache, DefaultIdempotencyWindow),
		Now:    h.clock.Now,
		Logger: logger,
	})
	require.NoError(t, err)

	lease, err := domainjob.NewLeasePolicy(time.Minute)
	require.NoError(t, err)
	h.queue, err = NewQueueService(QueueServiceOptions{
		Repo:        h.queueRepo,
		LeasePolicy: lease,
		Logger:      logger,
		Metrics:     h.metrics,
		FailureNotifier: failurenotifier.NewService(failurenotifier.Options{
			Logger: logger,
			Sinks:  []failurenotifier.SinkRegistration{{Name: "test", Sink: h.alerts}},
		}),
	})
	require.NoError(t, err)

	h.analysis, err = NewAnalysisService(AnalysisServiceOptions{
		Repos:   h.repos,
		Jobs:    h.jobs,
		Gate:    h.gate,
		Queue:   h.queue,
		Backoff: time.Second,
		Logger:  logger,
	})
	require.NoError(t, err)

	h.executor, err = NewPipelineExecutor(PipelineExecutorOptions{
		Jobs:      h.jobs,
		Outputs:   h.outputs,
		Repos:     h.repos,
		Fetcher:   h.fetcher,
		Generator: h.generator,
		Notifier:  h.notifier,
		Gate:      h.gate,
		Metrics:   h.metrics,
		Logger:    logger,
	})
	require.NoError(t, err)
	return h
}

// trigger starts a manual analysis of the harness repo.
func (h *harness) trigger(t *testing.T, commit string) *TriggerResult {
	t.Helper()
	res, err := h.analysis.Trigger(context.Background(), TriggerRequest{
		RepoID:    h.repo.Repo.ID,
		Trigger:   model.TriggerManual,
		CommitSHA: commit,
	})
	require.NoError(t, err)
	return res
}

// deliver performs one worker delivery the way the analysis runner does. It returns false when
// nothing was deliverable.
func (h *harness) deliver(t *testing.T) bool {
	t.Helper()
	ctx := context.Background()
	entry, err := h.queue.ReserveNext(ctx, model.QueueKindAnalysis, 0)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		return false
	}
	require.NoError(t, err)

	payload, err := model.DecodePayload(entry.Payload)
	require.NoError(t, err)

	execErr := h.executor.Execute(ctx, ExecuteRequest{
		Payload:      *payload.Analysis,
		FinalAttempt: entry.FinalAttempt(),
	})
	if execErr == nil {
		_, err = h.queue.Complete(ctx, entry)
		require.NoError(t, err)
		return true
	}
	_, err = h.queue.Fail(ctx, entry, execErr.Error(), FailureDetails{
		Permanent:    IsPermanentFailure(execErr),
		Cause:        execErr,
		RepoID:       payload.Analysis.RepoID,
		RepoFullName: payload.Analysis.Owner + "/" + payload.Analysis.Name,
	})
	require.NoError(t, err)
	return true
}

// drain delivers until the queue is idle, stepping the clock past redelivery backoff.
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	deliveries := 0
	for range 20 {
		if h.deliver(t) {
			deliveries++
			continue
		}
		stats, err := h.queueRepo.Stats(context.Background(), model.QueueKindAnalysis)
		require.NoError(t, err)
		if stats.Pending == 0 {
			return deliveries
		}
		h.clock.Advance(time.Minute)
	}
	t.Fatalf("queue did not drain")
	return deliveries
}
