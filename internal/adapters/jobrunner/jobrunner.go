// Package jobrunner runs queue workers that deliver analysis and export payloads to their executors.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainjob "github.com/devion-industries/maintainer-brief/internal/domain/job"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/metrics"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/service"
)

// HandlerFunc processes one decoded delivery. A returned error is retried per the entry's policy
// unless service.IsPermanentFailure reports it as permanent.
type HandlerFunc func(ctx context.Context, entry *model.QueueEntry, payload model.QueuePayload) error

// Queue is the subset of service.QueueService the runner drives.
type Queue interface {
	ReserveNext(ctx context.Context, kind model.QueueKind, lease time.Duration) (*model.QueueEntry, error)
	Subscribe(kind model.QueueKind) (func(), <-chan struct{})
	LeaseFor(lease time.Duration) time.Duration
	Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error)
	Complete(ctx context.Context, entry *model.QueueEntry) (bool, error)
	Fail(ctx context.Context, entry *model.QueueEntry, errMsg string, details service.FailureDetails) (model.QueueStatus, error)
}

// AnalysisExecutor runs one analysis delivery.
type AnalysisExecutor interface {
	Execute(ctx context.Context, req service.ExecuteRequest) error
}

// ExportExecutor runs one export delivery.
type ExportExecutor interface {
	Execute(ctx context.Context, req service.ExportExecuteRequest) error
}

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Queue  Queue // Required
	Logger *slog.Logger

	// Job processing settings
	Lease        time.Duration   // per-delivery lease; zero uses the queue default
	Concurrency  int             // number of worker goroutines; defaults to 1
	Kind         model.QueueKind // which payload kind to process; defaults to analysis
	PollInterval time.Duration   // fallback wakeup for backoff-delayed entries; defaults to 5s

	Analysis AnalysisExecutor // Required when Kind is analysis
	Export   ExportExecutor   // Required when Kind is export
	Metrics  statsd.Sink
}

// Runner pulls queue entries and executes them using registered handlers.
type Runner struct {
	queue        Queue
	logger       *slog.Logger
	lease        time.Duration
	kind         model.QueueKind
	workers      int
	pollInterval time.Duration
	handlers     map[model.QueueKind]HandlerFunc
	metrics      statsd.Sink
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	kind := opts.Kind
	if kind == "" {
		kind = model.QueueKindAnalysis
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown queue kind %q", kind)
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		queue:        opts.Queue,
		logger:       logger.With("component", componentLabel(kind)),
		lease:        opts.Queue.LeaseFor(opts.Lease),
		kind:         kind,
		workers:      workers,
		pollInterval: poll,
		handlers:     make(map[model.QueueKind]HandlerFunc),
		metrics:      opts.Metrics,
	}
	if opts.Analysis != nil {
		r.handlers[model.QueueKindAnalysis] = analysisHandler(opts.Analysis)
	}
	if opts.Export != nil {
		r.handlers[model.QueueKindExport] = exportHandler(opts.Export)
	}
	if _, ok := r.handlers[kind]; !ok {
		return nil, fmt.Errorf("no executor configured for %s entries", kind)
	}
	return r, nil
}

// Run starts worker goroutines and processes entries until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "kind", r.kind, "workers", r.workers, "lease", r.lease)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.queue.Subscribe(r.kind)
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

// ProcessNext reserves and processes at most one entry. It reports false when nothing was
// available.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := r.queue.ReserveNext(ctx, r.kind, r.lease)
	switch {
	case err == nil:
		r.processEntry(ctx, entry)
		return true, nil
	case errors.Is(err, model.ErrNoJobsAvailable):
		return false, nil
	default:
		return false, fmt.Errorf("reserve next: %w", err)
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		processed, err := r.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !processed && !r.waitForWork(ctx, notify) {
			return nil
		}
	}
	return nil
}

// waitForWork blocks until a wakeup, the poll interval, or cancellation. Wakeups do not fire when
// a retry backoff elapses, so the poll interval bounds redelivery latency.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-notify:
		if !ok {
			// notifier stopped; fall back to polling
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) processEntry(ctx context.Context, entry *model.QueueEntry) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Kind:       string(entry.Kind),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	payload, err := model.DecodePayload(entry.Payload)
	if err == nil && payload.Kind != entry.Kind {
		err = fmt.Errorf("%w: entry kind %s carries %s payload", model.ErrPayloadKind, entry.Kind, payload.Kind)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "undecodable queue payload", "queue_id", entry.ID, "error", err)
		r.fail(ctx, entry, err, service.FailureDetails{Permanent: true, Cause: err})
		emit("execute", metrics.ResultError, err)
		return
	}

	h, ok := r.handlers[entry.Kind]
	if !ok {
		err := fmt.Errorf("no handler for queue kind %s", entry.Kind)
		r.fail(ctx, entry, err, service.FailureDetails{Permanent: true, Cause: err})
		emit("execute", metrics.ResultError, err)
		return
	}

	if err := r.execute(ctx, h, entry, payload); err != nil {
		if errors.Is(err, errLeaseLost) {
			// another worker may already hold the entry
			emit("execute", metrics.ResultNoop, err)
			return
		}
		details := failureDetails(payload)
		details.Permanent = service.IsPermanentFailure(err)
		details.Cause = err
		r.fail(ctx, entry, err, details)
		emit("execute", metrics.ResultError, err)
		return
	}

	if _, err := r.queue.Complete(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "complete queue entry error", "queue_id", entry.ID, "error", err)
		emit("execute", metrics.ResultError, err)
		return
	}
	emit("execute", metrics.ResultSuccess, nil)
}

// execute runs h while a heartbeat keeps the lease alive. Losing the lease cancels the handler so
// two workers never run the same entry to completion concurrently. A handler panic becomes an
// error.
func (r *Runner) execute(
	ctx context.Context,
	h HandlerFunc,
	entry *model.QueueEntry,
	payload model.QueuePayload,
) (err error) {
	hctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan struct{})
	defer close(done)
	go r.heartbeat(hctx, entry, done, cancel)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "handler panic", "queue_id", entry.ID, "panic", rec)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	err = h(hctx, entry, payload)
	if err != nil && errors.Is(context.Cause(hctx), errLeaseLost) {
		return fmt.Errorf("%w: %w", errLeaseLost, err)
	}
	return err
}

var errLeaseLost = errors.New("lease lost")

func (r *Runner) heartbeat(
	ctx context.Context,
	entry *model.QueueEntry,
	done <-chan struct{},
	cancel context.CancelCauseFunc,
) {
	ticker := time.NewTicker(domainjob.HeartbeatInterval(r.lease))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			ok, err := r.queue.Heartbeat(ctx, entry.ID, r.lease)
			if err != nil {
				r.logger.WarnContext(ctx, "heartbeat error", "queue_id", entry.ID, "error", err)
				continue
			}
			if !ok {
				r.logger.WarnContext(ctx, "lease lost; abandoning delivery", "queue_id", entry.ID)
				cancel(errLeaseLost)
				return
			}
		}
	}
}

func (r *Runner) fail(ctx context.Context, entry *model.QueueEntry, cause error, details service.FailureDetails) {
	if details.Metadata == nil {
		details.Metadata = map[string]string{}
	}
	details.Metadata["component"] = componentLabel(entry.Kind)
	if _, err := r.queue.Fail(ctx, entry, cause.Error(), details); err != nil {
		r.logger.ErrorContext(ctx, "fail queue entry error", "queue_id", entry.ID, "error", err, "original_error", cause)
	}
}

func failureDetails(p model.QueuePayload) service.FailureDetails {
	switch {
	case p.Analysis != nil:
		return service.FailureDetails{
			RepoID:       p.Analysis.RepoID,
			RepoFullName: p.Analysis.Owner + "/" + p.Analysis.Name,
			Metadata:     map[string]string{"job_id": p.Analysis.JobID, "commit_sha": p.Analysis.CommitSHA},
		}
	case p.Export != nil:
		return service.FailureDetails{
			RepoFullName: p.Export.RepoFullName,
			Metadata:     map[string]string{"export_id": p.Export.ExportID, "format": string(p.Export.Format)},
		}
	default:
		return service.FailureDetails{}
	}
}

func analysisHandler(exec AnalysisExecutor) HandlerFunc {
	return func(ctx context.Context, entry *model.QueueEntry, payload model.QueuePayload) error {
		return exec.Execute(ctx, service.ExecuteRequest{
			Payload:      *payload.Analysis,
			FinalAttempt: entry.FinalAttempt(),
		})
	}
}

func exportHandler(exec ExportExecutor) HandlerFunc {
	return func(ctx context.Context, entry *model.QueueEntry, payload model.QueuePayload) error {
		return exec.Execute(ctx, service.ExportExecuteRequest{
			Payload:      *payload.Export,
			FinalAttempt: entry.FinalAttempt(),
		})
	}
}

func componentLabel(kind model.QueueKind) string {
	switch kind {
	case model.QueueKindAnalysis:
		return "analysis_runner"
	case model.QueueKindExport:
		return "export_runner"
	default:
		return "job_runner"
	}
}
