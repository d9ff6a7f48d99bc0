package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	domainjob "github.com/devion-industries/maintainer-brief/internal/domain/job"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	obserrors "github.com/devion-industries/maintainer-brief/internal/observability/errors"
	"github.com/devion-industries/maintainer-brief/internal/observability/metrics"
	"github.com/devion-industries/maintainer-brief/internal/observability/notify"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/service/failurenotifier"
)

// QueueServiceOptions groups dependencies for QueueService.
type QueueServiceOptions struct {
	Repo            core.QueueRepository      // Required: durable queue
	DefaultLease    time.Duration             // Required unless LeasePolicy is set
	Logger          *slog.Logger              // Optional: structured logger
	Metrics         statsd.Sink               // Optional: lifecycle metrics
	FailureNotifier *failurenotifier.Service  // Optional: operator alerts for exhausted entries
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// QueueService wraps the durable queue with lease normalisation, wakeup fan-out, lifecycle
// metrics, and operator alerts for entries that exhaust their deliveries.
type QueueService struct {
	repo            core.QueueRepository
	leasePolicy     *domainjob.LeasePolicy
	notifier        domainjob.Notifier
	logger          *slog.Logger
	metrics         statsd.Sink
	failureNotifier *failurenotifier.Service
}

// NewQueueService constructs a new QueueService.
func NewQueueService(opts QueueServiceOptions) (*QueueService, error) {
	if opts.Repo == nil {
		return nil, errors.New("QueueRepository is required")
	}

	leasePolicy := opts.LeasePolicy
	if leasePolicy == nil {
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create queue notifier: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "queue_service")

	return &QueueService{
		repo:            opts.Repo,
		leasePolicy:     leasePolicy,
		notifier:        notifier,
		logger:          logger,
		metrics:         opts.Metrics,
		failureNotifier: opts.FailureNotifier,
	}, nil
}

// MustNewQueueService constructs a new QueueService and panics on error.
func MustNewQueueService(opts QueueServiceOptions) *QueueService {
	svc, err := NewQueueService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create QueueService: %v", err))
	}
	return svc
}

// Enqueue adds an entry to the queue.
func (s *QueueService) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.QueueEntry, error) {
	entry, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		s.emit(req.Payload.Kind, "enqueue", metrics.ResultError, 0, err)
		return nil, fmt.Errorf("enqueue %s: %w", req.Payload.Kind, err)
	}
	s.emit(entry.Kind, "enqueue", metrics.ResultSuccess, 0, nil)
	s.logger.DebugContext(ctx, "queue entry enqueued", "queue_id", entry.ID, "kind", entry.Kind)
	return entry, nil
}

// ReserveNext leases the next deliverable entry of kind. A zero lease selects the default.
func (s *QueueService) ReserveNext(
	ctx context.Context,
	kind model.QueueKind,
	lease time.Duration,
) (*model.QueueEntry, error) {
	resolved, clamped := s.leasePolicy.Resolve(lease)
	if clamped {
		s.logger.DebugContext(ctx, "clamped lease duration", "requested", lease, "lease", resolved, "kind", kind)
	}

	entry, err := s.repo.ReserveNext(ctx, kind, resolved)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next %s: %w", kind, err)
	}

	s.emit(kind, "reserve", metrics.ResultSuccess, 0, nil)
	s.logger.DebugContext(ctx, "queue entry reserved",
		"queue_id", entry.ID,
		"kind", kind,
		"attempt", entry.Attempts+1,
		"lease", resolved,
	)
	return entry, nil
}

// Subscribe returns an unsubscribe func and a channel signalled when kind may have new work.
func (s *QueueService) Subscribe(kind model.QueueKind) (func(), <-chan struct{}) {
	return s.notifier.Subscribe(kind)
}

// StopNotifier closes every subscription.
func (s *QueueService) StopNotifier() {
	s.notifier.StopAll()
}

// LeaseFor resolves a requested lease the same way ReserveNext does.
func (s *QueueService) LeaseFor(lease time.Duration) time.Duration {
	resolved, _ := s.leasePolicy.Resolve(lease)
	return resolved
}

// Heartbeat extends the lease on a running entry.
func (s *QueueService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	resolved, _ := s.leasePolicy.Resolve(extend)
	ok, err := s.repo.Heartbeat(ctx, id, resolved)
	if err != nil {
		return false, fmt.Errorf("heartbeat %s: %w", id, err)
	}
	return ok, nil
}

// Complete marks a running entry completed.
func (s *QueueService) Complete(ctx context.Context, entry *model.QueueEntry) (bool, error) {
	ok, err := s.repo.Complete(ctx, entry.ID)
	if err != nil {
		s.emit(entry.Kind, "complete", metrics.ResultError, 0, err)
		return false, fmt.Errorf("complete %s: %w", entry.ID, err)
	}
	result := metrics.ResultSuccess
	if !ok {
		result = metrics.ResultNoop
	}
	s.emit(entry.Kind, "complete", result, sinceStart(entry), nil)
	return ok, nil
}

// FailureDetails carries optional context for a failed delivery.
type FailureDetails struct {
	// Permanent exhausts the entry regardless of remaining attempts.
	Permanent bool
	// Cause is classified for metrics and alerts.
	Cause error
	// RepoID and RepoFullName label operator alerts.
	RepoID       string
	RepoFullName string
	Metadata     map[string]string
}

// Fail records a failed delivery. When the entry ends up terminally failed the operator failure
// notifier is invoked. The resulting queue status is returned.
func (s *QueueService) Fail(
	ctx context.Context,
	entry *model.QueueEntry,
	errMsg string,
	details FailureDetails,
) (model.QueueStatus, error) {
	if errMsg == "" {
		return "", errors.New("error message required")
	}

	var (
		status model.QueueStatus
		err    error
	)
	if details.Permanent {
		status, err = s.repo.FailPermanent(ctx, entry.ID, errMsg)
	} else {
		status, err = s.repo.Fail(ctx, entry.ID, errMsg)
	}
	if err != nil {
		s.emit(entry.Kind, "fail", metrics.ResultError, 0, err)
		return "", fmt.Errorf("fail %s: %w", entry.ID, err)
	}

	cause := details.Cause
	if cause == nil {
		cause = errors.New(errMsg)
	}

	switch status {
	case model.QueueStatusPending:
		s.emit(entry.Kind, "retry", metrics.ResultError, 0, cause)
		s.logger.WarnContext(ctx, "queue entry scheduled for redelivery",
			"queue_id", entry.ID,
			"kind", entry.Kind,
			"attempt", entry.Attempts+1,
			"max_attempts", entry.MaxAttempts,
			"error", errMsg,
		)
	case model.QueueStatusFailed:
		s.emit(entry.Kind, "fail", metrics.ResultError, sinceStart(entry), cause)
		s.logger.ErrorContext(ctx, "queue entry failed",
			"queue_id", entry.ID,
			"kind", entry.Kind,
			"attempts", entry.Attempts+1,
			"error", errMsg,
		)
		s.notifyFailure(ctx, entry, errMsg, cause, details)
	default:
		s.emit(entry.Kind, "fail", metrics.ResultNoop, 0, nil)
	}
	return status, nil
}

func (s *QueueService) notifyFailure(
	ctx context.Context,
	entry *model.QueueEntry,
	errMsg string,
	cause error,
	details FailureDetails,
) {
	if !s.failureNotifier.Enabled() {
		return
	}
	meta := map[string]string{
		"max_attempts": strconv.Itoa(entry.MaxAttempts),
	}
	if details.Permanent {
		meta["permanent"] = "true"
	}
	for k, v := range details.Metadata {
		if k != "" && v != "" {
			meta[k] = v
		}
	}
	s.failureNotifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:        entry.ID,
		JobKind:      string(entry.Kind),
		RepoID:       details.RepoID,
		RepoFullName: details.RepoFullName,
		Error:        errMsg,
		ErrorClass:   obserrors.Classify(cause),
		Attempts:     entry.Attempts + 1,
		OccurredAt:   time.Now().UTC(),
		Metadata:     meta,
	})
}

// Remove deletes an entry that has not been picked up yet.
func (s *QueueService) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := s.repo.Remove(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	if removed {
		s.logger.InfoContext(ctx, "queue entry removed", "queue_id", id)
	}
	return removed, nil
}

// Stats returns entry counts for kind.
func (s *QueueService) Stats(ctx context.Context, kind model.QueueKind) (*model.QueueStats, error) {
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("queue stats for %s: %w", kind, err)
	}
	if s.metrics != nil {
		tags := map[string]string{"job_kind": string(kind)}
		s.metrics.Gauge("queue.pending", float64(stats.Pending), tags)
		s.metrics.Gauge("queue.running", float64(stats.Running), metrics.CloneTags(tags))
	}
	return stats, nil
}

// GetByID returns one entry.
func (s *QueueService) GetByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get queue entry %s: %w", id, err)
	}
	return entry, nil
}

func (s *QueueService) emit(kind model.QueueKind, transition, result string, d time.Duration, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Kind:       string(kind),
		Transition: transition,
		Result:     result,
		Duration:   d,
		Err:        err,
	})
}

func sinceStart(entry *model.QueueEntry) time.Duration {
	if entry == nil || entry.StartedAt == nil {
		return 0
	}
	return time.Since(*entry.StartedAt)
}
