package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	obserrors "github.com/devion-industries/maintainer-brief/internal/observability/errors"
	"github.com/devion-industries/maintainer-brief/internal/observability/metrics"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
)

const (
	stalePendingMessage = "timed out in pending status"
	expiredLeaseMessage = "lease expired on final attempt"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Queue   core.QueueReaperRepository // Required: queue retention
	Jobs    core.AnalysisJobRepository // Required: fails jobs whose entries went stale
	Exports core.ExportRepository      // Optional: fails exports whose entries went stale
	Config  config.ReaperConfig        // Required: reaper configuration
	Logger  *slog.Logger               // Optional: structured logger
	Metrics statsd.Sink                // Optional: metrics sink (StatsD-compatible)
}

// ReaperService keeps the queue table bounded.
//
// Each pass:
// - fails pending entries that no worker picked up in time, along with their jobs;
// - fails running entries whose final delivery lease lapsed, along with their jobs;
// - trims completed entries to the newest CompletedKeep and none older than CompletedMaxAge;
// - trims failed entries to the newest FailedKeep and none older than FailedMaxAge.
type ReaperService struct {
	queue   core.QueueReaperRepository
	jobs    core.AnalysisJobRepository
	exports core.ExportRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Queue == nil {
		return nil, errors.New("QueueReaperRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("AnalysisJobRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"pending_max_age", opts.Config.PendingMaxAge,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"completed_keep", opts.Config.CompletedKeep,
			"failed_max_age", opts.Config.FailedMaxAge,
			"failed_keep", opts.Config.FailedKeep,
		)
	}

	return &ReaperService{
		queue:   opts.Queue,
		jobs:    opts.Jobs,
		exports: opts.Exports,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// RunOnce performs a single cleanup pass.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	return s.runCleanup(ctx)
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run cleanup immediately after jitter
	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				if isContextCancellation(err) {
					continue
				}
				// Continue running despite errors
			}
		}
	}
}

// runCleanup performs all cleanup operations.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.failStalePending,
			label:     "fail stale pending entries",
			count:     &metricsData.PendingCount,
			metricErr: &metricsData.PendingErr,
		},
		{
			fn:        s.failExpiredLeases,
			label:     "fail expired leases",
			count:     &metricsData.ExpiredCount,
			metricErr: &metricsData.ExpiredErr,
		},
		{
			fn:        s.trimCompleted,
			label:     "trim completed entries",
			count:     &metricsData.CompletedCount,
			metricErr: &metricsData.CompletedErr,
		},
		{
			fn:        s.trimFailed,
			label:     "trim failed entries",
			count:     &metricsData.FailedCount,
			metricErr: &metricsData.FailedErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// failStalePending fails pending entries older than PendingMaxAge and the jobs they carry.
// Loops until a batch comes back empty.
func (s *ReaperService) failStalePending(ctx context.Context) (int64, error) {
	var totalCount int64
	for {
		ids, err := s.queue.FailStalePending(ctx, s.config.PendingMaxAge, s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		if len(ids) == 0 {
			break
		}
		totalCount += int64(len(ids))
		for _, id := range ids {
			s.failOwner(ctx, id, stalePendingMessage)
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed stale pending entries",
			"count", totalCount,
			"max_age", s.config.PendingMaxAge,
		)
	}
	return totalCount, nil
}

// failExpiredLeases fails entries whose worker vanished during the final delivery, and the jobs
// they carry. Loops until a batch comes back empty.
func (s *ReaperService) failExpiredLeases(ctx context.Context) (int64, error) {
	var totalCount int64
	for {
		ids, err := s.queue.FailExpiredLeases(ctx, s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		if len(ids) == 0 {
			break
		}
		totalCount += int64(len(ids))
		for _, id := range ids {
			s.failOwner(ctx, id, expiredLeaseMessage)
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed entries with expired final leases", "count", totalCount)
	}
	return totalCount, nil
}

// failOwner marks the analysis job or export request that shares the entry id as failed.
func (s *ReaperService) failOwner(ctx context.Context, id, msg string) {
	_, err := s.jobs.UpdateStatus(ctx, model.StatusUpdate{
		JobID:        id,
		Status:       model.JobStatusFailed,
		ErrorMessage: &msg,
	})
	if err == nil || errors.Is(err, model.ErrInvalidTransition) {
		return
	}
	if errors.Is(err, data.ErrJobNotFound) && s.exports != nil {
		err = s.exports.MarkFailed(ctx, id, msg)
		if err == nil || errors.Is(err, data.ErrExportNotFound) || errors.Is(err, model.ErrInvalidTransition) {
			return
		}
	}
	if errors.Is(err, data.ErrJobNotFound) {
		return
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "failed to mark stale work failed", "queue_id", id, "error", err)
	}
}

// trimCompleted enforces retention for completed entries.
func (s *ReaperService) trimCompleted(ctx context.Context) (int64, error) {
	return s.trim(ctx, core.TrimFinishedParams{
		Status:     model.QueueStatusCompleted,
		MaxAge:     s.config.CompletedMaxAge,
		KeepLatest: s.config.CompletedKeep,
		BatchSize:  s.config.BatchSize,
	})
}

// trimFailed enforces retention for failed entries.
func (s *ReaperService) trimFailed(ctx context.Context) (int64, error) {
	return s.trim(ctx, core.TrimFinishedParams{
		Status:     model.QueueStatusFailed,
		MaxAge:     s.config.FailedMaxAge,
		KeepLatest: s.config.FailedKeep,
		BatchSize:  s.config.BatchSize,
	})
}

// trim loops until no more rows are affected to handle large backlogs in batches.
func (s *ReaperService) trim(ctx context.Context, params core.TrimFinishedParams) (int64, error) {
	var totalCount int64
	for {
		count, err := s.queue.TrimFinished(ctx, params)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "trimmed finished entries",
			"status", params.Status,
			"count", totalCount,
			"max_age", params.MaxAge,
			"keep_latest", params.KeepLatest,
		)
	}
	return totalCount, nil
}

type cleanupMetrics struct {
	PendingCount   int64
	PendingErr     error
	ExpiredCount   int64
	ExpiredErr     error
	CompletedCount int64
	CompletedErr   error
	FailedCount    int64
	FailedErr      error
	Elapsed        time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.PendingCount + m.ExpiredCount + m.CompletedCount + m.FailedCount
	firstErr := firstError(m.PendingErr, m.ExpiredErr, m.CompletedErr, m.FailedErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("fail_pending", m.PendingCount, m.PendingErr)
	s.emitCleanupOperationMetric("fail_expired", m.ExpiredCount, m.ExpiredErr)
	s.emitCleanupOperationMetric("trim_completed", m.CompletedCount, m.CompletedErr)
	s.emitCleanupOperationMetric("trim_failed", m.FailedCount, m.FailedErr)

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.entries_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
