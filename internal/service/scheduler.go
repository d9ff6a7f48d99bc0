package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	domainscheduler "github.com/devion-industries/maintainer-brief/internal/domain/scheduler"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
)

const defaultSweepLockTTL = 55 * time.Minute

// Triggerer starts an analysis. AnalysisService implements it.
type Triggerer interface {
	Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error)
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Repos    core.RepoRepository // Required
	Commits  core.CommitResolver // Required: content-derived reference commits
	Analysis Triggerer           // Required
	Policy   *domainscheduler.Policy
	// Lock guards each hour slot so only one instance sweeps it. Optional.
	Lock    core.CacheRepository
	LockTTL time.Duration
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// SchedulerService implements core.AnalysisScheduler.
type SchedulerService struct {
	repos    core.RepoRepository
	commits  core.CommitResolver
	analysis Triggerer
	policy   domainscheduler.Policy
	lock     core.CacheRepository
	lockTTL  time.Duration
	metrics  statsd.Sink
	logger   *slog.Logger
}

var _ core.AnalysisScheduler = (*SchedulerService)(nil)

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	switch {
	case opts.Repos == nil:
		return nil, errors.New("RepoRepository is required")
	case opts.Commits == nil:
		return nil, errors.New("CommitResolver is required")
	case opts.Analysis == nil:
		return nil, errors.New("analysis triggerer is required")
	}
	policy := domainscheduler.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultSweepLockTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SchedulerService{
		repos:    opts.Repos,
		commits:  opts.Commits,
		analysis: opts.Analysis,
		policy:   policy,
		lock:     opts.Lock,
		lockTTL:  opts.LockTTL,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "scheduler_service"),
	}, nil
}

// Sweep evaluates every scheduled repository at now and triggers those that are due.
func (s *SchedulerService) Sweep(ctx context.Context, now time.Time) (core.SweepResult, error) {
	var res core.SweepResult
	if !s.policy.InWindow(now) {
		res.OutsideWindow = true
		s.logger.DebugContext(ctx, "sweep outside window", "now", now)
		s.emit(res)
		return res, nil
	}

	acquired, err := s.acquireSlot(ctx, now)
	if err != nil {
		s.logger.WarnContext(ctx, "sweep lock unavailable, sweeping anyway", "error", err)
	} else if !acquired {
		res.LockHeld = true
		s.logger.DebugContext(ctx, "sweep slot already taken", "now", now)
		s.emit(res)
		return res, nil
	}

	held := err == nil

	repos, err := s.repos.ListScheduled(ctx)
	if err != nil {
		if held {
			s.releaseSlot(ctx, now)
		}
		return res, fmt.Errorf("list scheduled repos: %w", err)
	}

	for _, repo := range repos {
		if repo == nil || repo.Settings.Schedule == model.RecurrenceManual {
			continue
		}
		res.Considered++

		if reason := s.policy.Evaluate(repo.Settings.Schedule, repo.LastJobAt, now); reason != domainscheduler.SkipNone {
			res.Skipped++
			s.logger.DebugContext(ctx, "repo not due",
				"repo_id", repo.Repo.ID,
				"schedule", repo.Settings.Schedule,
				"reason", reason,
			)
			continue
		}

		out, err := s.triggerRepo(ctx, repo)
		if err != nil {
			res.Failed++
			s.logger.ErrorContext(ctx, "scheduled trigger failed",
				"repo_id", repo.Repo.ID,
				"repo", repo.Repo.FullName,
				"error", err,
			)
			continue
		}
		if out.Deduplicated {
			res.Deduplicated++
		} else {
			res.Triggered++
		}
	}

	s.logger.InfoContext(ctx, "sweep complete",
		"considered", res.Considered,
		"triggered", res.Triggered,
		"deduplicated", res.Deduplicated,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	s.emit(res)
	return res, nil
}

func (s *SchedulerService) triggerRepo(ctx context.Context, repo *model.ScheduledRepo) (*TriggerResult, error) {
	branch := repo.Settings.EffectiveBranch(&repo.Repo)
	sha, err := s.commits.LatestCommit(ctx, core.CommitRef{
		Owner:          repo.Repo.Owner,
		Repo:           repo.Repo.Name,
		Branch:         branch,
		InstallationID: repo.Repo.InstallationID,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve head of %s@%s: %w", repo.Repo.FullName, branch, err)
	}
	return s.analysis.Trigger(ctx, TriggerRequest{
		RepoID:    repo.Repo.ID,
		UserID:    repo.Repo.OwnerUserID,
		Trigger:   model.TriggerSchedule,
		CommitSHA: sha,
	})
}

// acquireSlot claims the hour slot containing now. Without a lock every call acquires.
func (s *SchedulerService) acquireSlot(ctx context.Context, now time.Time) (bool, error) {
	if s.lock == nil {
		return true, nil
	}
	return s.lock.SetIfNotExists(ctx, slotKey(now), []byte(now.UTC().Format(time.RFC3339)), s.lockTTL)
}

// releaseSlot frees the hour slot so a later tick in the same hour can retry the sweep.
func (s *SchedulerService) releaseSlot(ctx context.Context, now time.Time) {
	if s.lock == nil {
		return
	}
	if _, err := s.lock.Delete(ctx, slotKey(now)); err != nil {
		s.logger.WarnContext(ctx, "failed to release sweep slot", "error", err)
	}
}

func slotKey(now time.Time) string {
	return "scheduler:sweep:" + now.UTC().Truncate(time.Hour).Format("2006010215")
}

func (s *SchedulerService) emit(res core.SweepResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("scheduler.sweep", 1, map[string]string{
		"outside_window": boolTag(res.OutsideWindow),
		"lock_held":      boolTag(res.LockHeld),
	})
	s.metrics.Count("scheduler.triggered", int64(res.Triggered), nil)
	s.metrics.Count("scheduler.deduplicated", int64(res.Deduplicated), nil)
	s.metrics.Count("scheduler.failed", int64(res.Failed), nil)
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
