package core

import (
	"context"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on the data package.

// FindRecentSuccessParams groups parameters for AnalysisJobRepository.FindRecentSuccess.
type FindRecentSuccessParams struct {
	RepoID      string
	Fingerprint string
	Since       time.Time
}

// AnalysisJobRepository is the Job Store.
type AnalysisJobRepository interface {
	Create(ctx context.Context, req *model.CreateAnalysisJobRequest) (*model.AnalysisJob, error)
	GetByID(ctx context.Context, id string) (*model.AnalysisJob, error)
	// FindRecentSuccess returns the newest succeeded job created at or after Since, or ErrJobNotFound.
	FindRecentSuccess(ctx context.Context, params FindRecentSuccessParams) (*model.AnalysisJob, error)
	// UpdateStatus applies one atomic, field-conditional transition and returns the resulting row.
	UpdateStatus(ctx context.Context, update model.StatusUpdate) (*model.AnalysisJob, error)
	LatestForRepo(ctx context.Context, repoID string) (*model.AnalysisJob, error)
	ListForRepo(ctx context.Context, repoID string, limit int) ([]*model.AnalysisJob, error)
}

// QueueRepository is the durable delivery queue.
type QueueRepository interface {
	Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.QueueEntry, error)
	GetByID(ctx context.Context, id string) (*model.QueueEntry, error)
	ReserveNext(ctx context.Context, kind model.QueueKind, lease time.Duration) (*model.QueueEntry, error)
	WaitForNotification(ctx context.Context, kind model.QueueKind) error
	Heartbeat(ctx context.Context, id string, lease time.Duration) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	// Fail records a failed delivery and returns the entry's resulting status: pending when another
	// attempt is scheduled, failed when attempts are exhausted, empty when the entry was not running.
	Fail(ctx context.Context, id, errMsg string) (model.QueueStatus, error)
	// FailPermanent records a failure that exhausts the entry regardless of remaining attempts.
	FailPermanent(ctx context.Context, id, errMsg string) (model.QueueStatus, error)
	// Remove deletes the entry only while it is pending and unleased.
	Remove(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, kind model.QueueKind) (*model.QueueStats, error)
}

// TrimFinishedParams bounds retention for one terminal queue status.
type TrimFinishedParams struct {
	Status     model.QueueStatus
	MaxAge     time.Duration
	KeepLatest int
	BatchSize  int
}

// QueueReaperRepository defines queue retention operations.
type QueueReaperRepository interface {
	// FailStalePending marks pending entries older than maxAge as failed and returns their ids.
	FailStalePending(ctx context.Context, maxAge time.Duration, batchSize int) ([]string, error)
	// FailExpiredLeases fails running entries whose final lease lapsed and returns their ids.
	FailExpiredLeases(ctx context.Context, batchSize int) ([]string, error)
	// TrimFinished deletes terminal entries beyond the count cap or older than MaxAge.
	TrimFinished(ctx context.Context, params TrimFinishedParams) (int64, error)
}

// SaveOutputsParams groups parameters for OutputRepository.SaveOutputs.
type SaveOutputsParams struct {
	JobID   string
	RepoID  string
	Outputs []model.GeneratedOutput
}

// OutputRepository persists generated documents.
type OutputRepository interface {
	// SaveOutputs writes every output or none.
	SaveOutputs(ctx context.Context, params SaveOutputsParams) error
	ListByJob(ctx context.Context, jobID string) ([]*model.AnalysisOutput, error)
	GetByID(ctx context.Context, id string) (*model.AnalysisOutput, error)
}

// RepoRepository reads connected repositories and their settings.
type RepoRepository interface {
	GetWithSettings(ctx context.Context, repoID string) (*model.RepoWithSettings, error)
	ListScheduled(ctx context.Context) ([]*model.ScheduledRepo, error)
}

// ExportRepository tracks export requests.
type ExportRepository interface {
	Create(ctx context.Context, req *model.CreateExportRequest) (*model.ExportRequest, error)
	GetByID(ctx context.Context, id string) (*model.ExportRequest, error)
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id, fileURL string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}
