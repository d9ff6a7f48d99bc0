package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// ExportServiceOptions groups dependencies for ExportService.
type ExportServiceOptions struct {
	Exports     core.ExportRepository // Required
	Outputs     core.OutputRepository // Required
	Store       core.ArtifactStore    // Required
	Queue       JobQueue              // Required for Request
	MaxAttempts int
	Backoff     time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// ExportService renders persisted outputs into downloadable artifacts.
type ExportService struct {
	exports     core.ExportRepository
	outputs     core.OutputRepository
	store       core.ArtifactStore
	queue       JobQueue
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(opts ExportServiceOptions) (*ExportService, error) {
	switch {
	case opts.Exports == nil:
		return nil, errors.New("ExportRepository is required")
	case opts.Outputs == nil:
		return nil, errors.New("OutputRepository is required")
	case opts.Store == nil:
		return nil, errors.New("artifact store is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ExportService{
		exports:     opts.Exports,
		outputs:     opts.Outputs,
		store:       opts.Store,
		queue:       opts.Queue,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		now:         opts.Now,
		logger:      opts.Logger.With("component", "export_service"),
	}, nil
}

// Request records an export and enqueues it.
func (s *ExportService) Request(
	ctx context.Context,
	req *model.CreateExportRequest,
	repoFullName string,
) (*model.ExportRequest, error) {
	if s.queue == nil {
		return nil, errors.New("export queue is not configured")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.outputs.GetByID(ctx, req.OutputID); err != nil {
		return nil, fmt.Errorf("load output %s: %w", req.OutputID, err)
	}

	exp, err := s.exports.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, &model.EnqueueRequest{
		ID: exp.ID,
		Payload: model.NewExportPayload(model.ExportPayload{
			ExportID:     exp.ID,
			OutputID:     req.OutputID,
			Format:       req.Format,
			RepoFullName: repoFullName,
		}),
		MaxAttempts: s.maxAttempts,
		Backoff:     s.backoff,
	}); err != nil {
		if markErr := s.exports.MarkFailed(ctx, exp.ID, "enqueue failed: "+err.Error()); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to mark orphaned export failed", "export_id", exp.ID, "error", markErr)
		}
		return nil, fmt.Errorf("enqueue export %s: %w", exp.ID, err)
	}
	return exp, nil
}

// ExportExecuteRequest is one delivery of an export payload.
type ExportExecuteRequest struct {
	Payload      model.ExportPayload
	FinalAttempt bool
}

// Execute renders and uploads one export. The request is marked failed only when no redelivery
// will follow.
func (s *ExportService) Execute(ctx context.Context, req ExportExecuteRequest) error {
	p := req.Payload
	exp, err := s.exports.GetByID(ctx, p.ExportID)
	if err != nil {
		return fmt.Errorf("load export %s: %w", p.ExportID, err)
	}
	if exp.Status == model.ExportStatusSucceeded || exp.Status == model.ExportStatusFailed {
		return nil
	}

	url, err := s.render(ctx, p)
	if err != nil {
		if req.FinalAttempt || IsPermanentFailure(err) {
			if markErr := s.exports.MarkFailed(ctx, p.ExportID, err.Error()); markErr != nil {
				s.logger.ErrorContext(ctx, "failed to record export failure", "export_id", p.ExportID, "error", markErr)
			}
		}
		s.logger.WarnContext(ctx, "export attempt failed",
			"export_id", p.ExportID,
			"format", p.Format,
			"final", req.FinalAttempt,
			"error", err,
		)
		return err
	}

	if err := s.exports.MarkSucceeded(ctx, p.ExportID, url); err != nil {
		return fmt.Errorf("mark export %s succeeded: %w", p.ExportID, err)
	}
	s.logger.InfoContext(ctx, "export stored", "export_id", p.ExportID, "format", p.Format, "url", url)
	return nil
}

func (s *ExportService) render(ctx context.Context, p model.ExportPayload) (string, error) {
	if err := s.exports.MarkRunning(ctx, p.ExportID); err != nil {
		return "", fmt.Errorf("mark export running: %w", err)
	}
	out, err := s.outputs.GetByID(ctx, p.OutputID)
	if err != nil {
		return "", fmt.Errorf("load output %s: %w", p.OutputID, err)
	}
	if !p.Format.Valid() {
		return "", fmt.Errorf("%w: unsupported export format %q", model.ErrPayloadInvalid, p.Format)
	}
	key := "exports/" + p.Format.ArtifactName(p.RepoFullName, s.now())
	url, err := s.store.Put(ctx, key, model.ArtifactContentType, []byte(out.Content))
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return url, nil
}
