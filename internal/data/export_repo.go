package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	apperrors "github.com/devion-industries/maintainer-brief/internal/errors"
)

// ExportRepo tracks export requests.
type ExportRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.ExportRepository = (*ExportRepo)(nil)

// NewExportRepo creates an ExportRepo. A nil TimeProvider uses the system clock.
func NewExportRepo(db *sql.DB, tp TimeProvider) *ExportRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &ExportRepo{DB: db, timeProvider: tp}
}

const exportColumns = `id, output_id, user_id, format, status, file_url, error_message, created_at, completed_at`

// Create inserts a queued export request.
func (r *ExportRepo) Create(ctx context.Context, req *model.CreateExportRequest) (*model.ExportRequest, error) {
	if req == nil {
		return nil, errors.New("create export request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO export_requests (output_id, user_id, format, status, created_at)
		VALUES ($1, $2, $3, 'queued', $4)
		RETURNING `+exportColumns,
		req.OutputID, req.UserID, req.Format, nowUTC(r.timeProvider))
	e, err := scanExport(row)
	if err != nil {
		return nil, fmt.Errorf("insert export request: %w", apperrors.MapDBError(err))
	}
	return e, nil
}

// GetByID returns one export request or ErrExportNotFound.
func (r *ExportRepo) GetByID(ctx context.Context, id string) (*model.ExportRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM export_requests WHERE id = $1`, id)
	e, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get export request: %w", err)
	}
	return e, nil
}

// MarkRunning moves a queued or retried export to running.
func (r *ExportRepo) MarkRunning(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE export_requests
		SET status = 'running', error_message = NULL
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id)
}

// MarkSucceeded records the artifact URL.
func (r *ExportRepo) MarkSucceeded(ctx context.Context, id, fileURL string) error {
	return r.exec(ctx, `
		UPDATE export_requests
		SET status = 'succeeded', file_url = $2, completed_at = $3
		WHERE id = $1 AND status NOT IN ('succeeded', 'failed')
	`, id, fileURL, nowUTC(r.timeProvider))
}

// MarkFailed records the failure message.
func (r *ExportRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.exec(ctx, `
		UPDATE export_requests
		SET status = 'failed', error_message = $2, completed_at = $3
		WHERE id = $1 AND status NOT IN ('succeeded', 'failed')
	`, id, errMsg, nowUTC(r.timeProvider))
}

func (r *ExportRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update export request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var status string
		serr := r.DB.QueryRowContext(ctx, `SELECT status FROM export_requests WHERE id = $1`, args[0]).Scan(&status)
		if errors.Is(serr, sql.ErrNoRows) {
			return ErrExportNotFound
		}
		if serr != nil {
			return fmt.Errorf("check export request: %w", serr)
		}
		return fmt.Errorf("%w: export is %s", model.ErrInvalidTransition, status)
	}
	return nil
}

func scanExport(scanner rowScanner) (*model.ExportRequest, error) {
	var (
		e            model.ExportRequest
		fileURL, msg sql.NullString
		completedAt  sql.NullTime
	)
	if err := scanner.Scan(&e.ID, &e.OutputID, &e.UserID, &e.Format, &e.Status, &fileURL, &msg, &e.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	e.FileURL = cloneNullableString(fileURL)
	e.ErrorMessage = cloneNullableString(msg)
	e.CompletedAt = cloneNullableTime(completedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
