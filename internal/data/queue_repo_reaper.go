package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data/pgxutil"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// Advisory lock namespace for queue retention. Each operation takes its own minor key so that
// concurrent reaper instances skip rather than queue behind one another.
const (
	advisoryLockReaperMajor       int32 = 1000
	advisoryLockReaperFailPending int32 = 1
	advisoryLockReaperTrim        int32 = 2
	advisoryLockReaperFailExpired int32 = 3
)

// expiredLeaseMessage is recorded on entries whose final delivery never reported back.
const expiredLeaseMessage = "lease expired on final attempt"

// FailStalePending marks pending entries created before now-maxAge as failed, up to batchSize per
// call, and returns their ids so callers can fail the matching analysis jobs.
func (r *QueueRepo) FailStalePending(ctx context.Context, maxAge time.Duration, batchSize int) ([]string, error) {
	if maxAge <= 0 {
		return nil, errors.New("max age must be greater than zero")
	}
	if batchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}

	var ids []string
	_, err := pgxutil.WithLockedSQLTx(ctx, r.DB, pgxutil.LockedSQLTxConfig{
		Major: advisoryLockReaperMajor,
		Minor: advisoryLockReaperFailPending,
		Fn: func(tx *sql.Tx) error {
			now := nowUTC(r.timeProvider)
			rows, err := tx.QueryContext(ctx, `
				UPDATE queue_jobs
				SET status = 'failed',
				    last_error = 'timed out in pending status',
				    completed_at = $1,
				    updated_at = $1
				WHERE id IN (
					SELECT id FROM queue_jobs
					WHERE status = 'pending'
					  AND created_at < $2
					ORDER BY created_at
					LIMIT $3
				)
				RETURNING id
			`, now, now.Add(-maxAge), batchSize)
			if err != nil {
				return fmt.Errorf("fail stale pending entries: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return fmt.Errorf("scan stale entry id: %w", err)
				}
				ids = append(ids, id)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FailExpiredLeases fails running entries whose lease lapsed on their final attempt, up to
// batchSize per call, and returns their ids so callers can fail the matching owners.
func (r *QueueRepo) FailExpiredLeases(ctx context.Context, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}

	var ids []string
	_, err := pgxutil.WithLockedSQLTx(ctx, r.DB, pgxutil.LockedSQLTxConfig{
		Major: advisoryLockReaperMajor,
		Minor: advisoryLockReaperFailExpired,
		Fn: func(tx *sql.Tx) error {
			now := nowUTC(r.timeProvider)
			rows, err := tx.QueryContext(ctx, `
				UPDATE queue_jobs
				SET status = 'failed',
				    attempts = attempts + 1,
				    last_error = $2,
				    lease_expires_at = NULL,
				    completed_at = $1,
				    updated_at = $1
				WHERE id IN (
					SELECT id FROM queue_jobs
					WHERE status = 'running'
					  AND lease_expires_at IS NOT NULL
					  AND lease_expires_at < $1
					  AND attempts + 1 >= max_attempts
					ORDER BY lease_expires_at
					LIMIT $3
				)
				RETURNING id
			`, now, expiredLeaseMessage, batchSize)
			if err != nil {
				return fmt.Errorf("fail expired leases: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return fmt.Errorf("scan expired entry id: %w", err)
				}
				ids = append(ids, id)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// trimFinishedSQL selects terminal entries that are either beyond the newest $2 (when $2 > 0) or
// finished before $3 (when set), oldest first.
const trimFinishedSQL = `
  DELETE FROM queue_jobs
  WHERE id IN (
    SELECT id FROM (
      SELECT id,
             COALESCE(completed_at, updated_at) AS finished_at,
             row_number() OVER (ORDER BY COALESCE(completed_at, updated_at) DESC) AS rn
      FROM queue_jobs
      WHERE status = $1
    ) ranked
    WHERE ($2 > 0 AND ranked.rn > $2)
       OR ($3::timestamptz IS NOT NULL AND ranked.finished_at < $3::timestamptz)
    ORDER BY ranked.finished_at
    LIMIT $4
  )`

// TrimFinished enforces retention for one terminal status.
func (r *QueueRepo) TrimFinished(ctx context.Context, params core.TrimFinishedParams) (int64, error) {
	if params.Status != model.QueueStatusCompleted && params.Status != model.QueueStatusFailed {
		return 0, fmt.Errorf("invalid retention status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 && params.KeepLatest <= 0 {
		return 0, errors.New("max age or keep latest is required")
	}

	var deleted int64
	_, err := pgxutil.WithLockedSQLTx(ctx, r.DB, pgxutil.LockedSQLTxConfig{
		Major: advisoryLockReaperMajor,
		Minor: advisoryLockReaperTrim,
		Fn: func(tx *sql.Tx) error {
			var cutoff sql.NullTime
			if params.MaxAge > 0 {
				cutoff = sql.NullTime{Time: nowUTC(r.timeProvider).Add(-params.MaxAge), Valid: true}
			}
			res, err := tx.ExecContext(ctx, trimFinishedSQL, params.Status, params.KeepLatest, cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("trim %s entries: %w", params.Status, err)
			}
			deleted, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
