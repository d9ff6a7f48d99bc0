package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/devion-industries/maintainer-brief/internal/data/pgxutil"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

const (
	defaultQueueMaxAttempts = 3
	defaultQueueBackoff     = 5 * time.Second
	defaultQueueMaxBackoff  = 10 * time.Minute
)

// QueueRepoConfig holds configuration options for the queue repository.
type QueueRepoConfig struct {
	// MaxAttempts applies to enqueue requests that do not set their own.
	MaxAttempts int
	// Backoff is the base delay before the first retry; later retries double it.
	Backoff time.Duration
	// MaxBackoff caps a single retry delay.
	MaxBackoff   time.Duration
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// QueueRepo is the Postgres-backed durable queue. Entries are reserved with FOR UPDATE SKIP LOCKED
// and held by a lease that workers extend with Heartbeat; an expired lease makes the entry
// deliverable again.
type QueueRepo struct {
	DB           *sql.DB
	cfg          QueueRepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewQueueRepo creates a QueueRepo.
func NewQueueRepo(db *sql.DB, cfg QueueRepoConfig) *QueueRepo {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultQueueMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultQueueBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultQueueMaxBackoff
	}
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger.With("component", "queue_repo"),
	}
}

const queueColumns = `
  id,
  kind,
  status,
  payload,
  attempts,
  max_attempts,
  backoff_ms,
  scheduled_at,
  started_at,
  completed_at,
  last_error,
  lease_expires_at,
  created_at,
  updated_at
`

// queueChannel is the LISTEN/NOTIFY channel for new entries of kind.
func queueChannel(kind model.QueueKind) string {
	return "queue_" + string(kind)
}

const enqueueSQL = `
  INSERT INTO queue_jobs (id, kind, status, payload, max_attempts, backoff_ms, scheduled_at, created_at, updated_at)
  VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, 'pending', $3, $4, $5, $6, $7, $7)
  ON CONFLICT (id) DO NOTHING
  RETURNING ` + queueColumns

// Enqueue inserts a pending entry and notifies listeners in the same transaction. Enqueueing an id
// that already exists is a no-op that returns the existing entry.
func (r *QueueRepo) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.QueueEntry, error) {
	if req == nil {
		return nil, errors.New("enqueue request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.MaxAttempts
	}
	backoff := req.Backoff
	if backoff <= 0 {
		backoff = r.cfg.Backoff
	}
	now := nowUTC(r.timeProvider)
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	var id any
	if req.ID != "" {
		id = req.ID
	}

	var entry *model.QueueEntry
	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, enqueueSQL,
				id, req.Payload.Kind, payload, maxAttempts, backoff.Milliseconds(), scheduledAt, now)
			if qerr != nil {
				return fmt.Errorf("insert queue entry: %w", qerr)
			}
			e, cerr := collectQueueEntry(rows)
			rows.Close()
			if errors.Is(cerr, pgx.ErrNoRows) {
				// Already enqueued under this id.
				return nil
			}
			if cerr != nil {
				return fmt.Errorf("collect queue entry: %w", cerr)
			}
			entry = e

			if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`,
				queueChannel(req.Payload.Kind), e.ID); nerr != nil {
				return fmt.Errorf("send queue notification: %w", nerr)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		r.logger.DebugContext(ctx, "enqueue skipped, entry exists", "queue_id", req.ID)
		return r.GetByID(ctx, req.ID)
	}
	return entry, nil
}

const reserveNextSQL = `
  WITH cte AS (
    SELECT id FROM queue_jobs
    WHERE kind = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE queue_jobs q
  SET
    status = 'running',
    started_at = COALESCE(q.started_at, $2),
    lease_expires_at = $3,
    updated_at = $2
  FROM cte
  WHERE q.id = cte.id
  RETURNING q.id, q.kind, q.status, q.payload, q.attempts, q.max_attempts, q.backoff_ms, q.scheduled_at,
    q.started_at, q.completed_at, q.last_error, q.lease_expires_at, q.created_at, q.updated_at`

// ReserveNext leases the oldest ready entry of kind. It returns model.ErrNoJobsAvailable when the
// queue has nothing deliverable.
func (r *QueueRepo) ReserveNext(
	ctx context.Context,
	kind model.QueueKind,
	lease time.Duration,
) (*model.QueueEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid queue kind: %s", kind)
	}
	if lease <= 0 {
		return nil, errors.New("lease must be positive")
	}

	if n, err := r.requeueExpired(ctx, kind); err != nil {
		return nil, fmt.Errorf("requeue expired entries: %w", err)
	} else if n > 0 {
		r.logger.InfoContext(ctx, "requeued entries with expired leases", "kind", kind, "count", n)
	}

	var entry *model.QueueEntry
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := nowUTC(r.timeProvider)
			rows, qerr := tx.Query(ctx, reserveNextSQL, kind, now, now.Add(lease))
			if qerr != nil {
				return fmt.Errorf("reserve queue entry: %w", qerr)
			}
			defer rows.Close()

			e, cerr := collectQueueEntry(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve queue entry: %w", cerr)
			}
			entry = e
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Advisory lock namespace for requeueExpired; the minor key separates queue kinds.
const advisoryLockRequeueMajor int32 = 1001

// requeueExpired returns running entries whose lease lapsed to pending and counts the lost delivery
// as an attempt. An entry whose final attempt lapsed stays running until FailExpiredLeases fails it.
func (r *QueueRepo) requeueExpired(ctx context.Context, kind model.QueueKind) (int64, error) {
	var requeued int64
	_, err := pgxutil.WithLockedSQLTx(ctx, r.DB, pgxutil.LockedSQLTxConfig{
		Major: advisoryLockRequeueMajor,
		Minor: pgxutil.LockKey("queue:requeue:" + string(kind)),
		Fn: func(tx *sql.Tx) error {
			now := nowUTC(r.timeProvider)
			res, err := tx.ExecContext(ctx, `
				UPDATE queue_jobs
				SET status = 'pending',
				    attempts = attempts + 1,
				    last_error = 'lease expired',
				    lease_expires_at = NULL,
				    updated_at = $2
				WHERE kind = $1 AND status = 'running'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $2
				  AND attempts + 1 < max_attempts
			`, kind, now)
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			requeued, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	return requeued, err
}

// Heartbeat extends the lease on a running entry. It returns false when the entry is no longer
// running, which tells the worker it lost ownership.
func (r *QueueRepo) Heartbeat(ctx context.Context, id string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		return false, errors.New("lease must be positive")
	}
	now := nowUTC(r.timeProvider)
	res, err := r.DB.ExecContext(ctx, `
		UPDATE queue_jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, now.Add(lease), now)
	if err != nil {
		return false, fmt.Errorf("heartbeat queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// Complete marks a running entry completed.
func (r *QueueRepo) Complete(ctx context.Context, id string) (bool, error) {
	now := nowUTC(r.timeProvider)
	res, err := r.DB.ExecContext(ctx, `
		UPDATE queue_jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("complete queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return n > 0, nil
}

// failSQL counts the attempt and either reschedules the entry after
// min(backoff_ms * 2^(previous attempts), $4) or marks it failed once max_attempts is reached or
// the failure is permanent ($5).
const failSQL = `
  UPDATE queue_jobs
  SET
    last_error = $2,
    attempts = attempts + 1,
    status = CASE WHEN $5 OR attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
    completed_at = CASE WHEN $5 OR attempts + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
    lease_expires_at = NULL,
    scheduled_at = CASE WHEN $5 OR attempts + 1 >= max_attempts THEN scheduled_at
                        ELSE $3::timestamptz + LEAST(backoff_ms * power(2, attempts), $4::double precision) * interval '1 millisecond'
                   END,
    updated_at = $3
  WHERE id = $1 AND status = 'running'
  RETURNING status`

// Fail records a failed delivery. See core.QueueRepository for the returned status.
func (r *QueueRepo) Fail(ctx context.Context, id, errMsg string) (model.QueueStatus, error) {
	return r.fail(ctx, id, errMsg, false)
}

// FailPermanent records a failed delivery that must not be retried.
func (r *QueueRepo) FailPermanent(ctx context.Context, id, errMsg string) (model.QueueStatus, error) {
	return r.fail(ctx, id, errMsg, true)
}

func (r *QueueRepo) fail(ctx context.Context, id, errMsg string, permanent bool) (model.QueueStatus, error) {
	now := nowUTC(r.timeProvider)
	var status string
	err := r.DB.QueryRowContext(ctx, failSQL,
		id, errMsg, now, float64(r.cfg.MaxBackoff.Milliseconds()), permanent,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fail queue entry: %w", err)
	}
	return model.QueueStatus(status), nil
}

// Remove deletes an entry that has never been delivered. Entries that are running, finished,
// still leased, or pending a redelivery are left alone and (false, nil) is returned.
func (r *QueueRepo) Remove(ctx context.Context, id string) (bool, error) {
	now := nowUTC(r.timeProvider)
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM queue_jobs
		WHERE id = $1
		  AND status = 'pending'
		  AND attempts = 0
		  AND started_at IS NULL
		  AND (lease_expires_at IS NULL OR lease_expires_at <= $2)
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("remove queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM queue_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check queue entry: %w", err)
	}
	if !exists {
		return false, ErrQueueEntryNotFound
	}
	return false, nil
}

// Stats returns entry counts for kind grouped by status.
func (r *QueueRepo) Stats(ctx context.Context, kind model.QueueKind) (*model.QueueStats, error) {
	var s model.QueueStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM queue_jobs
  WHERE kind = $1
  `, kind).Scan(&s.Pending, &s.Running, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until an entry of kind is enqueued or ctx ends.
func (r *QueueRepo) WaitForNotification(ctx context.Context, kind model.QueueKind) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	channel := queueChannel(kind)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, err := conn.ExecContext(ctx, "LISTEN "+quoted); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, werr := sc.Conn().WaitForNotification(ctx)
		return werr
	})
}

// GetByID returns one entry or ErrQueueEntryNotFound.
func (r *QueueRepo) GetByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_jobs WHERE id = $1`, id)
	e, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

func collectQueueEntry(rows pgx.Rows) (*model.QueueEntry, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	e, err := scanQueueEntry(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(scanner rowScanner) (*model.QueueEntry, error) {
	var (
		e                                      model.QueueEntry
		payload                                []byte
		lastError                              sql.NullString
		startedAt, completedAt, leaseExpiresAt sql.NullTime
	)
	if err := scanner.Scan(
		&e.ID,
		&e.Kind,
		&e.Status,
		&payload,
		&e.Attempts,
		&e.MaxAttempts,
		&e.BackoffMillis,
		&e.ScheduledAt,
		&startedAt,
		&completedAt,
		&lastError,
		&leaseExpiresAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Payload = append(json.RawMessage(nil), payload...)
	e.LastError = cloneNullableString(lastError)
	e.StartedAt = cloneNullableTime(startedAt)
	e.CompletedAt = cloneNullableTime(completedAt)
	e.LeaseExpiresAt = cloneNullableTime(leaseExpiresAt)
	return &e, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
