// Package model defines the core data types shared by the maintainer-brief job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QueueKind identifies which payload variant a queue entry carries.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type QueueKind string

// QueueStatus represents the delivery state of a queue entry.
type QueueStatus string

const (
	// QueueKindAnalysis carries an AnalysisPayload.
	QueueKindAnalysis QueueKind = "analysis"
	// QueueKindExport carries an ExportPayload.
	QueueKindExport QueueKind = "export"

	// QueueStatusPending indicates the entry is waiting for a worker (or for its backoff to elapse).
	QueueStatusPending QueueStatus = "pending"
	// QueueStatusRunning indicates a worker holds the lease.
	QueueStatusRunning QueueStatus = "running"
	// QueueStatusCompleted indicates the handler returned without error.
	QueueStatusCompleted QueueStatus = "completed"
	// QueueStatusFailed indicates all delivery attempts were exhausted.
	QueueStatusFailed QueueStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for QueueKind to allow env parsing.
func (k *QueueKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	qk := QueueKind(v)
	if qk.Valid() {
		*k = qk
		return nil
	}
	return fmt.Errorf("invalid QueueKind: %q", v)
}

// ErrNoJobsAvailable is returned when no queue entries are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the QueueKind is known.
func (k QueueKind) Valid() bool {
	return k == QueueKindAnalysis || k == QueueKindExport
}

// Valid returns true if the QueueStatus is known.
func (s QueueStatus) Valid() bool {
	return s == QueueStatusPending || s == QueueStatusRunning || s == QueueStatusCompleted ||
		s == QueueStatusFailed
}

// QueueEntry is a durable delivery record. For analysis work the entry id equals the analysis job id.
type QueueEntry struct {
	ID             string          `json:"id"                         db:"id"`
	Kind           QueueKind       `json:"kind"                       db:"kind"`
	Status         QueueStatus     `json:"status"                     db:"status"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Attempts       int             `json:"attempts"                   db:"attempts"`
	MaxAttempts    int             `json:"max_attempts"               db:"max_attempts"`
	BackoffMillis  int64           `json:"backoff_ms"                 db:"backoff_ms"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// FinalAttempt reports whether a failure of the current delivery exhausts the entry.
func (e *QueueEntry) FinalAttempt() bool {
	return e.Attempts+1 >= e.MaxAttempts
}

// EnqueueRequest represents a request to add an entry to the durable queue.
type EnqueueRequest struct {
	// ID is optional; when empty the database assigns one.
	ID          string        `json:"id,omitempty"`
	Payload     QueuePayload  `json:"payload"`
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
}

// Validate validates the EnqueueRequest fields.
func (r *EnqueueRequest) Validate() error {
	if err := r.Payload.Validate(); err != nil {
		return err
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	if r.Backoff < 0 {
		return errors.New("backoff must be >= 0")
	}
	return nil
}

// QueueStats represents counts of queue entries in each state.
type QueueStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
