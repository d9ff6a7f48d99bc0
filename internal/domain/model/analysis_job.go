package model

import (
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// JobTrigger records what caused an analysis job to be created.
type JobTrigger string

const (
	// JobStatusQueued is the initial state after creation.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning is set when a worker picks the job up.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded is terminal.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed is terminal.
	JobStatusFailed JobStatus = "failed"

	// TriggerManual is a user-initiated run.
	TriggerManual JobTrigger = "manual"
	// TriggerSchedule is a run created by the recurring sweep.
	TriggerSchedule JobTrigger = "schedule"
)

// Stage progress checkpoints.
const (
	ProgressStarted   = 0
	ProgressFetched   = 25
	ProgressGenerated = 85
	ProgressPersisted = 95
	ProgressDone      = 100
)

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusSucceeded || s == JobStatusFailed
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Valid returns true if the JobTrigger is known.
func (t JobTrigger) Valid() bool {
	return t == TriggerManual || t == TriggerSchedule
}

var (
	// ErrInsufficientData is returned when a snapshot is too thin to analyze.
	ErrInsufficientData = errors.New("insufficient data: need at least 5 commits for analysis")
	// ErrInvalidProgress is returned for progress values outside 0..100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
	// ErrInvalidTransition is returned when an update targets a job already in a terminal state.
	ErrInvalidTransition = errors.New("job is in a terminal state")
)

// AnalysisJob is one attempt to produce the output set for a repository.
type AnalysisJob struct {
	ID           string     `json:"id"                      db:"id"`
	RepoID       string     `json:"repo_id"                 db:"repo_id"`
	UserID       string     `json:"user_id"                 db:"user_id"`
	Fingerprint  string     `json:"fingerprint"             db:"fingerprint"`
	Trigger      JobTrigger `json:"trigger"                 db:"trigger"`
	Status       JobStatus  `json:"status"                  db:"status"`
	Progress     int        `json:"progress"                db:"progress"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at"              db:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"    db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"   db:"finished_at"`
}

// View projects the job into its externally visible status.
func (j *AnalysisJob) View() JobStatusView {
	return JobStatusView{
		ID:           j.ID,
		Status:       j.Status,
		Progress:     j.Progress,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		ErrorMessage: j.ErrorMessage,
	}
}

// JobStatusView is the read-only projection exposed to callers polling a job.
type JobStatusView struct {
	ID           string     `json:"id"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// CreateAnalysisJobRequest represents a request to create a new analysis job.
type CreateAnalysisJobRequest struct {
	RepoID      string     `json:"repo_id"`
	UserID      string     `json:"user_id"`
	Fingerprint string     `json:"fingerprint"`
	Trigger     JobTrigger `json:"trigger"`
}

// Validate validates the CreateAnalysisJobRequest fields.
func (r *CreateAnalysisJobRequest) Validate() error {
	if r.RepoID == "" {
		return errors.New("repo id is required")
	}
	if r.UserID == "" {
		return errors.New("user id is required")
	}
	if r.Fingerprint == "" {
		return errors.New("fingerprint is required")
	}
	if !r.Trigger.Valid() {
		return errors.New("invalid trigger")
	}
	return nil
}

// StatusUpdate describes one atomic change to a job. Progress and ErrorMessage are optional.
type StatusUpdate struct {
	JobID        string
	Status       JobStatus
	Progress     *int
	ErrorMessage *string
}

// Validate validates the StatusUpdate fields.
func (u *StatusUpdate) Validate() error {
	if u.JobID == "" {
		return errors.New("job id is required")
	}
	if !u.Status.Valid() {
		return errors.New("invalid job status")
	}
	if u.Progress != nil && (*u.Progress < 0 || *u.Progress > 100) {
		return ErrInvalidProgress
	}
	return nil
}
