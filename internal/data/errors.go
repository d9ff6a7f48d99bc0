package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrQueueEntryNotFound is returned when a queue entry id does not exist.
	ErrQueueEntryNotFound = errors.New("queue entry not found")

	// ErrJobNotFound is returned when an analysis job does not exist. FindRecentSuccess also returns
	// it when no succeeded job matches.
	ErrJobNotFound = errors.New("analysis job not found")

	ErrOutputNotFound = errors.New("analysis output not found")
	ErrRepoNotFound   = errors.New("repository not found")
	ErrExportNotFound = errors.New("export request not found")

	// ErrJobIDRequired is returned when a repository call needs a job id and got none.
	ErrJobIDRequired = errors.New("job_id is required")
)
