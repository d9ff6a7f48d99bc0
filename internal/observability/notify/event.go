package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailurePayload captures the canonical data we emit when a job exhausts its deliveries.
type JobFailurePayload struct {
	JobID        string
	JobKind      string
	RepoID       string
	RepoFullName string
	Error        string
	ErrorClass   string
	Severity     string
	Attempts     int
	OccurredAt   time.Time
	Metadata     map[string]string
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}

// Completion is the user-facing notice that an analysis finished.
type Completion struct {
	JobID        string
	RepoID       string
	RepoFullName string
	OutputsURL   string
	OccurredAt   time.Time
}
