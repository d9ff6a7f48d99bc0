// Package failurenotifier alerts operators when a job exhausts its delivery attempts.
package failurenotifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/observability/notify"
)

// DefaultIgnoredClasses are error classes caused by repository contents or by operators rather than
// by the system; they never page anyone.
var DefaultIgnoredClasses = []string{"insufficient_data", "canceled"}

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// IgnoreClasses overrides DefaultIgnoredClasses. Pass an empty non-nil slice to alert on everything.
	IgnoreClasses []string
	// SinkTimeout bounds each delivery. Defaults to 10s.
	SinkTimeout time.Duration
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	ignore  map[string]struct{}
	timeout time.Duration
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = "sink"
		}
		sinks = append(sinks, entry)
	}

	classes := opts.IgnoreClasses
	if classes == nil {
		classes = DefaultIgnoredClasses
	}
	ignore := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		ignore[c] = struct{}{}
	}

	timeout := opts.SinkTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Service{
		logger:  logger.With("component", "failure_notifier"),
		sinks:   sinks,
		ignore:  ignore,
		timeout: timeout,
	}
}

// NotifyJobFailure fans the payload out to all sinks and waits for every delivery.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if _, skip := s.ignore[payload.ErrorClass]; skip && payload.ErrorClass != "" {
		s.logger.DebugContext(ctx, "skipping failure notification",
			"job_id", payload.JobID,
			"error_class", payload.ErrorClass,
		)
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.deliver(ctx, entry, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_kind", payload.JobKind,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

func (s *Service) deliver(ctx context.Context, entry SinkRegistration, payload notify.JobFailurePayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return entry.Sink.SendJobFailure(sctx, payload)
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
