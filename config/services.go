package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeAnalysisRunner consumes analysis queue entries.
	ServiceModeAnalysisRunner ServiceMode = "analysis-runner"
	// ServiceModeExportRunner consumes export queue entries.
	ServiceModeExportRunner ServiceMode = "export-runner"
	// ServiceModeScheduler runs the hourly recurring-analysis sweep.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs queue retention and stale entry cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeAnalysisRunner,
		ServiceModeExportRunner,
		ServiceModeScheduler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)
	if strings.TrimSpace(servicesStr) == "" {
		return services, errors.New("at least one service must be specified")
	}

	valid := ValidServiceModes()
	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		known := false
		for _, v := range valid {
			if v == mode {
				known = true
				break
			}
		}
		if !known {
			names := make([]string, len(valid))
			for i, v := range valid {
				names[i] = string(v)
			}
			return nil, fmt.Errorf("invalid service name: %q (valid options: %s)", name, strings.Join(names, ", "))
		}
		services[mode] = true
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// QueueConfig contains durable queue delivery settings.
type QueueConfig struct {
	// MaxAttempts is the number of deliveries before an entry fails terminally.
	MaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	// Backoff is the base delay of the exponential redelivery backoff.
	Backoff time.Duration `env:"QUEUE_BACKOFF" envDefault:"5s"`
	// MaxBackoff caps the redelivery delay.
	MaxBackoff time.Duration `env:"QUEUE_MAX_BACKOFF" envDefault:"10m"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.MaxAttempts < 1 {
		q.MaxAttempts = 1
	}
	if q.Backoff < 0 {
		q.Backoff = 0
	}
	if q.MaxBackoff < q.Backoff {
		q.MaxBackoff = q.Backoff
	}
}

// AnalysisRunnerConfig contains analysis worker configuration.
type AnalysisRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"MAX_CONCURRENT_JOBS" envDefault:"5"`
	// JobLease is the lease granted per reservation; workers heartbeat at a third of it.
	JobLease time.Duration `env:"ANALYSIS_RUNNER_JOB_LEASE" envDefault:"2m"`
	// MinCommits is the smallest commit count accepted for generation.
	MinCommits int `env:"ANALYSIS_MIN_COMMITS" envDefault:"5"`
}

// Sanitize applies guardrails to analysis runner configuration values.
func (a *AnalysisRunnerConfig) Sanitize() {
	if a.Concurrency < 1 {
		a.Concurrency = 1
	}
	if a.JobLease < 5*time.Second {
		a.JobLease = 5 * time.Second
	}
	if a.MinCommits < 1 {
		a.MinCommits = 1
	}
}

// ExportRunnerConfig contains export worker configuration.
type ExportRunnerConfig struct {
	Concurrency int           `env:"EXPORT_RUNNER_CONCURRENCY" envDefault:"2"`
	JobLease    time.Duration `env:"EXPORT_RUNNER_JOB_LEASE"   envDefault:"30s"`
}

// Sanitize applies guardrails to export runner configuration values.
func (e *ExportRunnerConfig) Sanitize() {
	if e.Concurrency < 1 {
		e.Concurrency = 1
	}
	if e.JobLease < 5*time.Second {
		e.JobLease = 5 * time.Second
	}
}

// SchedulerConfig contains recurring-analysis sweep configuration.
type SchedulerConfig struct {
	// Interval is the sweep cadence.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`
	// StartHour and EndHour bound the hours (inclusive) during which sweeps may trigger work.
	StartHour int `env:"SCHEDULER_START_HOUR" envDefault:"0"`
	EndHour   int `env:"SCHEDULER_END_HOUR"   envDefault:"23"`
	// Timezone is the IANA zone the hour window and weekday are evaluated in.
	Timezone string `env:"SCHEDULER_TIMEZONE" envDefault:"UTC"`
	// Weekday is the designated run day for weekly and biweekly repositories.
	Weekday string `env:"SCHEDULER_WEEKDAY" envDefault:"monday"`
	// LockTTL bounds the Redis lock that keeps two instances from sweeping the same hour.
	LockTTL time.Duration `env:"SCHEDULER_LOCK_TTL" envDefault:"55m"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	s.StartHour = clampHour(s.StartHour)
	s.EndHour = clampHour(s.EndHour)
	s.Timezone = strings.TrimSpace(s.Timezone)
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, ok := ParseWeekday(s.Weekday); !ok {
		s.Weekday = "monday"
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 55 * time.Minute
	}
}

// Location resolves Timezone, falling back to UTC.
func (s *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, true
		}
	}
	return time.Sunday, false
}

func clampHour(h int) int {
	return min(max(h, 0), 23)
}

// ReaperConfig contains queue cleanup configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending entries before they are marked as failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"6h"`

	// CompletedMaxAge and CompletedKeep bound retention of completed entries.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"24h"`
	CompletedKeep   int           `env:"REAPER_COMPLETED_KEEP"    envDefault:"100"`

	// FailedMaxAge and FailedKeep bound retention of failed entries.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days
	FailedKeep   int           `env:"REAPER_FAILED_KEEP"    envDefault:"1000"`

	// BatchSize is the maximum number of rows to process per operation.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < time.Hour {
		r.CompletedMaxAge = time.Hour
	}
	if r.FailedMaxAge < time.Hour {
		r.FailedMaxAge = time.Hour
	}
	r.CompletedKeep = max(r.CompletedKeep, 0)
	r.FailedKeep = max(r.FailedKeep, 0)
	r.BatchSize = min(max(r.BatchSize, 1), 10000)
}
