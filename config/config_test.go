package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service",
			input:    "scheduler",
			expected: map[ServiceMode]bool{ServiceModeScheduler: true},
		},
		{
			name:  "all services with spaces",
			input: " analysis-runner , export-runner , scheduler , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeAnalysisRunner: true,
				ServiceModeExportRunner:   true,
				ServiceModeScheduler:      true,
				ServiceModeReaper:         true,
			},
		},
		{
			name:     "duplicates collapse",
			input:    "reaper,reaper",
			expected: map[ServiceMode]bool{ServiceModeReaper: true},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only commas", input: ",,", expectError: true},
		{name: "unknown service", input: "scheduler,http", expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseServices(tc.input)
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestDefaultsFromEnv(t *testing.T) {
	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, 24*time.Hour, cfg.Idempotency.Window)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Queue.Backoff)
	assert.Equal(t, 5, cfg.AnalysisRunner.Concurrency)
	assert.Equal(t, 5, cfg.AnalysisRunner.MinCommits)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 0, cfg.Scheduler.StartHour)
	assert.Equal(t, 23, cfg.Scheduler.EndHour)
	assert.Equal(t, 100, cfg.Reaper.CompletedKeep)
	assert.Equal(t, 24*time.Hour, cfg.Reaper.CompletedMaxAge)
	assert.Equal(t, 1000, cfg.Reaper.FailedKeep)
	assert.Equal(t, 7*24*time.Hour, cfg.Reaper.FailedMaxAge)
	assert.Equal(t, "gpt-4-turbo-preview", cfg.OpenAI.Model)
	assert.Equal(t, 10, cfg.GitHub.Burst)
	assert.InDelta(t, 1.5, cfg.GitHub.RequestsPerSecond, 1e-9)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.False(t, cfg.SMTP.Enabled())
	assert.Equal(t, "local", cfg.Export.Backend)
	assert.True(t, cfg.IsServiceEnabled(ServiceModeAnalysisRunner))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IDEMPOTENCY_WINDOW", "2h")
	t.Setenv("MAX_CONCURRENT_JOBS", "9")
	t.Setenv("SCHEDULER_WEEKDAY", "fri")
	t.Setenv("SCHEDULER_TIMEZONE", "Europe/Berlin")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "bot@example.com")
	t.Setenv("GITHUB_APP_ID", "42")
	t.Setenv("GITHUB_APP_PRIVATE_KEY", "pem")
	t.Setenv("SERVICES", "scheduler")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, 2*time.Hour, cfg.Idempotency.Window)
	assert.Equal(t, 9, cfg.AnalysisRunner.Concurrency)
	day, ok := ParseWeekday(cfg.Scheduler.Weekday)
	require.True(t, ok)
	assert.Equal(t, time.Friday, day)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Location().String())
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, "bot@example.com", cfg.SMTP.From)
	assert.True(t, cfg.GitHub.AppAuthEnabled())
	assert.False(t, cfg.IsServiceEnabled(ServiceModeReaper))
}

func TestSanitizeGuardrails(t *testing.T) {
	cfg := AppConfig{
		Queue:     QueueConfig{MaxAttempts: 0, Backoff: time.Second, MaxBackoff: 0},
		Scheduler: SchedulerConfig{Interval: time.Second, StartHour: -3, EndHour: 40, Weekday: "someday"},
		Reaper:    ReaperConfig{BatchSize: 1 << 20, CompletedKeep: -1},
		Export:    ExportConfig{Backend: "gcs"},
		Observability: ObservabilityConfig{Notifications: ObservabilityNotificationsConfig{
			Enabled: true,
			Slack:   SlackNotificationConfig{Enabled: true},
		}},
	}
	cfg.Sanitize()

	assert.Equal(t, 1, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.MaxBackoff)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 0, cfg.Scheduler.StartHour)
	assert.Equal(t, 23, cfg.Scheduler.EndHour)
	assert.Equal(t, "monday", cfg.Scheduler.Weekday)
	assert.Equal(t, 10000, cfg.Reaper.BatchSize)
	assert.Equal(t, 0, cfg.Reaper.CompletedKeep)
	assert.Equal(t, "local", cfg.Export.Backend, "gcs without a bucket falls back to local")
	assert.False(t, cfg.Observability.Notifications.Slack.Enabled, "slack without webhook is disabled")
}

func TestDBConfigDSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5433, User: "u", Password: "p@ss", Name: "mb", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p%40ss@db:5433/mb?sslmode=require", c.DSN())
}
