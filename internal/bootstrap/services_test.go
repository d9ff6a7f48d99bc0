package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/data/cryptoutil"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "analysis runner only",
			modes: []config.ServiceMode{config.ServiceModeAnalysisRunner},
			want:  1,
		},
		{
			name:  "scheduler and reaper",
			modes: []config.ServiceMode{config.ServiceModeScheduler, config.ServiceModeReaper},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: config.ValidServiceModes(),
			want:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestGetEnabledServices_StableOrder(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, scheduler,analysis-runner"}
	assert.Equal(t, []string{"analysis-runner", "scheduler", "reaper"}, GetEnabledServices(cfg))

	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: "http"}))

	cfg := &config.AppConfig{Services: "analysis-runner"}
	err := ValidateServiceConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	cfg.OpenAI.APIKey = "sk-test"
	require.NoError(t, ValidateServiceConfig(cfg))
	require.NoError(t, ValidateServiceConfig(&config.AppConfig{Services: "scheduler,reaper"}))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestCreateEncryptor(t *testing.T) {
	plain := CreateEncryptor("", nil)
	assert.IsType(t, cryptoutil.PlainEncryptor{}, plain)

	enc := CreateEncryptor("a passphrase", nil)
	require.IsType(t, &cryptoutil.AESGCMEncryptor{}, enc)
	sealed, err := enc.Encrypt([]byte("https://hooks.slack.com/services/x"))
	require.NoError(t, err)
	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.com/services/x", string(opened))
}

func TestSchedulePolicy(t *testing.T) {
	p := schedulePolicy(config.SchedulerConfig{StartHour: 9, EndHour: 17, Timezone: "UTC", Weekday: "fri"})
	assert.Equal(t, time.Friday, p.Weekday())
	assert.True(t, p.InWindow(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)))
	assert.False(t, p.InWindow(time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)))
}

func TestSchedulePolicy_MidnightOnly(t *testing.T) {
	p := schedulePolicy(config.SchedulerConfig{StartHour: 0, EndHour: 0, Timezone: "UTC"})
	assert.True(t, p.InWindow(time.Date(2026, 10, 16, 0, 15, 0, 0, time.UTC)))
	assert.False(t, p.InWindow(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)))
}

func testAppConfig(t *testing.T, services string) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		Services:    services,
		FrontendURL: "http://localhost:3000",
		Export:      config.ExportConfig{Backend: "local", LocalDir: t.TempDir()},
	}
	cfg.Idempotency.Window = 24 * time.Hour
	cfg.Queue.MaxAttempts = 3
	cfg.Queue.Backoff = time.Second
	cfg.Queue.MaxBackoff = time.Minute
	cfg.AnalysisRunner.JobLease = time.Minute
	cfg.AnalysisRunner.Concurrency = 1
	cfg.ExportRunner.JobLease = 30 * time.Second
	cfg.Scheduler.Interval = time.Hour
	cfg.Scheduler.Weekday = "monday"
	cfg.Scheduler.Timezone = "UTC"
	return cfg
}

func TestNewServices_BuildsOnlyEnabledModes(t *testing.T) {
	cfg := testAppConfig(t, "export-runner")

	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg})
	require.NoError(t, err)
	assert.NotNil(t, svc.Analysis)
	assert.NotNil(t, svc.Queue)
	assert.NotNil(t, svc.Gate)
	assert.NotNil(t, svc.Exports)
	assert.Nil(t, svc.Pipeline)
	assert.Nil(t, svc.Scheduler)
	assert.Nil(t, svc.Repos.Cache)
}

func TestNewServices_ModesOverrideAndSchedulerWiring(t *testing.T) {
	cfg := testAppConfig(t, "export-runner")

	svc, err := NewServices(context.Background(), &ServiceDeps{
		Config: cfg,
		Modes:  map[config.ServiceMode]bool{config.ServiceModeScheduler: true},
	})
	require.NoError(t, err)
	assert.NotNil(t, svc.Scheduler)
	assert.Nil(t, svc.Exports)
}

func TestNewServices_AnalysisRunnerNeedsOpenAIKey(t *testing.T) {
	cfg := testAppConfig(t, "analysis-runner")

	_, err := NewServices(context.Background(), &ServiceDeps{Config: cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai")

	cfg.OpenAI.APIKey = "sk-test"
	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg})
	require.NoError(t, err)
	assert.NotNil(t, svc.Pipeline)
}

func TestNewServices_RequiresConfig(t *testing.T) {
	_, err := NewServices(context.Background(), nil)
	require.Error(t, err)
	_, err = NewServices(context.Background(), &ServiceDeps{})
	require.Error(t, err)
}

func TestLaunchBackground_ForwardsErrors(t *testing.T) {
	errCh := make(chan error, 1)
	deps := &serviceStartupDeps{
		ctx:             context.Background(),
		logger:          slog.Default(),
		enabledServices: map[config.ServiceMode]bool{config.ServiceModeReaper: true},
		errCh:           errCh,
	}
	boom := errors.New("boom")

	done := launchBackground(context.Background(), deps, backgroundService{
		mode:  config.ServiceModeReaper,
		name:  "reaper",
		start: func(context.Context) error { return boom },
	})
	require.NotNil(t, done)
	<-done
	err := <-errCh
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "reaper failed")

	skipped := launchBackground(context.Background(), deps, backgroundService{
		mode:  config.ServiceModeScheduler,
		name:  "scheduler",
		start: func(context.Context) error { return nil },
	})
	assert.Nil(t, skipped)
}

func TestWaitForShutdown_SignalCancelsAndDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deps := &serviceStartupDeps{
		ctx:             ctx,
		logger:          slog.Default(),
		enabledServices: map[config.ServiceMode]bool{config.ServiceModeScheduler: true},
		errCh:           make(chan error, 2),
	}
	handles := startBackgroundServices(deps, []backgroundService{{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}})
	require.Len(t, handles, 1)

	signals := make(chan os.Signal, 1)
	signals <- os.Interrupt
	err := waitForShutdown(shutdownConfig{
		ctx:         ctx,
		cancel:      cancel,
		errCh:       deps.errCh,
		logger:      slog.Default(),
		backgrounds: handles,
		signals:     signals,
	})
	require.NoError(t, err)
	select {
	case <-handles[0].done:
	default:
		t.Fatal("background service still running after shutdown")
	}
}

func TestWaitForShutdown_ReturnsServiceError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	errCh <- errors.New("analysis runner failed: db gone")

	err := waitForShutdown(shutdownConfig{
		ctx:     ctx,
		cancel:  cancel,
		errCh:   errCh,
		logger:  slog.Default(),
		signals: make(chan os.Signal),
	})
	require.EqualError(t, err, "analysis runner failed: db gone")
	assert.Error(t, ctx.Err())
}
