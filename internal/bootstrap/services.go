package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/adapters/exportstore"
	"github.com/devion-industries/maintainer-brief/internal/adapters/github"
	"github.com/devion-industries/maintainer-brief/internal/adapters/openai"
	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data"
	"github.com/devion-industries/maintainer-brief/internal/data/cryptoutil"
	domainscheduler "github.com/devion-industries/maintainer-brief/internal/domain/scheduler"
	"github.com/devion-industries/maintainer-brief/internal/observability/notify/email"
	"github.com/devion-industries/maintainer-brief/internal/observability/notify/pagerduty"
	"github.com/devion-industries/maintainer-brief/internal/observability/notify/slack"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/retry"
	"github.com/devion-industries/maintainer-brief/internal/service"
	"github.com/devion-industries/maintainer-brief/internal/service/failurenotifier"
)

// ServiceContainer holds all application services. Services that belong to a disabled mode are nil.
type ServiceContainer struct {
	Analysis      *service.AnalysisService
	Queue         *service.QueueService
	Gate          *service.Gate
	Pipeline      *service.PipelineExecutor
	Exports       *service.ExportService
	Scheduler     *service.SchedulerService
	Repos         *serviceRepositories
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	// Modes overrides the SERVICES list when set; the admin CLI uses it to build only what a
	// command needs.
	Modes map[config.ServiceMode]bool
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB      *sql.DB
	Redis   redis.UniversalClient
	Jobs    *data.AnalysisJobRepo
	Outputs *data.OutputRepo
	Exports *data.ExportRepo
	Repos   *data.RepoRepo
	Queue   *data.QueueRepo
	// Cache is nil when Redis is disabled.
	Cache core.CacheRepository
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(cfg *config.AppConfig, db *sql.DB, rdb redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		DB:      db,
		Redis:   rdb,
		Jobs:    data.NewAnalysisJobRepo(db, data.AnalysisJobRepoConfig{Logger: logger}),
		Outputs: data.NewOutputRepo(db, nil),
		Exports: data.NewExportRepo(db, nil),
		Repos:   data.NewRepoRepo(db),
		Queue: data.NewQueueRepo(db, data.QueueRepoConfig{
			MaxAttempts: cfg.Queue.MaxAttempts,
			Backoff:     cfg.Queue.Backoff,
			MaxBackoff:  cfg.Queue.MaxBackoff,
			Logger:      logger,
		}),
	}
	if rdb != nil && cfg.Redis.Enabled {
		repos.Cache = data.NewRedisCacheRepo(data.RedisCacheRepoOptions{
			Client:    rdb,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	}
	return repos
}

func retryPolicy(limit int) *retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = limit + 1
	return &p
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		sinks = append(sinks, failurenotifier.SinkRegistration{
			Name: "slack",
			Sink: slack.NewClient(slack.Config{
				WebhookURL: cfg.Slack.WebhookURL,
				Channel:    cfg.Slack.Channel,
				Username:   cfg.Slack.Username,
				Timeout:    cfg.Timeout,
				Retry:      retryPolicy(cfg.RetryLimit),
			}),
		})
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			Retry:      retryPolicy(cfg.RetryLimit),
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

// buildCompletionNotifier wires the user-facing email and Slack channels. Email is skipped when SMTP
// is not configured; Slack webhooks are per repository so the client is always available.
func buildCompletionNotifier(cfg *config.AppConfig, logger *slog.Logger) (*service.CompletionNotifierService, error) {
	opts := service.CompletionNotifierOptions{
		Slack: slack.NewClient(slack.Config{
			Timeout: cfg.Observability.Notifications.Timeout,
			Retry:   retryPolicy(cfg.Observability.Notifications.RetryLimit),
		}),
		Secrets: cryptoutil.TextDecryptor{Enc: CreateEncryptor(cfg.SecretsEncryptionKey, logger)},
		BaseURL: cfg.FrontendURL,
		Logger:  logger,
	}
	if cfg.SMTP.Enabled() {
		opts.Email = email.NewClient(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Retry:    retryPolicy(cfg.Observability.Notifications.RetryLimit),
		})
	}
	return service.NewCompletionNotifier(opts)
}

func schedulePolicy(cfg config.SchedulerConfig) *domainscheduler.Policy {
	weekday, ok := config.ParseWeekday(cfg.Weekday)
	policy := domainscheduler.NewPolicy(domainscheduler.PolicyOptions{
		StartHour:  cfg.StartHour,
		EndHour:    cfg.EndHour,
		WindowSet:  true,
		Location:   cfg.Location(),
		Weekday:    weekday,
		WeekdaySet: ok,
	})
	return &policy
}

// NewServices builds the services required by the enabled modes. The analysis trigger path
// (gate, queue, analysis service) is always built since every mode and the admin CLI rely on it.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	modes := deps.Modes
	if modes == nil {
		var err error
		if modes, err = cfg.GetEnabledServices(); err != nil {
			return ServiceContainer{}, fmt.Errorf("determine enabled services: %w", err)
		}
	}

	observability := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(cfg, deps.DB, deps.RedisClient, logger)
	container := ServiceContainer{Repos: repos, Observability: observability}

	var cache *core.RecentSuccessCache
	if cfg.Idempotency.CacheEnabled && repos.Cache != nil {
		cache = core.NewRecentSuccessCache(repos.Cache, cfg.Idempotency.Window)
	}
	gate, err := service.NewGate(service.GateOptions{
		Jobs:   repos.Jobs,
		Cache:  cache,
		Window: cfg.Idempotency.Window,
		Logger: logger,
	})
	if err != nil {
		return container, fmt.Errorf("create gate: %w", err)
	}
	container.Gate = gate

	container.Queue, err = service.NewQueueService(service.QueueServiceOptions{
		Repo:            repos.Queue,
		DefaultLease:    cfg.AnalysisRunner.JobLease,
		Logger:          logger,
		Metrics:         observability.MetricsSink,
		FailureNotifier: observability.FailureNotifier,
	})
	if err != nil {
		return container, fmt.Errorf("create queue service: %w", err)
	}

	// The client only dials GitHub on use, so it is built for every mode: manual triggers without a
	// commit resolve the branch head through it.
	gh, err := github.NewClient(github.ClientOptions{
		Config:  cfg.GitHub,
		Logger:  logger,
		Metrics: observability.MetricsSink,
	})
	if err != nil {
		return container, fmt.Errorf("create github client: %w", err)
	}

	container.Analysis, err = service.NewAnalysisService(service.AnalysisServiceOptions{
		Repos:       repos.Repos,
		Jobs:        repos.Jobs,
		Gate:        gate,
		Queue:       container.Queue,
		Commits:     gh,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
		Logger:      logger,
	})
	if err != nil {
		return container, fmt.Errorf("create analysis service: %w", err)
	}

	if modes[config.ServiceModeAnalysisRunner] {
		if container.Pipeline, err = buildPipeline(cfg, repos, gate, gh, observability, logger); err != nil {
			return container, err
		}
	}

	if modes[config.ServiceModeExportRunner] {
		store, storeErr := exportstore.New(ctx, exportstore.Options{Config: cfg.Export, Logger: logger})
		if storeErr != nil {
			return container, fmt.Errorf("create export store: %w", storeErr)
		}
		container.Exports, err = service.NewExportService(service.ExportServiceOptions{
			Exports:     repos.Exports,
			Outputs:     repos.Outputs,
			Store:       store,
			Queue:       container.Queue,
			MaxAttempts: cfg.Queue.MaxAttempts,
			Backoff:     cfg.Queue.Backoff,
			Logger:      logger,
		})
		if err != nil {
			return container, fmt.Errorf("create export service: %w", err)
		}
	}

	if modes[config.ServiceModeScheduler] {
		opts := service.SchedulerServiceOptions{
			Repos:    repos.Repos,
			Commits:  gh,
			Analysis: container.Analysis,
			Policy:   schedulePolicy(cfg.Scheduler),
			LockTTL:  cfg.Scheduler.LockTTL,
			Metrics:  observability.MetricsSink,
			Logger:   logger,
		}
		if repos.Cache != nil {
			opts.Lock = repos.Cache
		}
		if container.Scheduler, err = service.NewSchedulerService(opts); err != nil {
			return container, fmt.Errorf("create scheduler service: %w", err)
		}
	}

	return container, nil
}

func buildPipeline(
	cfg *config.AppConfig,
	repos *serviceRepositories,
	gate *service.Gate,
	gh *github.Client,
	observability ObservabilityContainer,
	logger *slog.Logger,
) (*service.PipelineExecutor, error) {
	generator, err := openai.NewGenerator(openai.GeneratorOptions{
		Config:  cfg.OpenAI,
		Logger:  logger,
		Metrics: observability.MetricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai generator: %w", err)
	}
	notifier, err := buildCompletionNotifier(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create completion notifier: %w", err)
	}
	pipeline, err := service.NewPipelineExecutor(service.PipelineExecutorOptions{
		Jobs:       repos.Jobs,
		Outputs:    repos.Outputs,
		Repos:      repos.Repos,
		Fetcher:    gh,
		Generator:  generator,
		Notifier:   notifier,
		Gate:       gate,
		MinCommits: cfg.AnalysisRunner.MinCommits,
		Metrics:    observability.MetricsSink,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline executor: %w", err)
	}
	return pipeline, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newAnalysisRunnerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeAnalysisRunner,
		name: "analysis runner",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			return RunAnalysisRunner(ctx, AnalysisRunnerConfig{
				Queue:       svc.Queue,
				Pipeline:    svc.Pipeline,
				Logger:      deps.logger,
				Lease:       deps.cfg.Config.AnalysisRunner.JobLease,
				Concurrency: deps.cfg.Config.AnalysisRunner.Concurrency,
				Metrics:     svc.Observability.MetricsSink,
			})
		},
	}
}

func newExportRunnerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeExportRunner,
		name: "export runner",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			return RunExportRunner(ctx, ExportRunnerConfig{
				Queue:       svc.Queue,
				Exports:     svc.Exports,
				Logger:      deps.logger,
				Lease:       deps.cfg.Config.ExportRunner.JobLease,
				Concurrency: deps.cfg.Config.ExportRunner.Concurrency,
				Metrics:     svc.Observability.MetricsSink,
			})
		},
	}
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			return RunScheduler(ctx, SchedulerConfig{
				Scheduler: deps.cfg.Services.Scheduler,
				Interval:  deps.cfg.Config.Scheduler.Interval,
				Logger:    deps.logger,
				Metrics:   deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			repos := deps.cfg.Services.Repos
			return RunReaper(ctx, ReaperConfig{
				DB:      deps.cfg.DB,
				Repos:   repos,
				Logger:  deps.logger,
				Config:  deps.cfg.Config.Reaper,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
		return nil
	}
	return []backgroundService{
		newAnalysisRunnerBackgroundService(deps),
		newExportRunnerBackgroundService(deps),
		newSchedulerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		queue:       cfg.Services.Queue,
		logger:      logger,
		backgrounds: backgrounds,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	queue       *service.QueueService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	// signals overrides the OS signal channel in tests.
	signals <-chan os.Signal
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := cfg.signals
	if quit == nil {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		quit = sigCh
	}

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services to drain, then releases the queue listeners.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
	if cfg.queue != nil {
		cfg.queue.StopNotifier()
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
