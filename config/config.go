// Package config loads maintainer-brief configuration from the environment.
package config

import (
	"os"
	"strings"
	"time"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Postgres and Redis
//   - services.go: service modes, queue, runners, scheduler, reaper
//   - integrations.go: GitHub, OpenAI, SMTP, export storage
//   - observability.go: metrics and operator failure alerts
type AppConfig struct {
	// IsDev controls development mode behavior. Set DEV=true or NODE_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	// SecretsEncryptionKey decrypts per-repository secrets such as Slack webhook URLs.
	// Required for production, optional for development.
	SecretsEncryptionKey string `env:"SECRETS_ENCRYPTION_KEY"`

	// FrontendURL is the base of links placed in completion notices.
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is a comma-delimited list of enabled service modes.
	Services string `env:"SERVICES" envDefault:"analysis-runner,export-runner,scheduler,reaper"`

	Idempotency    IdempotencyConfig
	Queue          QueueConfig
	AnalysisRunner AnalysisRunnerConfig
	ExportRunner   ExportRunnerConfig
	Scheduler      SchedulerConfig
	Reaper         ReaperConfig

	GitHub GitHubConfig `envPrefix:"GITHUB_"`
	OpenAI OpenAIConfig `envPrefix:"OPENAI_"`
	SMTP   SMTPConfig   `envPrefix:"SMTP_"`
	Export ExportConfig `envPrefix:"EXPORT_"`

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.FrontendURL = strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/")

	c.Idempotency.Sanitize()
	c.Queue.Sanitize()
	c.AnalysisRunner.Sanitize()
	c.ExportRunner.Sanitize()
	c.Scheduler.Sanitize()
	c.Reaper.Sanitize()
	c.GitHub.Sanitize()
	c.OpenAI.Sanitize()
	c.SMTP.Sanitize()
	c.Export.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode falls back to NODE_ENV when DEV is unset.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsServiceEnabled reports whether mode is listed in SERVICES.
func (c *AppConfig) IsServiceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// IdempotencyConfig controls request deduplication.
type IdempotencyConfig struct {
	// Window is how far back a succeeded job with the same fingerprint satisfies a new request.
	Window time.Duration `env:"IDEMPOTENCY_WINDOW" envDefault:"24h"`
	// CacheEnabled fronts the job store lookup with Redis.
	CacheEnabled bool `env:"IDEMPOTENCY_CACHE_ENABLED" envDefault:"true"`
}

// Sanitize applies guardrails to idempotency configuration values.
func (c *IdempotencyConfig) Sanitize() {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
}
