package config

import (
	"strings"
	"time"
)

// GitHubConfig configures the GitHub API client.
type GitHubConfig struct {
	APIURL string `env:"API_URL" envDefault:"https://api.github.com"`
	// Token is a personal or OAuth token used when a repository has no App installation.
	Token string `env:"TOKEN"`
	// AppID and PrivateKey enable GitHub App installation tokens.
	AppID      int64  `env:"APP_ID"`
	PrivateKey string `env:"APP_PRIVATE_KEY"`
	// RequestsPerSecond and Burst size the client-side token bucket.
	RequestsPerSecond float64       `env:"RATE_LIMIT_RPS"   envDefault:"1.5"`
	Burst             int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	Timeout           time.Duration `env:"TIMEOUT"          envDefault:"30s"`
	RetryAttempts     int           `env:"RETRY_ATTEMPTS"   envDefault:"3"`
	RetryDelay        time.Duration `env:"RETRY_DELAY"      envDefault:"2s"`
}

// Sanitize applies guardrails to GitHub configuration values.
func (c *GitHubConfig) Sanitize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		c.APIURL = "https://api.github.com"
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1.5
	}
	c.Burst = max(c.Burst, 1)
	c.RetryAttempts = max(c.RetryAttempts, 1)
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// AppAuthEnabled reports whether GitHub App credentials are present.
func (c *GitHubConfig) AppAuthEnabled() bool {
	return c.AppID > 0 && strings.TrimSpace(c.PrivateKey) != ""
}

// OpenAIConfig configures the document generator.
type OpenAIConfig struct {
	APIKey      string        `env:"API_KEY"`
	BaseURL     string        `env:"BASE_URL"`
	Model       string        `env:"MODEL"       envDefault:"gpt-4-turbo-preview"`
	Temperature float32       `env:"TEMPERATURE" envDefault:"0.7"`
	Timeout     time.Duration `env:"TIMEOUT"     envDefault:"2m"`
	// RequestsPerMinute sizes the client-side limiter.
	RequestsPerMinute int `env:"REQUESTS_PER_MINUTE" envDefault:"60"`
	RetryAttempts     int `env:"RETRY_ATTEMPTS"      envDefault:"3"`
}

// Sanitize applies guardrails to OpenAI configuration values.
func (c *OpenAIConfig) Sanitize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gpt-4-turbo-preview"
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		c.Temperature = 0.7
	}
	if c.RequestsPerMinute < 1 {
		c.RequestsPerMinute = 60
	}
	c.RetryAttempts = max(c.RetryAttempts, 1)
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
}

// SMTPConfig configures completion emails. Email is skipped when Host is empty.
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT"     envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	// From falls back to User.
	From string `env:"FROM_EMAIL"`
}

// Sanitize applies guardrails to SMTP configuration values.
func (c *SMTPConfig) Sanitize() {
	c.Host = strings.TrimSpace(c.Host)
	if c.Port <= 0 {
		c.Port = 587
	}
	if strings.TrimSpace(c.From) == "" {
		c.From = c.User
	}
}

// Enabled reports whether email delivery is configured.
func (c *SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// ExportConfig selects where rendered exports are stored.
type ExportConfig struct {
	// Backend is "gcs" or "local".
	Backend string `env:"BACKEND"    envDefault:"local"`
	Bucket  string `env:"GCS_BUCKET"`
	// CredentialsFile points at a service account key; empty uses application default credentials.
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
	// LocalDir is used by the local backend.
	LocalDir string `env:"LOCAL_DIR" envDefault:"./exports"`
	// PublicBaseURL prefixes object keys in returned file URLs for the local backend.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// Sanitize applies guardrails to export configuration values.
func (c *ExportConfig) Sanitize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "gcs" && strings.TrimSpace(c.Bucket) == "" {
		c.Backend = "local"
	}
	if c.Backend != "gcs" {
		c.Backend = "local"
	}
	if strings.TrimSpace(c.LocalDir) == "" {
		c.LocalDir = "./exports"
	}
}
