// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then FROSTPIX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config is the full application configuration.
type Config struct {
	Account  AccountConfig  `koanf:"account"`
	MFA      MFAConfig      `koanf:"mfa"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// AccountConfig holds the cloud account credentials.
type AccountConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// TrustTokenPath overrides where the trust token is cached.
	TrustTokenPath string `koanf:"trust_token_path"`
	// FailOnMFA aborts instead of prompting when a challenge is issued.
	FailOnMFA bool `koanf:"fail_on_mfa"`
}

// MFAConfig configures the local code-prompt server.
type MFAConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// DatabaseConfig configures the local album store.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// SyncConfig tunes the reconciliation pass.
type SyncConfig struct {
	PageSize       int           `koanf:"page_size"`
	MaxRetries     int           `koanf:"max_retries"`
	CookieValidity time.Duration `koanf:"cookie_validity"`
	Concurrency    int           `koanf:"concurrency"`
	PlanPath       string        `koanf:"plan_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for values the program cannot run
// without or cannot interpret.
func (c *Config) Validate() error {
	if c.Account.Username == "" {
		return errors.New("account.username is required")
	}
	if c.Account.Password == "" {
		return errors.New("account.password is required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.CookieValidity <= 0 {
		return fmt.Errorf("sync.cookie_validity must be positive, got %s", c.Sync.CookieValidity)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
