package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/frostpix/frostpix/internal/icloud"
	"github.com/frostpix/frostpix/internal/mfa"
	"github.com/frostpix/frostpix/internal/reconcile"
	"github.com/frostpix/frostpix/internal/retry"
)

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"frostpix.yaml",
	"frostpix.yml",
	"/etc/frostpix/config.yaml",
}

// EnvPrefix namespaces the environment variables read by Load.
const EnvPrefix = "FROSTPIX_"

func defaultConfig() *Config {
	return &Config{
		MFA: MFAConfig{
			ListenAddr: mfa.DefaultAddr,
		},
		Sync: SyncConfig{
			PageSize:       icloud.DefaultPageSize,
			MaxRetries:     retry.DefaultMaxAttempts,
			CookieValidity: retry.DefaultCookieValidity,
			Concurrency:    reconcile.DefaultConcurrency,
			PlanPath:       "frostpix-plan.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, then path (or the first
// existing DefaultConfigPaths entry when path is empty), then
// FROSTPIX_* environment variables. Precedence: env > file > defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps FROSTPIX_* variables to config paths, e.g.
// FROSTPIX_USERNAME -> account.username and
// FROSTPIX_SYNC_PAGE_SIZE -> sync.page_size. Unknown variables are
// dropped so unrelated environment noise cannot leak into the config.
func envTransform(key string) string {
	mappings := map[string]string{
		"FROSTPIX_USERNAME":             "account.username",
		"FROSTPIX_PASSWORD":             "account.password",
		"FROSTPIX_TRUST_TOKEN_PATH":     "account.trust_token_path",
		"FROSTPIX_FAIL_ON_MFA":          "account.fail_on_mfa",
		"FROSTPIX_MFA_LISTEN_ADDR":      "mfa.listen_addr",
		"FROSTPIX_DATABASE_URL":         "database.url",
		"FROSTPIX_SYNC_PAGE_SIZE":       "sync.page_size",
		"FROSTPIX_SYNC_MAX_RETRIES":     "sync.max_retries",
		"FROSTPIX_SYNC_COOKIE_VALIDITY": "sync.cookie_validity",
		"FROSTPIX_SYNC_CONCURRENCY":     "sync.concurrency",
		"FROSTPIX_SYNC_PLAN_PATH":       "sync.plan_path",
		"FROSTPIX_LOG_LEVEL":            "logging.level",
		"FROSTPIX_LOG_FORMAT":           "logging.format",
	}
	if mapped, ok := mappings[strings.ToUpper(key)]; ok {
		return mapped
	}
	return ""
}
