// Package config loads the assistant client configuration from defaults, an
// optional TOML file and ASSISTANT_ environment variables, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"chat-orchestrator/internal/domain"
)

const envPrefix = "ASSISTANT_"

// Store backends.
const (
	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type Config struct {
	Backend struct {
		BaseURL  string        `koanf:"base_url"`
		Timeout  time.Duration `koanf:"timeout"`
		APIToken string        `koanf:"api_token"`
	} `koanf:"backend"`

	Identity struct {
		TenantID    string `koanf:"tenant_id"`
		ServiceCode string `koanf:"service_code"`
		UserID      string `koanf:"user_id"`
		Ephemeral   bool   `koanf:"ephemeral"`
	} `koanf:"identity"`

	// Capabilities are used as-is when Params.Prefix is empty and as
	// fallbacks for flags missing from the parameter store otherwise.
	Capabilities struct {
		HumanHandoffEnabled bool `koanf:"human_handoff_enabled"`
		FileStorageEnabled  bool `koanf:"file_storage_enabled"`
		JiraEnabled         bool `koanf:"jira_enabled"`
		Restricted          bool `koanf:"restricted"`
	} `koanf:"capabilities"`

	Params struct {
		Prefix string `koanf:"prefix"`
	} `koanf:"params"`

	AWS struct {
		Region string `koanf:"region"`
	} `koanf:"aws"`

	Store struct {
		Backend     string `koanf:"backend"`
		Table       string `koanf:"table"`
		RedisAddr   string `koanf:"redis_addr"`
		RedisPrefix string `koanf:"redis_prefix"`
		SQLiteDSN   string `koanf:"sqlite_dsn"`
	} `koanf:"store"`

	Uploads struct {
		MaxFiles     int      `koanf:"max_files"`
		MaxFileBytes int64    `koanf:"max_file_bytes"`
		AllowedTypes []string `koanf:"allowed_types"`
	} `koanf:"uploads"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"backend.timeout":        "30s",
		"store.backend":          StoreMemory,
		"store.redis_prefix":     "assistant:",
		"store.sqlite_dsn":       "assistant-session.db",
		"uploads.max_files":      5,
		"uploads.max_file_bytes": 20 << 20,
		"uploads.allowed_types":  []string{"pdf", "txt", "md", "csv", "png", "jpg", "jpeg", "docx", "xlsx"},
		"log.level":              "info",
		"log.format":             "text",
	}
}

var defaultPaths = []string{"./assistant.toml", "$HOME/.assistant.toml"}

// Load reads the configuration. An explicit path must exist; without one the
// default locations are tried and silently skipped when absent.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	} else {
		for _, p := range defaultPaths {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", p, err)
			}
			break
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// envKey maps ASSISTANT_BACKEND_BASE_URL to backend.base_url. Only the first
// underscore separates the section from the key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		return fmt.Errorf("backend base_url is required")
	}
	switch cfg.Store.Backend {
	case StoreMemory:
	case StoreDynamoDB:
		if cfg.Store.Table == "" {
			return fmt.Errorf("store table is required for the dynamodb backend")
		}
	case StoreRedis:
		if cfg.Store.RedisAddr == "" {
			return fmt.Errorf("store redis_addr is required for the redis backend")
		}
	case StoreSQLite:
		if cfg.Store.SQLiteDSN == "" {
			return fmt.Errorf("store sqlite_dsn is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.Uploads.MaxFiles <= 0 {
		return fmt.Errorf("uploads max_files must be positive")
	}
	if cfg.Uploads.MaxFileBytes <= 0 {
		return fmt.Errorf("uploads max_file_bytes must be positive")
	}
	if _, err := cfg.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) IdentityValue() domain.Identity {
	return domain.Identity{
		TenantID:    c.Identity.TenantID,
		ServiceCode: c.Identity.ServiceCode,
		UserID:      c.Identity.UserID,
	}
}

func (c *Config) StaticCapabilities() domain.Capabilities {
	return domain.Capabilities{
		HumanHandoffEnabled: c.Capabilities.HumanHandoffEnabled,
		FileStorageEnabled:  c.Capabilities.FileStorageEnabled,
		JiraEnabled:         c.Capabilities.JiraEnabled,
		Restricted:          c.Capabilities.Restricted,
		Ephemeral:           c.Identity.Ephemeral,
	}
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return level, nil
}
