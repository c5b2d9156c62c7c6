package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-orchestrator/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assistant.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	require.Equal(t, StoreMemory, cfg.Store.Backend)
	require.Equal(t, 5, cfg.Uploads.MaxFiles)
	require.Equal(t, int64(20<<20), cfg.Uploads.MaxFileBytes)
	require.Contains(t, cfg.Uploads.AllowedTypes, "pdf")
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
[backend]
base_url = "https://assistant.example.com"
timeout = "5s"

[identity]
tenant_id = "acme"
service_code = "support"
user_id = "u-1"

[capabilities]
restricted = true
jira_enabled = true

[store]
backend = "sqlite"
sqlite_dsn = "/tmp/state.db"
`)
	t.Setenv("ASSISTANT_BACKEND_BASE_URL", "http://localhost:9000")
	t.Setenv("ASSISTANT_IDENTITY_EPHEMERAL", "true")
	t.Setenv("ASSISTANT_UPLOADS_ALLOWED_TYPES", "pdf,txt")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	require.Equal(t, "http://localhost:9000", cfg.Backend.BaseURL)
	require.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	require.Equal(t, StoreSQLite, cfg.Store.Backend)
	require.Equal(t, "/tmp/state.db", cfg.Store.SQLiteDSN)
	require.Equal(t, []string{"pdf", "txt"}, cfg.Uploads.AllowedTypes)
	require.Equal(t, domain.Identity{TenantID: "acme", ServiceCode: "support", UserID: "u-1"}, cfg.IdentityValue())
	require.Equal(t, domain.Capabilities{JiraEnabled: true, Restricted: true, Ephemeral: true}, cfg.StaticCapabilities())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	require.Equal(t, "backend.base_url", envKey("ASSISTANT_BACKEND_BASE_URL"))
	require.Equal(t, "store.backend", envKey("ASSISTANT_STORE_BACKEND"))
	require.Equal(t, "debug", envKey("ASSISTANT_DEBUG"))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Backend.BaseURL = "http://localhost"
		cfg.Store.Backend = StoreMemory
		cfg.Uploads.MaxFiles = 5
		cfg.Uploads.MaxFileBytes = 1
		cfg.Log.Level = "info"
		return cfg
	}
	require.NoError(t, Validate(valid()))

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Backend.BaseURL = " " }, "base_url"},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }, "unknown store backend"},
		{"dynamodb without table", func(c *Config) { c.Store.Backend = StoreDynamoDB }, "table"},
		{"redis without addr", func(c *Config) { c.Store.Backend = StoreRedis }, "redis_addr"},
		{"sqlite without dsn", func(c *Config) { c.Store.Backend = StoreSQLite }, "sqlite_dsn"},
		{"zero max files", func(c *Config) { c.Uploads.MaxFiles = 0 }, "max_files"},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, "log level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			require.ErrorContains(t, Validate(cfg), tc.want)
		})
	}
	require.Error(t, Validate(nil))
}

func TestLogLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Log.Level = "DEBUG"
	level, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}
