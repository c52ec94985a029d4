package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/proofreader/pkg/logging"
	"github.com/Sternrassler/proofreader/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proofread.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "deepseek-chat", cfg.Model)
	assert.Equal(t, 15.0, cfg.RequestsPerMinute)
	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseBackoff)
	assert.Equal(t, 3*time.Second, cfg.Retry.BackoffStep)
	assert.Equal(t, BackendFile, cfg.Ledger.Backend)
	assert.False(t, cfg.Cache.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
model: google
requests_per_minute: 30
max_concurrency: 5
timeout: 45s
retry:
  max_attempts: 4
  base_backoff: 1s
  backoff_step: 500ms
  retry_client_errors: true
context_placement: target
ledger:
  backend: sqlite
cache:
  enabled: true
  ttl: 1h
log:
  level: debug
  pretty: false
models:
  - name: local
    provider: openai
    base_url: http://localhost:8000/v1
    api_key_env: LOCAL_KEY
  - name: google
    temperature: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "google", cfg.Model)
	assert.Equal(t, 30.0, cfg.RequestsPerMinute)
	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, transform.RetryConfig{
		MaxAttempts:       4,
		BaseBackoff:       time.Second,
		BackoffStep:       500 * time.Millisecond,
		RetryClientErrors: true,
	}, cfg.Retry)
	assert.Equal(t, transform.PlacementTarget, cfg.Placement())
	assert.Equal(t, BackendSQLite, cfg.Ledger.Backend)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, logging.LevelDebug, cfg.Log.Level)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr, "unset fields keep defaults")

	require.Len(t, cfg.Models, 2)
	require.NotNil(t, cfg.Models[1].Temperature, "an explicit zero temperature is kept")
	assert.Equal(t, 0.0, *cfg.Models[1].Temperature)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "modle: typo\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = Load(writeConfig(t, "max_concurrency: many\n"))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROOFREAD_MODEL", "deepseek-v3")
	t.Setenv("PROOFREAD_RPM", "7.5")
	t.Setenv("PROOFREAD_CONCURRENCY", "2")
	t.Setenv("PROOFREAD_CACHE", "true")
	t.Setenv("PROOFREAD_LEDGER_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis.internal:6380")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "model: google\nrequests_per_minute: 30\n"))
	require.NoError(t, err)

	assert.Equal(t, "deepseek-v3", cfg.Model, "environment wins over file")
	assert.Equal(t, 7.5, cfg.RequestsPerMinute)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, BackendRedis, cfg.Ledger.Backend)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, logging.LevelWarn, cfg.Log.Level)
}

func TestLoad_BadEnv(t *testing.T) {
	for _, key := range []string{"PROOFREAD_RPM", "PROOFREAD_CONCURRENCY", "PROOFREAD_CACHE"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "lots")
			_, err := Load("")
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no model", func(c *Config) { c.Model = "" }},
		{"zero rpm", func(c *Config) { c.RequestsPerMinute = 0 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"bad placement", func(c *Config) { c.ContextPlacement = "middle" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad backend", func(c *Config) { c.Ledger.Backend = "s3" }},
		{"redis without addr", func(c *Config) { c.Ledger.Backend = BackendRedis; c.Redis.Addr = "" }},
		{"cache without addr", func(c *Config) { c.Cache.Enabled = true; c.Redis.Addr = "" }},
		{"unnamed model", func(c *Config) { c.Models = []transform.ModelSpec{{BaseURL: "http://x"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestModelSpecs(t *testing.T) {
	zero := 0.0
	cfg := Default()
	cfg.Models = []transform.ModelSpec{
		{Name: "deepseek-chat", BaseURL: "http://proxy.local", Temperature: &zero},
		{Name: "local", Provider: transform.ProviderOpenAI, BaseURL: "http://localhost:8000/v1"},
	}

	specs := cfg.ModelSpecs()
	byName := map[string]transform.ModelSpec{}
	var names []string
	for _, s := range specs {
		byName[s.Name] = s
		names = append(names, s.Name)
	}

	assert.Equal(t, []string{"deepseek-chat", "deepseek-reasoner", "deepseek-v3", "google", "local"}, names)
	assert.Equal(t, "http://proxy.local", byName["deepseek-chat"].BaseURL)
	assert.Equal(t, "DEEPSEEK_API_KEY", byName["deepseek-chat"].APIKeyEnv, "unset fields come from the built-in entry")
	require.NotNil(t, byName["deepseek-chat"].Temperature)
	assert.Equal(t, 0.0, *byName["deepseek-chat"].Temperature)
	assert.Nil(t, byName["deepseek-reasoner"].Temperature)
	assert.Equal(t, transform.ProviderGemini, byName["google"].Provider)
	assert.Equal(t, "http://localhost:8000/v1", byName["local"].BaseURL)
}

func TestSystemPrompt(t *testing.T) {
	cfg := Default()
	prompt, err := cfg.SystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, transform.DefaultSystemPrompt(), prompt)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Fix typos only.\n"), 0o644))
	cfg.SystemPromptFile = path
	prompt, err = cfg.SystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "Fix typos only.", prompt)
}

func TestPaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "data/book.proofread.json", cfg.LedgerPath("data/book.json"))
	assert.Equal(t, "proofread:ledger:book", cfg.LedgerKey("data/book.json"))
	assert.Equal(t, "data/book.proofread.log", RunLogPath("data/book.proofread.json"))
	assert.Equal(t, "data/book.proofread.md", RollupPath("data/book.proofread.json"))

	cfg.Ledger.Backend = BackendSQLite
	assert.Equal(t, "data/book.proofread.db", cfg.LedgerPath("data/book.json"))
	assert.Equal(t, "data/book.proofread.log", RunLogPath(cfg.LedgerPath("data/book.json")))

	cfg.Ledger.Path = "/tmp/custom.json"
	cfg.Ledger.RedisKey = "k"
	assert.Equal(t, "/tmp/custom.json", cfg.LedgerPath("data/book.json"))
	assert.Equal(t, "k", cfg.LedgerKey("data/book.json"))
}
