// Package config loads proofreader settings from defaults, an optional YAML
// file and environment variables. Command-line flags are applied on top by
// cmd/proofread.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/proofreader/pkg/cache"
	"github.com/Sternrassler/proofreader/pkg/logging"
	"github.com/Sternrassler/proofreader/pkg/transform"
	"gopkg.in/yaml.v3"
)

// Ledger backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the complete proofreader configuration.
type Config struct {
	Model             string                `yaml:"model"`
	RequestsPerMinute float64               `yaml:"requests_per_minute"`
	MaxConcurrency    int                   `yaml:"max_concurrency"`
	Timeout           time.Duration         `yaml:"timeout"`
	Retry             transform.RetryConfig `yaml:"retry"`

	// SystemPromptFile replaces the built-in instruction when set.
	SystemPromptFile string `yaml:"system_prompt_file"`

	// ContextPlacement is "material" or "target".
	ContextPlacement string `yaml:"context_placement"`

	// Models are merged over the built-in registry by name.
	Models []transform.ModelSpec `yaml:"models"`

	Ledger      LedgerConfig   `yaml:"ledger"`
	Redis       RedisConfig    `yaml:"redis"`
	Cache       CacheConfig    `yaml:"cache"`
	Log         logging.Config `yaml:"log"`
	MetricsAddr string         `yaml:"metrics_addr"`
}

// LedgerConfig selects where progress is persisted.
type LedgerConfig struct {
	// Backend is file, sqlite or redis.
	Backend string `yaml:"backend"`
	// Path overrides the default ledger location for file and sqlite.
	Path string `yaml:"path"`
	// RedisKey overrides the default key for the redis backend.
	RedisKey string `yaml:"redis_key"`
}

// RedisConfig configures the Redis connection used by the redis ledger
// backend and the completion cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig configures the completion cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model:             "deepseek-chat",
		RequestsPerMinute: 15,
		MaxConcurrency:    3,
		Timeout:           120 * time.Second,
		Retry:             transform.DefaultRetryConfig(),
		ContextPlacement:  string(transform.PlacementMaterial),
		Ledger:            LedgerConfig{Backend: BackendFile},
		Redis:             RedisConfig{Addr: "localhost:6379"},
		Cache:             CacheConfig{TTL: cache.DefaultTTL},
		Log:               logging.Config{Level: logging.LevelInfo, Pretty: true},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// non-empty) and then with environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnv overrides settings from PROOFREAD_* variables and REDIS_URL.
func (c *Config) applyEnv() error {
	c.Model = getEnv("PROOFREAD_MODEL", c.Model)
	c.ContextPlacement = getEnv("PROOFREAD_CONTEXT_PLACEMENT", c.ContextPlacement)
	c.Ledger.Backend = getEnv("PROOFREAD_LEDGER_BACKEND", c.Ledger.Backend)
	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.MetricsAddr = getEnv("PROOFREAD_METRICS_ADDR", c.MetricsAddr)
	c.Log.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(c.Log.Level)))

	if v := os.Getenv("PROOFREAD_RPM"); v != "" {
		rpm, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PROOFREAD_RPM: %w", err)
		}
		c.RequestsPerMinute = rpm
	}
	if v := os.Getenv("PROOFREAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROOFREAD_CONCURRENCY: %w", err)
		}
		c.MaxConcurrency = n
	}
	if v := os.Getenv("PROOFREAD_CACHE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PROOFREAD_CACHE: %w", err)
		}
		c.Cache.Enabled = enabled
	}
	return nil
}

// Validate checks the configuration for errors that would abort a run.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be > 0 (got %v)", c.RequestsPerMinute)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be > 0 (got %d)", c.MaxConcurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if _, err := transform.ParsePlacement(c.ContextPlacement); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(string(c.Log.Level)); err != nil {
		return err
	}
	switch c.Ledger.Backend {
	case BackendFile, BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis ledger requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q (supported: file, sqlite, redis)", c.Ledger.Backend)
	}
	if c.Cache.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("cache requires redis.addr")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
	}
	return nil
}

// Placement returns the parsed context placement.
func (c *Config) Placement() transform.ContextPlacement {
	p, err := transform.ParsePlacement(c.ContextPlacement)
	if err != nil {
		return transform.PlacementMaterial
	}
	return p
}

// ModelSpecs returns the built-in models with configured ones merged in.
// A configured model replaces the built-in one of the same name; unset
// fields are taken from the built-in entry.
func (c *Config) ModelSpecs() []transform.ModelSpec {
	byName := make(map[string]transform.ModelSpec)
	for _, m := range transform.DefaultModels() {
		byName[m.Name] = m
	}
	for _, m := range c.Models {
		if base, ok := byName[m.Name]; ok {
			m = overlay(base, m)
		}
		byName[m.Name] = m
	}

	specs := make([]transform.ModelSpec, 0, len(byName))
	for _, m := range byName {
		specs = append(specs, m)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func overlay(base, m transform.ModelSpec) transform.ModelSpec {
	if m.Provider != "" {
		base.Provider = m.Provider
	}
	if m.BaseURL != "" {
		base.BaseURL = m.BaseURL
	}
	if m.APIModel != "" {
		base.APIModel = m.APIModel
	}
	if m.APIKeyEnv != "" {
		base.APIKeyEnv = m.APIKeyEnv
	}
	if m.APIKey != "" {
		base.APIKey = m.APIKey
	}
	if m.Temperature != nil {
		base.Temperature = m.Temperature
	}
	return base
}

// SystemPrompt returns the instruction text: the configured file or the
// built-in default.
func (c *Config) SystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return transform.DefaultSystemPrompt(), nil
	}
	return transform.LoadSystemPrompt(c.SystemPromptFile)
}

// LedgerPath returns the ledger location for an input file: the configured
// path or <input stem>.proofread.json (.db for sqlite) next to the input.
func (c *Config) LedgerPath(input string) string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	ext := ".json"
	if c.Ledger.Backend == BackendSQLite {
		ext = ".db"
	}
	return stem(input) + ".proofread" + ext
}

// LedgerKey returns the Redis key of the ledger for an input file.
func (c *Config) LedgerKey(input string) string {
	if c.Ledger.RedisKey != "" {
		return c.Ledger.RedisKey
	}
	return "proofread:ledger:" + filepath.Base(stem(input))
}

// RunLogPath returns the run log that accompanies a ledger.
func RunLogPath(ledgerPath string) string {
	return stem(ledgerPath) + ".log"
}

// RollupPath returns the rollup document that accompanies a ledger.
func RollupPath(ledgerPath string) string {
	return stem(ledgerPath) + ".md"
}

func stem(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
