// Package config handles loading and validating the agent service configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the agent service.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.engezna-agent/data. Override: ENGEZNA_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	RateLimit     RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	Embeddings    *EmbeddingsConfig    `json:"embeddings,omitempty" yaml:"embeddings,omitempty"`       // nil = keyword search only
	Server        ServerConfig         `json:"server" yaml:"server"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = maintenance jobs disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: ENGEZNA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ProvidersConfig selects and configures the LLM vendors.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic" or "gemini". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	Gemini    GeminiConfig    `json:"gemini" yaml:"gemini"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY env var.
	Model  string `json:"model" yaml:"model"`
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: GEMINI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://generativelanguage.googleapis.com.
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	MaxRounds          int `json:"max_rounds" yaml:"max_rounds"`                     // Tool-call rounds per turn. Default: 6.
	MaxTokens          int `json:"max_tokens" yaml:"max_tokens"`                     // Per-request token ceiling. Default: 4096.
	MaxHistoryMessages int `json:"max_history_messages" yaml:"max_history_messages"` // Default: 40.
}

// Rounds returns the round cap with a default of 6.
func (a *AgentConfig) Rounds() int {
	if a.MaxRounds > 0 {
		return a.MaxRounds
	}
	return 6
}

// Tokens returns the token ceiling with a default of 4096.
func (a *AgentConfig) Tokens() int {
	if a.MaxTokens > 0 {
		return a.MaxTokens
	}
	return 4096
}

// MaxHistory returns the history bound with a default of 40.
func (a *AgentConfig) MaxHistory() int {
	if a.MaxHistoryMessages > 0 {
		return a.MaxHistoryMessages
	}
	return 40
}

// RateLimitConfig configures the per-customer tool-call rate limiter.
type RateLimitConfig struct {
	MaxCalls      int `json:"max_calls" yaml:"max_calls"`           // Per window. Default: 10. 0 keeps the default; use -1 to disable.
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"` // Default: 60.
}

// Calls returns the per-window call ceiling. Default: 10. -1 disables limiting.
func (r *RateLimitConfig) Calls() int {
	if r.MaxCalls == 0 {
		return 10
	}
	if r.MaxCalls < 0 {
		return 0
	}
	return r.MaxCalls
}

// Window returns the rolling window size with a default of 1 minute.
func (r *RateLimitConfig) Window() time.Duration {
	if r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds) * time.Second
	}
	return time.Minute
}

// EmbeddingsConfig configures the semantic-search embedding client.
// When nil, search_menu falls back to keyword matching only.
type EmbeddingsConfig struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`                   // OpenAI-compatible /v1/embeddings base URL.
	APIKey          string `json:"api_key" yaml:"api_key"`                     // Override: EMBEDDINGS_API_KEY env var.
	Model           string `json:"model" yaml:"model"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"` // Default: 900 (15 min).
}

// CacheTTL returns the embedding cache TTL with a default of 15 minutes.
func (e *EmbeddingsConfig) CacheTTL() time.Duration {
	if e != nil && e.CacheTTLSeconds > 0 {
		return time.Duration(e.CacheTTLSeconds) * time.Second
	}
	return 15 * time.Minute
}

// ServerConfig configures the HTTP and WebSocket gateways.
type ServerConfig struct {
	ListenAddr          string   `json:"listen_addr" yaml:"listen_addr"`                       // Default: ":8080".
	APIKeys             []string `json:"api_keys" yaml:"api_keys"`                             // Accepted gateway keys. Override/append: ENGEZNA_API_KEY env var.
	MaxRequestSizeBytes int64    `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 65536.
	SSE                 bool     `json:"sse" yaml:"sse"`                                       // Enable the SSE streaming endpoint.
	WebSocket           bool     `json:"websocket" yaml:"websocket"`                           // Enable the WebSocket chat endpoint.
	EnableDocs          bool     `json:"enable_docs" yaml:"enable_docs"`
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request size limit with a default of 64 KiB.
func (s *ServerConfig) MaxRequestSize() int64 {
	if s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 64 << 10
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "engezna-agent"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// SchedulerConfig configures the cron maintenance jobs.
// When nil, no background maintenance runs.
type SchedulerConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	MemoryCompactSpec   string `json:"memory_compact_spec" yaml:"memory_compact_spec"`     // Cron spec. Default: "0 4 * * *" (04:00 daily).
	CacheSweepSpec      string `json:"cache_sweep_spec" yaml:"cache_sweep_spec"`           // Cron spec. Default: "*/15 * * * *".
	RateWindowSweepSpec string `json:"rate_window_sweep_spec" yaml:"rate_window_sweep_spec"` // Cron spec. Default: "*/10 * * * *".
}

// CompactSpec returns the memory compaction schedule with its default.
func (s *SchedulerConfig) CompactSpec() string {
	if s != nil && s.MemoryCompactSpec != "" {
		return s.MemoryCompactSpec
	}
	return "0 4 * * *"
}

// SweepSpec returns the cache sweep schedule with its default.
func (s *SchedulerConfig) SweepSpec() string {
	if s != nil && s.CacheSweepSpec != "" {
		return s.CacheSweepSpec
	}
	return "*/15 * * * *"
}

// RateSweepSpec returns the rate-window sweep schedule with its default.
func (s *SchedulerConfig) RateSweepSpec() string {
	if s != nil && s.RateWindowSweepSpec != "" {
		return s.RateWindowSweepSpec
	}
	return "*/10 * * * *"
}

// DefaultConfigPath returns the default config file path (~/.engezna-agent/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/engezna-agent.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".engezna-agent", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Provider API keys and gateway keys can be set in the config file or overridden
// by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	// Environment variable overrides. Env vars take precedence over config values.
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		cfg.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" {
		cfg.Providers.Gemini.APIKey = envKey
	}
	if envKey := os.Getenv("EMBEDDINGS_API_KEY"); envKey != "" {
		if cfg.Embeddings == nil {
			cfg.Embeddings = &EmbeddingsConfig{}
		}
		cfg.Embeddings.APIKey = envKey
	}
	if envDSN := os.Getenv("ENGEZNA_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
	if envKey := os.Getenv("ENGEZNA_API_KEY"); envKey != "" {
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, envKey)
	}
	if envDD := os.Getenv("ENGEZNA_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".engezna-agent", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "engezna.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(c.Providers.Default); err != nil {
		return err
	}
	for _, name := range c.Providers.Fallback {
		if err := c.validateProvider(name); err != nil {
			return fmt.Errorf("fallback provider: %w", err)
		}
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set ENGEZNA_DB_DSN env var)")
		}
	}
	if c.Embeddings != nil && c.Embeddings.Endpoint == "" {
		return fmt.Errorf("embeddings.endpoint is required when embeddings are configured")
	}
	if c.RateLimit.WindowSeconds < 0 {
		return fmt.Errorf("rate_limit.window_seconds must not be negative")
	}
	return nil
}

// validateProvider checks that the named LLM provider has the required fields.
func (c *Config) validateProvider(name string) error {
	switch name {
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "gemini":
		if c.Providers.Gemini.Model == "" {
			return fmt.Errorf("providers.gemini.model is required")
		}
		if c.Providers.Gemini.APIKey == "" {
			return fmt.Errorf("providers.gemini.api_key is required (set GEMINI_API_KEY env var)")
		}
	default:
		return fmt.Errorf("provider %q is not supported (use anthropic or gemini)", name)
	}
	return nil
}
