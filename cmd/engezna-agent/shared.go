package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/engezna/engezna-agent/internal/agent"
	"github.com/engezna/engezna-agent/internal/config"
	"github.com/engezna/engezna-agent/internal/embeddings"
	"github.com/engezna/engezna-agent/internal/llm"
	"github.com/engezna/engezna-agent/internal/llm/anthropic"
	"github.com/engezna/engezna-agent/internal/llm/gemini"
	"github.com/engezna/engezna-agent/internal/observability"
	"github.com/engezna/engezna-agent/internal/ratelimit"
	"github.com/engezna/engezna-agent/internal/storage"
	pgstore "github.com/engezna/engezna-agent/internal/storage/postgres"
	sqlitestore "github.com/engezna/engezna-agent/internal/storage/sqlite"
	"github.com/engezna/engezna-agent/internal/tools"
	addresstool "github.com/engezna/engezna-agent/internal/tools/address"
	merchanttool "github.com/engezna/engezna-agent/internal/tools/merchant"
	ordertool "github.com/engezna/engezna-agent/internal/tools/order"
	searchtool "github.com/engezna/engezna-agent/internal/tools/search"
)

// SharedComponents holds the subsystems both server and local chat modes
// require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store

	Obs        *observability.Observability
	Provider   llm.Provider
	ToolReg    *tools.Registry
	Limiter    *ratelimit.Limiter
	RateWindow *ratelimit.MemoryStore
	Embedder   *embeddings.Client // nil = keyword search only.
	Handler    *agent.Handler

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between server and
// local chat modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// LLM provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	sc.Provider = provider
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Health checks.
	if obs != nil && obs.Health != nil {
		if pgStore, ok := store.(*pgstore.Store); ok {
			obs.Health.AddCheck("database", pgStore.Ping)
		}
	}

	// Rate limiter (per-customer, sliding window over tool calls).
	// MaxCalls 0 means unlimited; the limiter is always present.
	calls := cfg.RateLimit.Calls()
	sc.RateWindow = ratelimit.NewMemoryStore()
	sc.Limiter = ratelimit.NewLimiter(ratelimit.Config{
		MaxCalls: calls,
		Window:   cfg.RateLimit.Window(),
	}, sc.RateWindow, logger)
	if calls > 0 {
		logger.Debug("rate limiter initialized",
			slog.Int("max_calls", calls),
			slog.String("window", cfg.RateLimit.Window().String()),
		)
	} else {
		logger.Warn("rate limiting disabled")
	}

	// Embeddings client for semantic menu search.
	if cfg.Embeddings != nil && cfg.Embeddings.Endpoint != "" {
		sc.Embedder = embeddings.NewClient(embeddings.Config{
			BaseURL:  cfg.Embeddings.Endpoint,
			APIKey:   cfg.Embeddings.APIKey,
			Model:    cfg.Embeddings.Model,
			CacheTTL: cfg.Embeddings.CacheTTL(),
		}, logger)
		logger.Debug("embeddings client initialized", slog.String("model", cfg.Embeddings.Model))
	}

	// Tool registry.
	toolReg := tools.NewRegistry()
	toolReg.Register(searchtool.NewTool(logger))
	toolReg.Register(ordertool.NewPlaceTool(logger))
	toolReg.Register(ordertool.NewStatusTool(logger))
	toolReg.Register(addresstool.NewTool(logger))
	toolReg.Register(merchanttool.NewHoursTool(logger))
	sc.ToolReg = toolReg
	logger.Debug("tools registered", slog.Any("tools", toolReg.List()))

	// Turn handler.
	handler := agent.NewHandler(provider, toolReg, sc.Limiter, store, logger).
		WithMaxRounds(cfg.Agent.Rounds()).
		WithMaxTokens(cfg.Agent.Tokens()).
		WithMaxHistory(cfg.Agent.MaxHistory())
	if sc.Embedder != nil {
		handler = handler.WithEmbedder(sc.Embedder)
	}
	if obs != nil {
		handler = handler.WithObservability(obs)
	}
	sc.Handler = handler

	return sc, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case "postgres":
		return initPostgresStore(cfg, logger)
	case "sqlite":
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath := cfg.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}
	if envDSN := os.Getenv("ENGEZNA_DB_DSN"); envDSN != "" {
		dsn = envDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or ENGEZNA_DB_DSN)")
	}

	pgCfg := pgstore.Config{DSN: dsn}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
	}

	pgDB, err := pgstore.Open(pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	return pgstore.NewStore(pgDB), nil
}

// newLLMProvider creates the LLM provider based on the configured default,
// wrapping it in a fallback chain when fallback vendors are configured.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			return llm.NewFallbackProvider(providers, logger), nil
		}
	}

	return primary, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic", "":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "gemini":
		var opts []gemini.Option
		if cfg.Providers.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
		}
		return gemini.NewClient(
			cfg.Providers.Gemini.APIKey,
			cfg.Providers.Gemini.Model,
			logger,
			opts...,
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// apiKeyMapping builds the API key to customer ID map from the configured
// key list. Entries are "key:customer-id"; a bare key maps to itself.
func apiKeyMapping(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, entry := range keys {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if key, id, ok := strings.Cut(entry, ":"); ok && id != "" {
			out[key] = id
			continue
		}
		out[entry] = entry
	}
	return out
}
