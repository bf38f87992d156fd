package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/engezna/engezna-agent/internal/config"
	"github.com/engezna/engezna-agent/internal/gateway"
	"github.com/engezna/engezna-agent/internal/gateway/httpapi"
	"github.com/engezna/engezna-agent/internal/gateway/ws"
	"github.com/engezna/engezna-agent/internal/scheduler"
)

const wsPath = "/v1/ws"

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent server (HTTP API, SSE, WebSocket)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `engezna-agent --config path` and `engezna-agent serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts the agent in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("ENGEZNA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.ListenAddr = servePort
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background maintenance jobs.
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, logger)
		if compactor, ok := sc.Store.Memories().(scheduler.MemoryCompactor); ok {
			sched.WithMemoryCompaction(compactor)
		}
		if sc.Embedder != nil {
			sched.WithCacheSweep(sc.Embedder)
		}
		if sc.RateWindow != nil {
			sched.WithRateWindowSweep(sc.RateWindow, cfg.RateLimit.Window())
		}
		stopSched, err := sched.Start(ctx)
		if err != nil {
			return err
		}
		defer stopSched()
		logger.Debug("maintenance scheduler started")
	}

	// Build the HTTP gateway, mounting the WebSocket endpoint when enabled.
	apiKeys := apiKeyMapping(cfg.Server.APIKeys)
	if len(apiKeys) == 0 {
		logger.Warn("no API keys configured; all requests will be rejected")
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        apiKeys,
		MaxRequestSize: cfg.Server.MaxRequestSize(),
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		httpCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
	}

	httpGW := httpapi.NewGateway(httpCfg, sc.Handler, logger)
	if cfg.Server.SSE {
		httpGW.WithSSE(true)
		logger.Debug("SSE streaming endpoint enabled")
	}
	if cfg.Server.WebSocket {
		wsServer := ws.NewServer(sc.Handler, apiKeys, logger)
		httpGW.WithHandler(wsPath, wsServer.Handler())
		logger.Debug("websocket chat endpoint mounted", slog.String("path", wsPath))
	}

	gws := []gateway.Gateway{httpGW}

	// Start all gateways in goroutines.
	errs := make(chan error, len(gws))
	for _, gw := range gws {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gws) - 1; i >= 0; i-- {
		if err := gws[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}
