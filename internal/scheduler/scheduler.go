// Package scheduler runs the background maintenance jobs: nightly customer
// memory compaction, embedding-cache sweeps and rate-limit window sweeps.
// Jobs are cron-scheduled and skip silently when their target is not
// configured.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/engezna/engezna-agent/internal/config"
	"github.com/engezna/engezna-agent/internal/ratelimit"
)

// jobTimeout bounds a single maintenance job run.
const jobTimeout = 5 * time.Minute

// MemoryCompactor trims stored insight lists. Implemented by the storage
// layer's memory repository.
type MemoryCompactor interface {
	CompactAll(ctx context.Context) (int, error)
}

// CacheSweeper expires stale cached entries. Implemented by the embeddings client.
type CacheSweeper interface {
	Sweep() int
}

// Scheduler owns the cron runner and the registered maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	cfg    *config.SchedulerConfig
	logger *slog.Logger

	compactor  MemoryCompactor        // nil = compaction disabled
	cache      CacheSweeper           // nil = no embedding cache
	rateWindow *ratelimit.MemoryStore // nil = shared window store, sweeps elsewhere
	rateCutoff time.Duration
}

// New creates a Scheduler with no jobs wired yet.
func New(cfg *config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		cfg:    cfg,
		logger: logger,
	}
}

// WithMemoryCompaction wires the nightly insight-list compaction job.
func (s *Scheduler) WithMemoryCompaction(c MemoryCompactor) *Scheduler {
	s.compactor = c
	return s
}

// WithCacheSweep wires the embedding-cache sweep job.
func (s *Scheduler) WithCacheSweep(c CacheSweeper) *Scheduler {
	s.cache = c
	return s
}

// WithRateWindowSweep wires the in-process rate-limit window sweep.
// Cutoff is how far back an idle customer's window is kept.
func (s *Scheduler) WithRateWindowSweep(store *ratelimit.MemoryStore, cutoff time.Duration) *Scheduler {
	s.rateWindow = store
	s.rateCutoff = cutoff
	return s
}

// Start registers the configured jobs and starts the cron runner.
// Returns a stop function that waits for running jobs to finish.
func (s *Scheduler) Start(ctx context.Context) (func(), error) {
	if s.compactor != nil {
		if _, err := s.cron.AddFunc(s.cfg.CompactSpec(), func() { s.runCompaction(ctx) }); err != nil {
			return nil, err
		}
	}
	if s.cache != nil {
		if _, err := s.cron.AddFunc(s.cfg.SweepSpec(), func() { s.runCacheSweep(ctx) }); err != nil {
			return nil, err
		}
	}
	if s.rateWindow != nil {
		if _, err := s.cron.AddFunc(s.cfg.RateSweepSpec(), func() { s.runRateSweep(ctx) }); err != nil {
			return nil, err
		}
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "maintenance scheduler started",
		slog.String("compact_spec", s.cfg.CompactSpec()),
		slog.String("cache_sweep_spec", s.cfg.SweepSpec()),
		slog.String("rate_sweep_spec", s.cfg.RateSweepSpec()),
	)

	return func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("maintenance scheduler stopped")
	}, nil
}

func (s *Scheduler) runCompaction(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	n, err := s.compactor.CompactAll(jobCtx)
	if err != nil {
		s.logger.Warn("memory compaction failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("memory compaction finished", slog.Int("records_compacted", n))
}

func (s *Scheduler) runCacheSweep(_ context.Context) {
	n := s.cache.Sweep()
	if n > 0 {
		s.logger.Debug("embedding cache swept", slog.Int("entries_removed", n))
	}
}

func (s *Scheduler) runRateSweep(_ context.Context) {
	n := s.rateWindow.Sweep(time.Now().Add(-s.rateCutoff))
	if n > 0 {
		s.logger.Debug("rate windows swept", slog.Int("windows_removed", n))
	}
}
