package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/engezna/engezna-agent/internal/config"
	"github.com/engezna/engezna-agent/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCompactor struct {
	calls int
	err   error
}

func (f *fakeCompactor) CompactAll(context.Context) (int, error) {
	f.calls++
	return 3, f.err
}

type fakeSweeper struct {
	calls int
}

func (f *fakeSweeper) Sweep() int {
	f.calls++
	return 1
}

func TestStart_NoJobs(t *testing.T) {
	s := New(&config.SchedulerConfig{}, discardLogger())
	stop, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop()
}

func TestStart_BadCronSpec(t *testing.T) {
	s := New(&config.SchedulerConfig{MemoryCompactSpec: "not a cron spec"}, discardLogger()).
		WithMemoryCompaction(&fakeCompactor{})
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for an invalid cron spec")
	}
}

func TestRunCompaction(t *testing.T) {
	c := &fakeCompactor{}
	s := New(&config.SchedulerConfig{}, discardLogger()).WithMemoryCompaction(c)

	s.runCompaction(context.Background())
	if c.calls != 1 {
		t.Errorf("expected 1 compaction run, got %d", c.calls)
	}

	// Failures are logged, never propagated.
	c.err = errors.New("db down")
	s.runCompaction(context.Background())
	if c.calls != 2 {
		t.Errorf("expected the failing run to still be attempted, got %d", c.calls)
	}
}

func TestRunCacheSweep(t *testing.T) {
	sw := &fakeSweeper{}
	s := New(&config.SchedulerConfig{}, discardLogger()).WithCacheSweep(sw)
	s.runCacheSweep(context.Background())
	if sw.calls != 1 {
		t.Errorf("expected 1 sweep, got %d", sw.calls)
	}
}

func TestRunRateSweep(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	_ = store.Record("cust-1", time.Now().Add(-time.Hour))

	s := New(&config.SchedulerConfig{}, discardLogger()).
		WithRateWindowSweep(store, time.Minute)
	s.runRateSweep(context.Background())

	window, err := store.Window("cust-1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 0 {
		t.Errorf("stale window must be swept, got %d entries", len(window))
	}
}
