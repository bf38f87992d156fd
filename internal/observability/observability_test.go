package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/engezna/engezna-agent/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// counterValue gathers the registry and returns the counter value for the
// metric with the given fully-qualified name and label pairs.
func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewMetricsCollector_RegistersOnCustomRegistry(t *testing.T) {
	m := NewMetricsCollector()

	m.TurnsTotal.WithLabelValues("completed").Inc()
	m.TurnsTotal.WithLabelValues("completed").Inc()
	m.ToolExecutionsTotal.WithLabelValues("search_menu", "success").Inc()
	m.RateLimitRejectionsTotal.Inc()
	m.ProviderTokensUsed.WithLabelValues("anthropic", "input").Add(150)

	if v := counterValue(t, m, "engezna_agent_turns_total", map[string]string{"outcome": "completed"}); v != 2 {
		t.Errorf("expected 2 turns, got %v", v)
	}
	if v := counterValue(t, m, "engezna_tool_executions_total", map[string]string{"tool": "search_menu", "outcome": "success"}); v != 1 {
		t.Errorf("expected 1 tool execution, got %v", v)
	}
	if v := counterValue(t, m, "engezna_ratelimit_rejections_total", nil); v != 1 {
		t.Errorf("expected 1 rejection, got %v", v)
	}
	if v := counterValue(t, m, "engezna_llm_tokens_used_total", map[string]string{"provider": "anthropic", "direction": "input"}); v != 150 {
		t.Errorf("expected 150 tokens, got %v", v)
	}
}

func TestNewMetricsCollector_IndependentRegistries(t *testing.T) {
	// Two collectors must not collide; nothing is registered globally.
	a := NewMetricsCollector()
	b := NewMetricsCollector()

	a.TurnsTotal.WithLabelValues("completed").Inc()

	families, err := b.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() == "engezna_agent_turns_total" && len(mf.GetMetric()) > 0 {
			t.Error("registries must be isolated")
		}
	}
}

func TestNew_NilConfigDisablesEverything(t *testing.T) {
	obs, err := New(nil, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs != nil {
		t.Error("nil config must yield nil observability")
	}
	obs.Shutdown(context.Background()) // nil receiver is a no-op
}

func TestNew_MetricsOnly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Metrics == nil {
		t.Error("metrics must be enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracing must stay disabled")
	}
	if obs.Health == nil {
		t.Error("health checker is always created")
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(discardLogger())
	if got := h.CheckHealth(); got.Status != "ok" {
		t.Errorf("liveness is unconditional, got %q", got.Status)
	}
}

func TestHealthChecker_ReadinessAggregation(t *testing.T) {
	h := NewHealthChecker(discardLogger())

	if got := h.CheckReady(context.Background()); got.Status != "ok" {
		t.Errorf("no checks means ready, got %q", got.Status)
	}

	h.AddCheck("database", func(context.Context) error { return nil })
	h.AddCheck("embeddings", func(context.Context) error { return errors.New("connection refused") })

	got := h.CheckReady(context.Background())
	if got.Status != "degraded" {
		t.Errorf("one failing check degrades readiness, got %q", got.Status)
	}
	if got.Checks["database"].Status != "ok" {
		t.Errorf("passing check misreported: %+v", got.Checks["database"])
	}
	if got.Checks["embeddings"].Status != "fail" || got.Checks["embeddings"].Message == "" {
		t.Errorf("failing check misreported: %+v", got.Checks["embeddings"])
	}
}
