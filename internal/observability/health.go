package observability

import (
	"context"
	"log/slog"
	"time"
)

// readinessTimeout bounds one full readiness sweep, not each check.
const readinessTimeout = 3 * time.Second

// HealthChecker backs the gateway's health and readiness endpoints.
// Liveness is unconditional; readiness sweeps the registered dependency
// checks (storage, embeddings endpoint, provider reachability).
type HealthChecker struct {
	checks []namedCheck
	logger *slog.Logger
}

type namedCheck struct {
	name  string
	check func(ctx context.Context) error
}

// HealthStatus is the JSON body of the health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's slice of the readiness response.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a checker with no dependencies registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named dependency check. Registration happens at
// startup; AddCheck is not safe against concurrent CheckReady calls.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// CheckHealth is liveness: the process answering is the whole signal.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady sweeps every registered check. One failing dependency degrades
// the whole status, and each check's outcome is reported individually so an
// operator can see which dependency is down.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	sweepCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}
	for _, c := range h.checks {
		result := h.run(sweepCtx, c)
		if result.Status != "ok" {
			status.Status = "degraded"
		}
		status.Checks[c.name] = result
	}
	return status
}

func (h *HealthChecker) run(ctx context.Context, c namedCheck) CheckResult {
	err := c.check(ctx)
	if err == nil {
		return CheckResult{Status: "ok"}
	}
	if h.logger != nil {
		h.logger.Warn("readiness check failed",
			slog.String("check", c.name),
			slog.String("error", err.Error()),
		)
	}
	return CheckResult{Status: "fail", Message: err.Error()}
}
