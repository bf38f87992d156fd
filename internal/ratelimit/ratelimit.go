// Package ratelimit implements a per-customer sliding-window rate limiter
// for tool execution. No background goroutines; expired entries are pruned
// lazily on each Allow call.
//
// The limiter fails open: if the window store errors, the call is allowed.
// A customer losing their conversation over a quota bookkeeping failure is
// worse than briefly exceeding the quota.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Config configures the sliding-window rate limiter.
type Config struct {
	MaxCalls int           // Calls allowed per window. 0 = unlimited (Allow always succeeds).
	Window   time.Duration // Rolling window size. 0 = 1 minute.
}

// DefaultWindow is used when Config.Window is zero.
const DefaultWindow = time.Minute

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // Time until the oldest call expires. Zero when allowed.
}

// WindowStore holds the per-customer call timestamps. Implementations must
// be safe for concurrent use. The in-process MemoryStore is the default;
// a shared store can back multi-replica deployments.
type WindowStore interface {
	// Window returns the customer's recorded timestamps at or after cutoff,
	// oldest first, and drops older entries.
	Window(customerID string, cutoff time.Time) ([]time.Time, error)

	// Record appends a call timestamp for the customer.
	Record(customerID string, t time.Time) error
}

// Limiter enforces a global per-customer ceiling across all tools.
// One customer cannot exhaust another's quota.
type Limiter struct {
	store    WindowStore
	maxCalls int
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time // Overridable in tests.
}

// NewLimiter creates a rate limiter over the given window store.
// If cfg.MaxCalls is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config, store WindowStore, logger *slog.Logger) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		store:    store,
		maxCalls: cfg.MaxCalls,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// Allow checks whether the customer has quota remaining and, if so, records
// the call. Rejected calls are not recorded, so a blocked customer is not
// penalized twice for retrying.
func (l *Limiter) Allow(customerID string) Decision {
	if l.maxCalls <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	timestamps, err := l.store.Window(customerID, cutoff)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			slog.String("customer_id", customerID),
			slog.String("error", err.Error()),
		)
		return Decision{Allowed: true}
	}

	if len(timestamps) >= l.maxCalls {
		oldest := timestamps[0]
		retryAfter := oldest.Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	if err := l.store.Record(customerID, now); err != nil {
		l.logger.Warn("rate limit store record failed, failing open",
			slog.String("customer_id", customerID),
			slog.String("error", err.Error()),
		)
	}
	return Decision{Allowed: true}
}

// MemoryStore is the in-process WindowStore. Windows are created lazily on
// a customer's first call.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore creates an empty in-process window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

// Window returns the customer's timestamps at or after cutoff, pruning the rest.
func (s *MemoryStore) Window(customerID string, cutoff time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[customerID]
	i := 0
	for i < len(w) && w[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w = append([]time.Time(nil), w[i:]...)
		if len(w) == 0 {
			delete(s.windows, customerID)
		} else {
			s.windows[customerID] = w
		}
	}
	out := make([]time.Time, len(w))
	copy(out, w)
	return out, nil
}

// Record appends a call timestamp for the customer.
func (s *MemoryStore) Record(customerID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[customerID] = append(s.windows[customerID], t)
	return nil
}

// Sweep drops windows with no entries newer than cutoff. Called by the
// maintenance scheduler to bound memory for one-off customers.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, w := range s.windows {
		if len(w) == 0 || !w[len(w)-1].After(cutoff) {
			delete(s.windows, id)
			removed++
		}
	}
	return removed
}
