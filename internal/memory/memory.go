// Package memory implements durable per-customer conversation memory.
// Memory is additive: insight lists merge with deduplication, scalar
// preferences are last-write-wins. A failure to load or persist memory
// never fails a conversation turn.
package memory

import (
	"context"
	"strings"
	"time"
)

// MaxInsights caps the stored insight list per customer. Compaction keeps
// the most recent entries.
const MaxInsights = 50

// Insight is a derived fact about a customer, extracted from conversation.
type Insight struct {
	Text    string    `json:"text"`
	AddedAt time.Time `json:"added_at"`
}

// CustomerMemory is the durable memory record for one customer.
type CustomerMemory struct {
	CustomerID         string
	FavoriteCategories []string
	DietaryNotes       []string
	FrequentMerchants  []string
	Insights           []Insight
	UpdatedAt          time.Time
}

// Delta is a proposed additive update produced by conversation analysis.
type Delta struct {
	FavoriteCategories []string
	DietaryNotes       []string
	FrequentMerchants  []string
	Insights           []string
}

// Empty reports whether the delta proposes no changes.
func (d *Delta) Empty() bool {
	return len(d.FavoriteCategories) == 0 && len(d.DietaryNotes) == 0 &&
		len(d.FrequentMerchants) == 0 && len(d.Insights) == 0
}

// Store persists customer memory. Implementations must be safe for
// concurrent use; Save must merge, not replace, so concurrent turns for
// the same customer cannot clobber each other's insight additions.
type Store interface {
	// Load returns the customer's memory, or an empty default if none exists.
	Load(ctx context.Context, customerID string) (*CustomerMemory, error)

	// Save merges the delta into the customer's stored memory.
	Save(ctx context.Context, customerID string, delta *Delta) error
}

// NewEmpty returns a fresh memory record for a first-time customer.
func NewEmpty(customerID string) *CustomerMemory {
	return &CustomerMemory{CustomerID: customerID}
}

// NormalizeInsight canonicalizes insight text for deduplication:
// lower-cased, whitespace-collapsed, trailing punctuation stripped.
func NormalizeInsight(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!؟?")
}

// Merge applies a delta to the memory record in place. List fields append
// with dedup by normalized text; returns true if anything changed.
func Merge(mem *CustomerMemory, delta *Delta, now time.Time) bool {
	changed := false
	if appendUnique(&mem.FavoriteCategories, delta.FavoriteCategories) {
		changed = true
	}
	if appendUnique(&mem.DietaryNotes, delta.DietaryNotes) {
		changed = true
	}
	if appendUnique(&mem.FrequentMerchants, delta.FrequentMerchants) {
		changed = true
	}

	seen := make(map[string]bool, len(mem.Insights))
	for _, ins := range mem.Insights {
		seen[NormalizeInsight(ins.Text)] = true
	}
	for _, text := range delta.Insights {
		key := NormalizeInsight(text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		mem.Insights = append(mem.Insights, Insight{Text: text, AddedAt: now})
		changed = true
	}

	if changed {
		mem.UpdatedAt = now
	}
	return changed
}

// Compact trims the insight list to MaxInsights, keeping the newest.
// Returns true if anything was dropped.
func Compact(mem *CustomerMemory) bool {
	if len(mem.Insights) <= MaxInsights {
		return false
	}
	mem.Insights = mem.Insights[len(mem.Insights)-MaxInsights:]
	return true
}

func appendUnique(dst *[]string, add []string) bool {
	changed := false
	seen := make(map[string]bool, len(*dst))
	for _, v := range *dst {
		seen[NormalizeInsight(v)] = true
	}
	for _, v := range add {
		key := NormalizeInsight(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		*dst = append(*dst, v)
		changed = true
	}
	return changed
}
