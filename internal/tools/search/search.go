// Package search implements the menu search tool. Keyword search always runs
// against the store; when an embedder is configured, semantic ranking over the
// stored item vectors widens the result set for queries the keyword match
// misses (misspellings, paraphrases, cross-language phrasing).
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/embeddings"
	"github.com/engezna/engezna-agent/internal/tools"
)

const (
	defaultLimit = 10
	maxLimit     = 25

	// Minimum cosine similarity for a semantic match to be offered.
	semanticThreshold = 0.78
)

// Tool searches available menu items within the customer's service area.
type Tool struct {
	logger *slog.Logger
}

// NewTool creates the menu search tool.
func NewTool(logger *slog.Logger) *Tool {
	return &Tool{logger: logger}
}

func (t *Tool) Name() string { return "search_menu" }

func (t *Tool) Description() string {
	return "Search available menu items near the customer by dish name, category or description. Works in Arabic and English."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "What the customer is looking for, e.g. 'pizza' or 'بيتزا'",
			},
			"limit": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Maximum number of items to return. Defaults to 10",
			},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) ReadOnly() bool { return true }

// Available requires a geo scope; searching without one would return
// merchants the customer cannot order from.
func (t *Tool) Available(tc *tools.ToolContext) bool { return tc.InServiceArea() }

func (t *Tool) Execute(ctx context.Context, params map[string]any, tc *tools.ToolContext) *tools.Result {
	query := strings.TrimSpace(params["query"].(string))

	limit := intParam(params, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}

	items, err := tc.Store.MenuItems().Search(ctx, tc.City, tc.Governorate, query, limit)
	if err != nil {
		return tools.Fail(tools.ErrUpstreamFailure, "menu search failed: %v", err)
	}

	if len(items) < limit && tc.Embedder != nil {
		extra, err := t.semanticMatches(ctx, query, items, limit-len(items), tc)
		if err != nil {
			// Keyword results still stand; semantic widening is best effort.
			t.logger.WarnContext(ctx, "semantic search unavailable", slog.String("err", err.Error()))
		} else {
			items = append(items, extra...)
		}
	}

	if len(items) == 0 {
		return tools.OK(map[string]any{
			"items": []any{},
			"note":  "no matching items found in the customer's area",
		})
	}

	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, itemPayload(&it, tc.Locale))
	}
	return tools.OK(map[string]any{"items": out})
}

// semanticMatches embeds the query and ranks stored item vectors by cosine
// similarity, returning up to n items not already present in seen.
func (t *Tool) semanticMatches(ctx context.Context, query string, seen []domain.MenuItem, n int, tc *tools.ToolContext) ([]domain.MenuItem, error) {
	qvec, err := tc.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	stored, err := tc.Store.Embeddings().All(ctx)
	if err != nil {
		return nil, err
	}

	seenIDs := make(map[uuid.UUID]bool, len(seen))
	for _, it := range seen {
		seenIDs[it.ID] = true
	}

	type scored struct {
		id    uuid.UUID
		score float64
	}
	ranked := make([]scored, 0, len(stored))
	for _, emb := range stored {
		if seenIDs[emb.MenuItemID] {
			continue
		}
		if s := embeddings.Cosine(qvec, emb.Vector); s >= semanticThreshold {
			ranked = append(ranked, scored{emb.MenuItemID, s})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []domain.MenuItem
	for _, r := range ranked {
		if len(out) >= n {
			break
		}
		item, err := tc.Store.MenuItems().Get(ctx, r.id)
		if err != nil {
			// Vector rows can outlive their items; skip and keep ranking.
			continue
		}
		if !item.Available {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

// intParam reads an integer parameter that may arrive as float64 (JSON
// decoding) or a native int (tests, internal callers).
func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func itemPayload(it *domain.MenuItem, locale string) map[string]any {
	name, desc := it.Name, it.Description
	if locale == "ar" && it.NameAr != "" {
		name, desc = it.NameAr, it.DescriptionAr
	}
	p := map[string]any{
		"item_id":     it.ID.String(),
		"merchant_id": it.MerchantID.String(),
		"name":        name,
		"category":    it.Category,
		"price":       it.Price,
	}
	if desc != "" {
		p["description"] = desc
	}
	if len(it.Tags) > 0 {
		p["tags"] = it.Tags
	}
	return p
}
