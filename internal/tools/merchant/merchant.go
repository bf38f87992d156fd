// Package merchant implements the merchant hours and availability tool.
package merchant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engezna/engezna-agent/internal/storage"
	"github.com/engezna/engezna-agent/internal/tools"
)

// HoursTool reports whether a merchant is open and accepting orders.
type HoursTool struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewHoursTool creates the merchant hours tool.
func NewHoursTool(logger *slog.Logger) *HoursTool {
	return &HoursTool{logger: logger, now: time.Now}
}

func (t *HoursTool) Name() string { return "check_merchant_hours" }

func (t *HoursTool) Description() string {
	return "Check whether a merchant is currently open and accepting orders, and what its posted hours are."
}

func (t *HoursTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"merchant_id": map[string]any{
				"type":        "string",
				"format":      "uuid",
				"description": "The merchant to check",
			},
		},
		"required": []string{"merchant_id"},
	}
}

func (t *HoursTool) ReadOnly() bool { return true }

func (t *HoursTool) Available(_ *tools.ToolContext) bool { return true }

func (t *HoursTool) Execute(ctx context.Context, params map[string]any, tc *tools.ToolContext) *tools.Result {
	id, _ := uuid.Parse(params["merchant_id"].(string))

	m, err := tc.Store.Merchants().Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tools.Fail(tools.ErrNotFound, "merchant %s does not exist", id)
		}
		return tools.Fail(tools.ErrUpstreamFailure, "loading merchant: %v", err)
	}

	name := m.Name
	if tc.Locale == "ar" && m.NameAr != "" {
		name = m.NameAr
	}

	open := m.OpenAt(t.now())
	return tools.OK(map[string]any{
		"merchant_id":      m.ID.String(),
		"name":             name,
		"open_now":         open,
		"accepting_orders": m.AcceptingOrders,
		"can_order":        open && m.AcceptingOrders,
		"opens_at":         m.OpensAt,
		"closes_at":        m.ClosesAt,
	})
}
