// Package address implements the saved-address listing tool.
package address

import (
	"context"
	"log/slog"

	"github.com/engezna/engezna-agent/internal/tools"
)

// Tool lists the customer's saved delivery addresses.
type Tool struct {
	logger *slog.Logger
}

// NewTool creates the address listing tool.
func NewTool(logger *slog.Logger) *Tool {
	return &Tool{logger: logger}
}

func (t *Tool) Name() string { return "list_addresses" }

func (t *Tool) Description() string {
	return "List the customer's saved delivery addresses. Use this before placing an order to pick an address_id."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *Tool) ReadOnly() bool { return true }

func (t *Tool) Available(_ *tools.ToolContext) bool { return true }

func (t *Tool) Execute(ctx context.Context, _ map[string]any, tc *tools.ToolContext) *tools.Result {
	addresses, err := tc.Store.Addresses().ListByCustomer(ctx, tc.CustomerID)
	if err != nil {
		return tools.Fail(tools.ErrUpstreamFailure, "listing addresses: %v", err)
	}

	if len(addresses) == 0 {
		return tools.OK(map[string]any{
			"addresses": []any{},
			"note":      "the customer has no saved addresses; ask them to add one in the app first",
		})
	}

	out := make([]map[string]any, 0, len(addresses))
	for _, a := range addresses {
		entry := map[string]any{
			"address_id": a.ID.String(),
			"label":      a.Label,
			"street":     a.Street,
			"city":       a.City,
			"is_default": a.IsDefault,
		}
		if a.Building != "" {
			entry["building"] = a.Building
		}
		if a.Notes != "" {
			entry["notes"] = a.Notes
		}
		out = append(out, entry)
	}
	return tools.OK(map[string]any{"addresses": out})
}
