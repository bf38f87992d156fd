// Package order implements the order placement and status tools.
//
// Placement is the only write tool in the catalog. It re-reads every
// referenced row (merchant, items, address) before composing the order, then
// hands the store a single Create call; the store's transaction is the
// atomicity boundary, so a partial order can never be observed.
package order

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/storage"
	"github.com/engezna/engezna-agent/internal/tools"
)

const maxOrderLines = 20

// PlaceTool creates an order from the model's item selection.
type PlaceTool struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewPlaceTool creates the order placement tool.
func NewPlaceTool(logger *slog.Logger) *PlaceTool {
	return &PlaceTool{logger: logger, now: time.Now}
}

func (t *PlaceTool) Name() string { return "place_order" }

func (t *PlaceTool) Description() string {
	return "Place a delivery order with one merchant. All items must belong to that merchant and the order must meet its minimum total."
}

func (t *PlaceTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"merchant_id": map[string]any{
				"type":        "string",
				"format":      "uuid",
				"description": "The merchant to order from",
			},
			"address_id": map[string]any{
				"type":        "string",
				"format":      "uuid",
				"description": "One of the customer's saved delivery addresses",
			},
			"items": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item_id": map[string]any{
							"type":        "string",
							"format":      "uuid",
							"description": "Menu item ID from search_menu results",
						},
						"quantity": map[string]any{
							"type":    "integer",
							"minimum": 1,
						},
					},
					"required": []string{"item_id", "quantity"},
				},
				"description": "The items to order",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "Optional delivery notes from the customer",
			},
		},
		"required": []string{"merchant_id", "address_id", "items"},
	}
}

func (t *PlaceTool) ReadOnly() bool { return false }

// Available withholds order placement outside the service area.
func (t *PlaceTool) Available(tc *tools.ToolContext) bool { return tc.InServiceArea() }

func (t *PlaceTool) Execute(ctx context.Context, params map[string]any, tc *tools.ToolContext) *tools.Result {
	merchantID, _ := uuid.Parse(params["merchant_id"].(string))
	addressID, _ := uuid.Parse(params["address_id"].(string))

	merchant, err := tc.Store.Merchants().Get(ctx, merchantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tools.Fail(tools.ErrNotFound, "merchant %s does not exist", merchantID)
		}
		return tools.Fail(tools.ErrUpstreamFailure, "loading merchant: %v", err)
	}

	if !merchant.AcceptingOrders {
		return tools.Fail(tools.ErrInvalidState, "%s is not accepting orders right now", merchant.Name)
	}
	if !merchant.OpenAt(t.now()) {
		return tools.Fail(tools.ErrInvalidState, "%s is closed right now (hours %s-%s)", merchant.Name, merchant.OpensAt, merchant.ClosesAt)
	}

	address, err := tc.Store.Addresses().Get(ctx, addressID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tools.Fail(tools.ErrNotFound, "address %s does not exist", addressID)
		}
		return tools.Fail(tools.ErrUpstreamFailure, "loading address: %v", err)
	}
	if address.CustomerID != tc.CustomerID {
		return tools.Fail(tools.ErrPermissionDenied, "address %s does not belong to this customer", addressID)
	}

	lines, failResult := t.buildLines(ctx, params["items"].([]any), merchant, tc)
	if failResult != nil {
		return failResult
	}

	var subtotal float64
	for _, l := range lines {
		subtotal += l.UnitPrice * float64(l.Quantity)
	}
	if subtotal < merchant.MinOrderTotal {
		return tools.Fail(tools.ErrValidation,
			"order total %.2f is below %s's minimum of %.2f", subtotal, merchant.Name, merchant.MinOrderTotal)
	}

	notes := ""
	if v, ok := params["notes"].(string); ok {
		notes = strings.TrimSpace(v)
	}

	ord := &domain.Order{
		CustomerID:  tc.CustomerID,
		MerchantID:  merchant.ID,
		AddressID:   address.ID,
		Status:      domain.OrderPending,
		Items:       lines,
		Subtotal:    subtotal,
		DeliveryFee: merchant.DeliveryFee,
		Total:       subtotal + merchant.DeliveryFee,
		Notes:       notes,
	}

	if err := tc.Store.Orders().Create(ctx, ord); err != nil {
		return tools.Fail(tools.ErrUpstreamFailure, "placing order: %v", err)
	}

	t.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", ord.ID.String()),
		slog.String("customer_id", tc.CustomerID),
		slog.String("merchant_id", merchant.ID.String()),
		slog.Float64("total", ord.Total),
	)

	merchantName := merchant.Name
	if tc.Locale == "ar" && merchant.NameAr != "" {
		merchantName = merchant.NameAr
	}
	return tools.OK(map[string]any{
		"order_id":      ord.ID.String(),
		"merchant_name": merchantName,
		"status":        string(ord.Status),
		"subtotal":      ord.Subtotal,
		"delivery_fee":  ord.DeliveryFee,
		"total":         ord.Total,
	})
}

// buildLines resolves every requested item against the menu, rejecting items
// from other merchants or marked unavailable. Name and price are snapshotted
// here so the order survives later menu edits.
func (t *PlaceTool) buildLines(ctx context.Context, rawItems []any, merchant *domain.Merchant, tc *tools.ToolContext) ([]domain.OrderItem, *tools.Result) {
	if len(rawItems) > maxOrderLines {
		return nil, tools.Fail(tools.ErrValidation, "too many items: %d (max %d)", len(rawItems), maxOrderLines)
	}

	lines := make([]domain.OrderItem, 0, len(rawItems))
	for i, raw := range rawItems {
		entry := raw.(map[string]any)
		itemID, _ := uuid.Parse(entry["item_id"].(string))
		qty := intValue(entry["quantity"])

		item, err := tc.Store.MenuItems().Get(ctx, itemID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, tools.Fail(tools.ErrNotFound, "items[%d]: menu item %s does not exist", i, itemID)
			}
			return nil, tools.Fail(tools.ErrUpstreamFailure, "loading menu item: %v", err)
		}
		if item.MerchantID != merchant.ID {
			return nil, tools.Fail(tools.ErrConflict, "items[%d]: %s belongs to a different merchant", i, item.Name)
		}
		if !item.Available {
			return nil, tools.Fail(tools.ErrConflict, "items[%d]: %s is currently unavailable", i, item.Name)
		}

		name := item.Name
		if tc.Locale == "ar" && item.NameAr != "" {
			name = item.NameAr
		}
		lines = append(lines, domain.OrderItem{
			MenuItemID: item.ID,
			Name:       name,
			Quantity:   qty,
			UnitPrice:  item.Price,
		})
	}
	return lines, nil
}

// StatusTool fetches the current state of one of the customer's orders.
type StatusTool struct {
	logger *slog.Logger
}

// NewStatusTool creates the order status tool.
func NewStatusTool(logger *slog.Logger) *StatusTool {
	return &StatusTool{logger: logger}
}

func (t *StatusTool) Name() string { return "get_order_status" }

func (t *StatusTool) Description() string {
	return "Get the current status of one of the customer's orders. Omit order_id to get the most recent order."
}

func (t *StatusTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order_id": map[string]any{
				"type":        "string",
				"format":      "uuid",
				"description": "The order to look up. Optional; defaults to the latest order",
			},
		},
	}
}

func (t *StatusTool) ReadOnly() bool { return true }

func (t *StatusTool) Available(_ *tools.ToolContext) bool { return true }

func (t *StatusTool) Execute(ctx context.Context, params map[string]any, tc *tools.ToolContext) *tools.Result {
	var ord *domain.Order

	if raw, ok := params["order_id"].(string); ok && raw != "" {
		id, _ := uuid.Parse(raw)
		found, err := tc.Store.Orders().Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return tools.Fail(tools.ErrNotFound, "order %s does not exist", id)
			}
			return tools.Fail(tools.ErrUpstreamFailure, "loading order: %v", err)
		}
		if found.CustomerID != tc.CustomerID {
			return tools.Fail(tools.ErrPermissionDenied, "order %s does not belong to this customer", id)
		}
		ord = found
	} else {
		recent, err := tc.Store.Orders().ListByCustomer(ctx, tc.CustomerID, 1)
		if err != nil {
			return tools.Fail(tools.ErrUpstreamFailure, "listing orders: %v", err)
		}
		if len(recent) == 0 {
			return tools.Fail(tools.ErrNotFound, "the customer has no orders yet")
		}
		ord = &recent[0]
	}

	items := make([]map[string]any, 0, len(ord.Items))
	for _, l := range ord.Items {
		items = append(items, map[string]any{
			"name":       l.Name,
			"quantity":   l.Quantity,
			"unit_price": l.UnitPrice,
		})
	}

	return tools.OK(map[string]any{
		"order_id":   ord.ID.String(),
		"status":     string(ord.Status),
		"total":      ord.Total,
		"items":      items,
		"created_at": ord.CreatedAt.Format(time.RFC3339),
	})
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
