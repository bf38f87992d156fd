// Package domain defines the marketplace entity types shared across the system.
// All user-facing entities carry both Arabic and English names; the agent picks
// the field matching the conversation locale.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Merchant is a provider on the marketplace (restaurant, grocery, pharmacy).
type Merchant struct {
	ID              uuid.UUID
	Name            string
	NameAr          string
	Category        string // e.g. "restaurant", "grocery", "pharmacy".
	City            string
	Governorate     string
	OpensAt         string // "HH:MM" local time.
	ClosesAt        string // "HH:MM" local time. ClosesAt < OpensAt means overnight.
	AcceptingOrders bool   // Merchant-controlled toggle, independent of hours.
	Rating          float64
	DeliveryFee     float64
	MinOrderTotal   float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OpenAt reports whether the merchant's posted hours cover the given time.
func (m *Merchant) OpenAt(t time.Time) bool {
	if m.OpensAt == "" || m.ClosesAt == "" {
		return true
	}
	now := t.Format("15:04")
	if m.ClosesAt < m.OpensAt {
		// Overnight window, e.g. 18:00-02:00.
		return now >= m.OpensAt || now < m.ClosesAt
	}
	return now >= m.OpensAt && now < m.ClosesAt
}

// MenuItem is a single orderable item on a merchant's menu.
type MenuItem struct {
	ID            uuid.UUID
	MerchantID    uuid.UUID
	Name          string
	NameAr        string
	Description   string
	DescriptionAr string
	Category      string
	Price         float64
	Available     bool
	Tags          []string // e.g. "vegetarian", "spicy", "halal".
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderPreparing      OrderStatus = "preparing"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
)

// Order is a customer's order against one merchant.
// An order and its items are written as a single logical unit.
type Order struct {
	ID          uuid.UUID
	CustomerID  string
	MerchantID  uuid.UUID
	AddressID   uuid.UUID
	Status      OrderStatus
	Items       []OrderItem
	Subtotal    float64
	DeliveryFee float64
	Total       float64
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem is one line of an order. Name and UnitPrice are snapshotted at
// order time so later menu edits don't rewrite order history.
type OrderItem struct {
	MenuItemID uuid.UUID
	Name       string
	Quantity   int
	UnitPrice  float64
}

// Address is a customer's saved delivery address.
type Address struct {
	ID          uuid.UUID
	CustomerID  string
	Label       string // e.g. "home", "work".
	Street      string
	Building    string
	City        string
	Governorate string
	Notes       string
	IsDefault   bool
	CreatedAt   time.Time
}

// ItemEmbedding is a semantic vector for a menu item, used by fuzzy search.
type ItemEmbedding struct {
	MenuItemID uuid.UUID
	Vector     []float32
	UpdatedAt  time.Time
}

// MerchantStore is the persistence interface for merchants.
// Implementations must be safe for concurrent use.
type MerchantStore interface {
	// Get returns a merchant by ID.
	Get(ctx context.Context, id uuid.UUID) (*Merchant, error)

	// Search returns merchants in the given geo scope matching the query
	// against name (both languages) or category. Empty query lists all.
	Search(ctx context.Context, city, governorate, query string) ([]Merchant, error)
}

// MenuItemStore is the persistence interface for menu items.
type MenuItemStore interface {
	// Get returns a menu item by ID.
	Get(ctx context.Context, id uuid.UUID) (*MenuItem, error)

	// Search returns available items whose name, description or tags match
	// the query (case-insensitive, both languages), scoped to merchants in
	// the given city/governorate.
	Search(ctx context.Context, city, governorate, query string, limit int) ([]MenuItem, error)

	// ListByMerchant returns all available items for one merchant.
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]MenuItem, error)
}

// OrderStore is the persistence interface for orders.
type OrderStore interface {
	// Create persists an order and its items as one atomic write.
	Create(ctx context.Context, order *Order) error

	// Get returns an order with its items. Callers must check CustomerID
	// before exposing the order to a conversation.
	Get(ctx context.Context, id uuid.UUID) (*Order, error)

	// ListByCustomer returns the customer's most recent orders, newest first.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// AddressStore is the persistence interface for saved addresses.
type AddressStore interface {
	// ListByCustomer returns the customer's saved addresses, default first.
	ListByCustomer(ctx context.Context, customerID string) ([]Address, error)

	// Get returns an address by ID.
	Get(ctx context.Context, id uuid.UUID) (*Address, error)
}

// EmbeddingStore persists semantic vectors for menu items.
type EmbeddingStore interface {
	// Upsert stores or replaces the vector for a menu item.
	Upsert(ctx context.Context, emb *ItemEmbedding) error

	// All returns every stored embedding. The search tool ranks in-process;
	// the corpus is one city's menu, small enough to scan.
	All(ctx context.Context) ([]ItemEmbedding, error)
}
