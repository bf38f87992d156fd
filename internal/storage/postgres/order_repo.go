package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engezna/engezna-agent/internal/domain"
)

// OrderRepository implements domain.OrderStore.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a GORM-backed order store.
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order and its items in one transaction. A partial
// write is never observable: either the whole order lands or nothing does.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	model := toOrderModel(order)
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	}); err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return toOrderDomain(&model), nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 10
	}
	var models []OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	orders := make([]domain.Order, len(models))
	for i := range models {
		orders[i] = *toOrderDomain(&models[i])
	}
	return orders, nil
}

func toOrderModel(o *domain.Order) OrderModel {
	items := make([]OrderItemModel, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemModel{
			OrderID:    o.ID,
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
		}
	}
	return OrderModel{
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		MerchantID:  o.MerchantID,
		AddressID:   o.AddressID,
		Status:      string(o.Status),
		Subtotal:    o.Subtotal,
		DeliveryFee: o.DeliveryFee,
		Total:       o.Total,
		Notes:       o.Notes,
		Items:       items,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func toOrderDomain(m *OrderModel) *domain.Order {
	items := make([]domain.OrderItem, len(m.Items))
	for i, it := range m.Items {
		items[i] = domain.OrderItem{
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
		}
	}
	return &domain.Order{
		ID:          m.ID,
		CustomerID:  m.CustomerID,
		MerchantID:  m.MerchantID,
		AddressID:   m.AddressID,
		Status:      domain.OrderStatus(m.Status),
		Items:       items,
		Subtotal:    m.Subtotal,
		DeliveryFee: m.DeliveryFee,
		Total:       m.Total,
		Notes:       m.Notes,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
