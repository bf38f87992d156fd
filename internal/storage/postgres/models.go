package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB stores a JSON document in a jsonb column (TEXT affinity on SQLite).
type JSONB json.RawMessage

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
}

// MerchantModel maps to the "merchants" table.
type MerchantModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name            string    `gorm:"not null;index"`
	NameAr          string    `gorm:"index"`
	Category        string    `gorm:"index"`
	City            string    `gorm:"index"`
	Governorate     string    `gorm:"index"`
	OpensAt         string
	ClosesAt        string
	AcceptingOrders bool    `gorm:"not null;default:true"`
	Rating          float64 `gorm:"type:numeric(3,2)"`
	DeliveryFee     float64 `gorm:"type:numeric(10,2)"`
	MinOrderTotal   float64 `gorm:"type:numeric(10,2)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (MerchantModel) TableName() string { return "merchants" }

// MenuItemModel maps to the "menu_items" table.
type MenuItemModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	MerchantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Name          string    `gorm:"not null"`
	NameAr        string
	Description   string
	DescriptionAr string
	Category      string `gorm:"index"`
	Price         float64 `gorm:"type:numeric(10,2);not null"`
	Available     bool    `gorm:"not null;default:true;index"`
	Tags          JSONB   `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (MenuItemModel) TableName() string { return "menu_items" }

// OrderModel maps to the "orders" table.
type OrderModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CustomerID  string    `gorm:"not null;index"`
	MerchantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	AddressID   uuid.UUID `gorm:"type:uuid;not null"`
	Status      string    `gorm:"not null;index"`
	Subtotal    float64   `gorm:"type:numeric(10,2)"`
	DeliveryFee float64   `gorm:"type:numeric(10,2)"`
	Total       float64   `gorm:"type:numeric(10,2)"`
	Notes       string
	Items       []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"index"`
	UpdatedAt   time.Time
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel maps to the "order_items" table. Name and UnitPrice are
// snapshots taken at order time.
type OrderItemModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	OrderID    uuid.UUID `gorm:"type:uuid;not null;index"`
	MenuItemID uuid.UUID `gorm:"type:uuid;not null"`
	Name       string    `gorm:"not null"`
	Quantity   int       `gorm:"not null"`
	UnitPrice  float64   `gorm:"type:numeric(10,2);not null"`
}

func (OrderItemModel) TableName() string { return "order_items" }

// AddressModel maps to the "addresses" table.
type AddressModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CustomerID  string    `gorm:"not null;index"`
	Label       string
	Street      string
	Building    string
	City        string
	Governorate string
	Notes       string
	IsDefault   bool `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

func (AddressModel) TableName() string { return "addresses" }

// CustomerMemoryModel maps to the "customer_memories" table.
// One row per customer; list fields are JSON documents merged on save.
type CustomerMemoryModel struct {
	CustomerID         string `gorm:"primaryKey"`
	FavoriteCategories JSONB  `gorm:"type:jsonb;not null;default:'[]'"`
	DietaryNotes       JSONB  `gorm:"type:jsonb;not null;default:'[]'"`
	FrequentMerchants  JSONB  `gorm:"type:jsonb;not null;default:'[]'"`
	Insights           JSONB  `gorm:"type:jsonb;not null;default:'[]'"`
	UpdatedAt          time.Time
}

func (CustomerMemoryModel) TableName() string { return "customer_memories" }

// ItemEmbeddingModel maps to the "item_embeddings" table.
type ItemEmbeddingModel struct {
	MenuItemID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Vector     JSONB     `gorm:"type:jsonb;not null;default:'[]'"`
	UpdatedAt  time.Time
}

func (ItemEmbeddingModel) TableName() string { return "item_embeddings" }

// AllModels lists every model for AutoMigrate, shared by both backends.
func AllModels() []any {
	return []any{
		&MerchantModel{},
		&MenuItemModel{},
		&OrderModel{},
		&OrderItemModel{},
		&AddressModel{},
		&CustomerMemoryModel{},
		&ItemEmbeddingModel{},
	}
}
