package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engezna/engezna-agent/internal/domain"
)

// MenuItemRepository implements domain.MenuItemStore.
type MenuItemRepository struct {
	db *gorm.DB
}

// NewMenuItemRepository creates a GORM-backed menu item store.
func NewMenuItemRepository(db *gorm.DB) *MenuItemRepository {
	return &MenuItemRepository{db: db}
}

func (r *MenuItemRepository) Get(ctx context.Context, id uuid.UUID) (*domain.MenuItem, error) {
	var model MenuItemModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: menu item %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting menu item: %w", err)
	}
	return toMenuItemDomain(&model), nil
}

func (r *MenuItemRepository) Search(ctx context.Context, city, governorate, query string, limit int) ([]domain.MenuItem, error) {
	if limit <= 0 {
		limit = 20
	}

	q := r.db.WithContext(ctx).
		Model(&MenuItemModel{}).
		Joins("JOIN merchants ON merchants.id = menu_items.merchant_id").
		Where("menu_items.available = ?", true).
		Where("merchants.accepting_orders = ?", true)
	if city != "" {
		q = q.Where("LOWER(merchants.city) = LOWER(?)", city)
	} else if governorate != "" {
		q = q.Where("LOWER(merchants.governorate) = LOWER(?)", governorate)
	}

	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		arLike := "%" + query + "%"
		// Tags is a JSON array; CAST AS TEXT keeps the match portable
		// between jsonb (postgres) and TEXT affinity (sqlite).
		q = q.Where(
			"LOWER(menu_items.name) LIKE ? OR menu_items.name_ar LIKE ? OR LOWER(menu_items.description) LIKE ? OR menu_items.description_ar LIKE ? OR CAST(menu_items.tags AS TEXT) LIKE ?",
			like, arLike, like, arLike, like)
	}

	var models []MenuItemModel
	if err := q.Order("menu_items.name ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("searching menu items: %w", err)
	}

	items := make([]domain.MenuItem, len(models))
	for i := range models {
		items[i] = *toMenuItemDomain(&models[i])
	}
	return items, nil
}

func (r *MenuItemRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.MenuItem, error) {
	var models []MenuItemModel
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND available = ?", merchantID, true).
		Order("category ASC, name ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing menu items: %w", err)
	}

	items := make([]domain.MenuItem, len(models))
	for i := range models {
		items[i] = *toMenuItemDomain(&models[i])
	}
	return items, nil
}

func toMenuItemDomain(m *MenuItemModel) *domain.MenuItem {
	var tags []string
	if len(m.Tags) > 0 {
		_ = json.Unmarshal([]byte(m.Tags), &tags)
	}
	return &domain.MenuItem{
		ID:            m.ID,
		MerchantID:    m.MerchantID,
		Name:          m.Name,
		NameAr:        m.NameAr,
		Description:   m.Description,
		DescriptionAr: m.DescriptionAr,
		Category:      m.Category,
		Price:         m.Price,
		Available:     m.Available,
		Tags:          tags,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
