package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/storage"
)

// ErrNotFound aliases the shared sentinel so repository code reads naturally.
var ErrNotFound = storage.ErrNotFound

// MerchantRepository implements domain.MerchantStore.
type MerchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository creates a GORM-backed merchant store.
func NewMerchantRepository(db *gorm.DB) *MerchantRepository {
	return &MerchantRepository{db: db}
}

func (r *MerchantRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	var model MerchantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: merchant %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting merchant: %w", err)
	}
	return toMerchantDomain(&model), nil
}

func (r *MerchantRepository) Search(ctx context.Context, city, governorate, query string) ([]domain.Merchant, error) {
	q := r.db.WithContext(ctx).Model(&MerchantModel{})
	q = geoScope(q, city, governorate)
	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(name) LIKE ? OR name_ar LIKE ? OR LOWER(category) LIKE ?",
			like, "%"+query+"%", like)
	}

	var models []MerchantModel
	if err := q.Order("rating DESC, name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("searching merchants: %w", err)
	}

	merchants := make([]domain.Merchant, len(models))
	for i := range models {
		merchants[i] = *toMerchantDomain(&models[i])
	}
	return merchants, nil
}

// geoScope restricts a query to the customer's delivery area.
func geoScope(q *gorm.DB, city, governorate string) *gorm.DB {
	if city != "" {
		return q.Where("LOWER(city) = LOWER(?)", city)
	}
	if governorate != "" {
		return q.Where("LOWER(governorate) = LOWER(?)", governorate)
	}
	return q
}

func toMerchantDomain(m *MerchantModel) *domain.Merchant {
	return &domain.Merchant{
		ID:              m.ID,
		Name:            m.Name,
		NameAr:          m.NameAr,
		Category:        m.Category,
		City:            m.City,
		Governorate:     m.Governorate,
		OpensAt:         m.OpensAt,
		ClosesAt:        m.ClosesAt,
		AcceptingOrders: m.AcceptingOrders,
		Rating:          m.Rating,
		DeliveryFee:     m.DeliveryFee,
		MinOrderTotal:   m.MinOrderTotal,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
