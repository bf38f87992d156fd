package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engezna/engezna-agent/internal/domain"
)

// AddressRepository implements domain.AddressStore.
type AddressRepository struct {
	db *gorm.DB
}

// NewAddressRepository creates a GORM-backed address store.
func NewAddressRepository(db *gorm.DB) *AddressRepository {
	return &AddressRepository{db: db}
}

func (r *AddressRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Address, error) {
	var models []AddressModel
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("is_default DESC, created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}

	addresses := make([]domain.Address, len(models))
	for i := range models {
		addresses[i] = *toAddressDomain(&models[i])
	}
	return addresses, nil
}

func (r *AddressRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Address, error) {
	var model AddressModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: address %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting address: %w", err)
	}
	return toAddressDomain(&model), nil
}

func toAddressDomain(m *AddressModel) *domain.Address {
	return &domain.Address{
		ID:          m.ID,
		CustomerID:  m.CustomerID,
		Label:       m.Label,
		Street:      m.Street,
		Building:    m.Building,
		City:        m.City,
		Governorate: m.Governorate,
		Notes:       m.Notes,
		IsDefault:   m.IsDefault,
		CreatedAt:   m.CreatedAt,
	}
}
