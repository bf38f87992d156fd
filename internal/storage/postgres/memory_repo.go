package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/engezna/engezna-agent/internal/memory"
)

// MemoryRepository implements memory.Store. Save is read-merge-write inside
// a transaction so concurrent turns for the same customer cannot drop each
// other's insight additions.
type MemoryRepository struct {
	db         *gorm.DB
	rowLocking bool // SELECT FOR UPDATE; disabled on SQLite, which serializes writers itself.
}

// NewMemoryRepository creates a GORM-backed customer memory store.
func NewMemoryRepository(db *gorm.DB, rowLocking bool) *MemoryRepository {
	return &MemoryRepository{db: db, rowLocking: rowLocking}
}

func (r *MemoryRepository) Load(ctx context.Context, customerID string) (*memory.CustomerMemory, error) {
	var model CustomerMemoryModel
	err := r.db.WithContext(ctx).First(&model, "customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return memory.NewEmpty(customerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading customer memory: %w", err)
	}
	return toMemoryDomain(&model)
}

func (r *MemoryRepository) Save(ctx context.Context, customerID string, delta *memory.Delta) error {
	if delta.Empty() {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if r.rowLocking {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var model CustomerMemoryModel
		err := q.First(&model, "customer_id = ?", customerID).Error

		var mem *memory.CustomerMemory
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			mem = memory.NewEmpty(customerID)
		case err != nil:
			return fmt.Errorf("loading customer memory for merge: %w", err)
		default:
			if mem, err = toMemoryDomain(&model); err != nil {
				return err
			}
		}

		if !memory.Merge(mem, delta, time.Now().UTC()) {
			return nil
		}

		updated, err := toMemoryModel(mem)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}},
			UpdateAll: true,
		}).Create(&updated).Error
	})
}

func toMemoryDomain(m *CustomerMemoryModel) (*memory.CustomerMemory, error) {
	mem := &memory.CustomerMemory{
		CustomerID: m.CustomerID,
		UpdatedAt:  m.UpdatedAt,
	}
	for _, f := range []struct {
		src JSONB
		dst any
	}{
		{m.FavoriteCategories, &mem.FavoriteCategories},
		{m.DietaryNotes, &mem.DietaryNotes},
		{m.FrequentMerchants, &mem.FrequentMerchants},
		{m.Insights, &mem.Insights},
	} {
		if len(f.src) == 0 {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decoding customer memory: %w", err)
		}
	}
	return mem, nil
}

func toMemoryModel(mem *memory.CustomerMemory) (CustomerMemoryModel, error) {
	model := CustomerMemoryModel{
		CustomerID: mem.CustomerID,
		UpdatedAt:  mem.UpdatedAt,
	}
	for _, f := range []struct {
		src any
		dst *JSONB
	}{
		{mem.FavoriteCategories, &model.FavoriteCategories},
		{mem.DietaryNotes, &model.DietaryNotes},
		{mem.FrequentMerchants, &model.FrequentMerchants},
		{mem.Insights, &model.Insights},
	} {
		b, err := json.Marshal(f.src)
		if err != nil {
			return model, fmt.Errorf("encoding customer memory: %w", err)
		}
		*f.dst = JSONB(b)
	}
	return model, nil
}

// CompactAll trims every customer's insight list to the cap. Run by the
// maintenance scheduler; returns the number of records compacted.
func (r *MemoryRepository) CompactAll(ctx context.Context) (int, error) {
	var models []CustomerMemoryModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return 0, fmt.Errorf("listing customer memories: %w", err)
	}

	compacted := 0
	for i := range models {
		mem, err := toMemoryDomain(&models[i])
		if err != nil {
			// One corrupt record must not block the rest of the sweep.
			continue
		}
		if !memory.Compact(mem) {
			continue
		}
		updated, err := toMemoryModel(mem)
		if err != nil {
			continue
		}
		if err := r.db.WithContext(ctx).Save(&updated).Error; err != nil {
			return compacted, fmt.Errorf("saving compacted memory for %s: %w", mem.CustomerID, err)
		}
		compacted++
	}
	return compacted, nil
}
