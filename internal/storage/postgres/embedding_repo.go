package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/engezna/engezna-agent/internal/domain"
)

// EmbeddingRepository implements domain.EmbeddingStore.
type EmbeddingRepository struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a GORM-backed embedding store.
func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

func (r *EmbeddingRepository) Upsert(ctx context.Context, emb *domain.ItemEmbedding) error {
	vec, err := json.Marshal(emb.Vector)
	if err != nil {
		return fmt.Errorf("encoding embedding vector: %w", err)
	}
	model := ItemEmbeddingModel{
		MenuItemID: emb.MenuItemID,
		Vector:     JSONB(vec),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "menu_item_id"}},
		UpdateAll: true,
	}).Create(&model).Error; err != nil {
		return fmt.Errorf("upserting embedding: %w", err)
	}
	return nil
}

func (r *EmbeddingRepository) All(ctx context.Context) ([]domain.ItemEmbedding, error) {
	var models []ItemEmbeddingModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing embeddings: %w", err)
	}

	out := make([]domain.ItemEmbedding, 0, len(models))
	for i := range models {
		var vec []float32
		if err := json.Unmarshal([]byte(models[i].Vector), &vec); err != nil {
			continue // Skip corrupt rows rather than failing the whole search.
		}
		out = append(out, domain.ItemEmbedding{
			MenuItemID: models[i].MenuItemID,
			Vector:     vec,
			UpdatedAt:  models[i].UpdatedAt,
		})
	}
	return out, nil
}
