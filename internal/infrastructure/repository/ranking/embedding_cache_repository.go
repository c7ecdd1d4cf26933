package ranking

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brokle/internal/core/domain/ranking"
)

// embeddingCacheRow is the durable tier of the content-addressed embedding
// cache; the content hash is the primary key so a Put is naturally
// idempotent under concurrent writers (§4.6, §5).
type embeddingCacheRow struct {
	ContentHash string          `gorm:"column:content_hash;type:varchar(64);primaryKey"`
	Vector      ranking.Vector  `gorm:"column:vector;type:jsonb;serializer:json"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null;autoCreateTime"`
}

func (embeddingCacheRow) TableName() string { return "ranking_embedding_cache" }

// EmbeddingCacheRepository is the Postgres-backed durable tier the
// in-process LRU falls back to on a local miss.
type EmbeddingCacheRepository struct {
	db *gorm.DB
}

func NewEmbeddingCacheRepository(db *gorm.DB) *EmbeddingCacheRepository {
	return &EmbeddingCacheRepository{db: db}
}

func (r *EmbeddingCacheRepository) Get(ctx context.Context, contentHash string) (ranking.Vector, bool, error) {
	var row embeddingCacheRow
	result := r.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, result.Error
	}
	return row.Vector, true, nil
}

func (r *EmbeddingCacheRepository) Put(ctx context.Context, contentHash string, vector ranking.Vector) error {
	row := embeddingCacheRow{ContentHash: contentHash, Vector: vector}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_hash"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

var _ ranking.EmbeddingCacheRepository = (*EmbeddingCacheRepository)(nil)
