package ranking

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

// ResumeRepository persists Resume aggregates and their per-stage status
// transitions.
type ResumeRepository struct {
	db *gorm.DB
}

func NewResumeRepository(db *gorm.DB) *ResumeRepository {
	return &ResumeRepository{db: db}
}

func (r *ResumeRepository) Create(ctx context.Context, resume *ranking.Resume) error {
	return r.db.WithContext(ctx).Create(resume).Error
}

func (r *ResumeRepository) GetByID(ctx context.Context, id ulid.ULID) (*ranking.Resume, error) {
	var resume ranking.Resume
	result := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&resume)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ranking.ErrResumeNotFound
		}
		return nil, result.Error
	}
	return &resume, nil
}

func (r *ResumeRepository) ListByJob(ctx context.Context, jobID ulid.ULID) ([]*ranking.Resume, error) {
	var resumes []*ranking.Resume
	result := r.db.WithContext(ctx).
		Where("job_id = ?", jobID.String()).
		Order("created_at ASC").
		Find(&resumes)
	if result.Error != nil {
		return nil, result.Error
	}
	return resumes, nil
}

func (r *ResumeRepository) UpdateExtractionStatus(ctx context.Context, id ulid.ULID, status ranking.StageStatus, rawText *string, errorMessage *string) error {
	result := r.db.WithContext(ctx).Model(&ranking.Resume{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"extraction_status": status,
			"raw_text":          rawText,
			"error_message":     errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrResumeNotFound
	}
	return nil
}

func (r *ResumeRepository) UpdateParsingStatus(ctx context.Context, id ulid.ULID, status ranking.StageStatus, content *ranking.ParsedContent, errorMessage *string) error {
	result := r.db.WithContext(ctx).Model(&ranking.Resume{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"parsing_status": status,
			"parsed_content": content,
			"error_message":  errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrResumeNotFound
	}
	return nil
}

func (r *ResumeRepository) UpdateEmbeddingStatus(ctx context.Context, id ulid.ULID, status ranking.StageStatus, embeddings ranking.SectionEmbeddings, errorMessage *string) error {
	result := r.db.WithContext(ctx).Model(&ranking.Resume{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"embedding_status":  status,
			"resume_embeddings": embeddings,
			"error_message":     errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrResumeNotFound
	}
	return nil
}

func (r *ResumeRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&ranking.Resume{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrResumeNotFound
	}
	return nil
}
