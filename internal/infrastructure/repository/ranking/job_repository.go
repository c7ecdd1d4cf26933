// Package ranking implements the Store contract (C2) over GORM/Postgres.
package ranking

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

// JobRepository persists Job aggregates, keeping the three nested blobs
// (jd_analysis, jd_embeddings, filter_requirements) replaceable atomically
// and independent of the field-level status/lock updates (§4.2, §6).
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *ranking.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return err
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id ulid.ULID) (*ranking.Job, error) {
	var job ranking.Job
	result := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ranking.ErrJobNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id ulid.ULID, status ranking.JobStatus, errorMessage *string) error {
	result := r.db.WithContext(ctx).Model(&ranking.Job{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{"status": status, "error_message": errorMessage})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) SetLocked(ctx context.Context, id ulid.ULID, locked bool) error {
	result := r.db.WithContext(ctx).Model(&ranking.Job{}).
		Where("id = ?", id.String()).
		Update("locked", locked)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) ReplaceAnalysis(ctx context.Context, id ulid.ULID, analysis *ranking.JDAnalysis) error {
	result := r.db.WithContext(ctx).Model(&ranking.Job{}).
		Where("id = ?", id.String()).
		Update("jd_analysis", analysis)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) ReplaceEmbeddings(ctx context.Context, id ulid.ULID, embeddings ranking.SectionEmbeddings) error {
	result := r.db.WithContext(ctx).Model(&ranking.Job{}).
		Where("id = ?", id.String()).
		Update("jd_embeddings", embeddings)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) ReplaceFilterRequirements(ctx context.Context, id ulid.ULID, reqs *ranking.FilterRequirements) error {
	result := r.db.WithContext(ctx).Model(&ranking.Job{}).
		Where("id = ?", id.String()).
		Update("filter_requirements", reqs)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&ranking.Job{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ranking.ErrJobNotFound
	}
	return nil
}
