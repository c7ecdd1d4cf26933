package ranking

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

// ScoreResultRepository persists ScoreResult rows with an atomic upsert
// keyed by the (job_id, resume_id) unique index: the second writer of the
// same key overwrites, and readers never observe a torn write (§4.2).
type ScoreResultRepository struct {
	db *gorm.DB
}

func NewScoreResultRepository(db *gorm.DB) *ScoreResultRepository {
	return &ScoreResultRepository{db: db}
}

func (r *ScoreResultRepository) Upsert(ctx context.Context, result *ranking.ScoreResult) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}, {Name: "resume_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"project_score", "keyword_score", "semantic_score", "final_score",
				"llm_rerank_score", "compliance", "rank", "adjusted_score", "updated_at",
			}),
		}).
		Create(result).Error
}

func (r *ScoreResultRepository) GetByJobAndResume(ctx context.Context, jobID, resumeID ulid.ULID) (*ranking.ScoreResult, error) {
	var sr ranking.ScoreResult
	result := r.db.WithContext(ctx).
		Where("job_id = ? AND resume_id = ?", jobID.String(), resumeID.String()).
		First(&sr)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ranking.ErrScoreResultNotFound
		}
		return nil, result.Error
	}
	return &sr, nil
}

func (r *ScoreResultRepository) ListByJob(ctx context.Context, jobID ulid.ULID) ([]*ranking.ScoreResult, error) {
	var results []*ranking.ScoreResult
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID.String()).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListByJobOrderedByFinalScore satisfies the Store read contract used by
// fetch-all-scores-for-job (§4.2): ordered by final_score descending, nulls
// (skipped candidates) last.
func (r *ScoreResultRepository) ListByJobOrderedByFinalScore(ctx context.Context, jobID ulid.ULID) ([]*ranking.ScoreResult, error) {
	var results []*ranking.ScoreResult
	result := r.db.WithContext(ctx).
		Where("job_id = ?", jobID.String()).
		Order("final_score DESC NULLS LAST").
		Find(&results)
	if result.Error != nil {
		return nil, result.Error
	}
	return results, nil
}

func (r *ScoreResultRepository) UpdateRanks(ctx context.Context, jobID ulid.ULID, ranks map[ulid.ULID]ranking.RankAssignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for resumeID, assignment := range ranks {
			result := tx.Model(&ranking.ScoreResult{}).
				Where("job_id = ? AND resume_id = ?", jobID.String(), resumeID.String()).
				Updates(map[string]interface{}{
					"rank":           assignment.Rank,
					"adjusted_score": assignment.AdjustedScore,
				})
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

func (r *ScoreResultRepository) DeleteByJob(ctx context.Context, jobID ulid.ULID) error {
	return r.db.WithContext(ctx).Where("job_id = ?", jobID.String()).Delete(&ranking.ScoreResult{}).Error
}

func (r *ScoreResultRepository) DeleteByResume(ctx context.Context, resumeID ulid.ULID) error {
	return r.db.WithContext(ctx).Where("resume_id = ?", resumeID.String()).Delete(&ranking.ScoreResult{}).Error
}
