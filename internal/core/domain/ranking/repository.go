package ranking

import (
	"context"

	"brokle/pkg/ulid"
)

// JobRepository provides CRUD and the field-level vs. blob-replace update
// split required by the Store contract (§4.2).
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id ulid.ULID) (*Job, error)
	UpdateStatus(ctx context.Context, id ulid.ULID, status JobStatus, errorMessage *string) error
	SetLocked(ctx context.Context, id ulid.ULID, locked bool) error
	ReplaceAnalysis(ctx context.Context, id ulid.ULID, analysis *JDAnalysis) error
	ReplaceEmbeddings(ctx context.Context, id ulid.ULID, embeddings SectionEmbeddings) error
	ReplaceFilterRequirements(ctx context.Context, id ulid.ULID, reqs *FilterRequirements) error
	Delete(ctx context.Context, id ulid.ULID) error
}

// ResumeRepository provides CRUD plus the per-stage status updates used by
// ResumePipeline.
type ResumeRepository interface {
	Create(ctx context.Context, resume *Resume) error
	GetByID(ctx context.Context, id ulid.ULID) (*Resume, error)
	ListByJob(ctx context.Context, jobID ulid.ULID) ([]*Resume, error)
	UpdateExtractionStatus(ctx context.Context, id ulid.ULID, status StageStatus, rawText *string, errorMessage *string) error
	UpdateParsingStatus(ctx context.Context, id ulid.ULID, status StageStatus, content *ParsedContent, errorMessage *string) error
	UpdateEmbeddingStatus(ctx context.Context, id ulid.ULID, status StageStatus, embeddings SectionEmbeddings, errorMessage *string) error
	Delete(ctx context.Context, id ulid.ULID) error
}

// ScoreResultRepository provides the atomic upsert keyed by (job_id,
// resume_id) and the job-scoped read ordered by final_score descending.
type ScoreResultRepository interface {
	Upsert(ctx context.Context, result *ScoreResult) error
	GetByJobAndResume(ctx context.Context, jobID, resumeID ulid.ULID) (*ScoreResult, error)
	ListByJob(ctx context.Context, jobID ulid.ULID) ([]*ScoreResult, error)
	ListByJobOrderedByFinalScore(ctx context.Context, jobID ulid.ULID) ([]*ScoreResult, error)
	UpdateRanks(ctx context.Context, jobID ulid.ULID, ranks map[ulid.ULID]RankAssignment) error
	DeleteByJob(ctx context.Context, jobID ulid.ULID) error
	DeleteByResume(ctx context.Context, resumeID ulid.ULID) error
}

// RankAssignment is the per-candidate write applied once the Ranker has
// produced a final ordering.
type RankAssignment struct {
	Rank          int
	AdjustedScore float64
}

// EmbeddingCacheRepository is the durable tier of the content-addressed
// embedding cache (§4.6, §5); the in-process LRU sits in front of it.
type EmbeddingCacheRepository interface {
	Get(ctx context.Context, contentHash string) (Vector, bool, error)
	Put(ctx context.Context, contentHash string, vector Vector) error
}
