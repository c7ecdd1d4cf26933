package ranking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

type fakeResumeRepository struct {
	resumes map[ulid.ULID]*ranking.Resume
}

func newFakeResumeRepository(resumes ...*ranking.Resume) *fakeResumeRepository {
	m := make(map[ulid.ULID]*ranking.Resume, len(resumes))
	for _, r := range resumes {
		m[r.ID] = r
	}
	return &fakeResumeRepository{resumes: m}
}

func (f *fakeResumeRepository) Create(_ context.Context, r *ranking.Resume) error {
	f.resumes[r.ID] = r
	return nil
}

func (f *fakeResumeRepository) GetByID(_ context.Context, id ulid.ULID) (*ranking.Resume, error) {
	r, ok := f.resumes[id]
	if !ok {
		return nil, ranking.ErrResumeNotFound
	}
	return r, nil
}

func (f *fakeResumeRepository) ListByJob(_ context.Context, jobID ulid.ULID) ([]*ranking.Resume, error) {
	var out []*ranking.Resume
	for _, r := range f.resumes {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeResumeRepository) UpdateExtractionStatus(_ context.Context, id ulid.ULID, status ranking.StageStatus, rawText, errorMessage *string) error {
	r, ok := f.resumes[id]
	if !ok {
		return ranking.ErrResumeNotFound
	}
	r.ExtractionStatus = status
	r.RawText = rawText
	r.ErrorMessage = errorMessage
	return nil
}

func (f *fakeResumeRepository) UpdateParsingStatus(_ context.Context, id ulid.ULID, status ranking.StageStatus, content *ranking.ParsedContent, errorMessage *string) error {
	r, ok := f.resumes[id]
	if !ok {
		return ranking.ErrResumeNotFound
	}
	r.ParsingStatus = status
	r.ParsedContent = content
	r.ErrorMessage = errorMessage
	return nil
}

func (f *fakeResumeRepository) UpdateEmbeddingStatus(_ context.Context, id ulid.ULID, status ranking.StageStatus, embeddings ranking.SectionEmbeddings, errorMessage *string) error {
	r, ok := f.resumes[id]
	if !ok {
		return ranking.ErrResumeNotFound
	}
	r.EmbeddingStatus = status
	r.ResumeEmbeddings = embeddings
	r.ErrorMessage = errorMessage
	return nil
}

func (f *fakeResumeRepository) Delete(_ context.Context, id ulid.ULID) error {
	delete(f.resumes, id)
	return nil
}

var _ ranking.ResumeRepository = (*fakeResumeRepository)(nil)

func newTestJobWithAnalysis(jobID ulid.ULID) *ranking.Job {
	job := ranking.NewJob("Backend Engineer")
	job.ID = jobID
	job.JDAnalysis = &ranking.JDAnalysis{RoleTitle: "Backend Engineer", DomainTags: []string{"fintech"}}
	return job
}

func TestResumePipeline_Process_HappyPath(t *testing.T) {
	jobID := ulid.New()
	job := newTestJobWithAnalysis(jobID)
	jobs := newFakeJobRepository(job)

	resume := ranking.NewResume(jobID, "candidate.pdf")
	resumes := newFakeResumeRepository(resume)

	model := &fakeModelClient{completeResponses: map[string]interface{}{
		schemaParseResume: resumeParseResult{
			CandidateName:   "Jane Doe",
			YearsExperience: floatPtr(6),
			Projects: []ranking.Project{
				{Name: "Ledger Service", Description: "payments ledger", TechKeywords: []string{"Go", "Postgres"}, Metrics: ranking.ProjectMetrics{Difficulty: 0.8}},
			},
		},
	}}
	pipeline := NewResumePipeline(resumes, jobs, model, NewProgressHub(), JDPipelineConfig{EmbeddingModel: "test-embed"}, nil)

	err := pipeline.Process(context.Background(), jobID, resume.ID, ResumeInput{ExtractedText: "Jane Doe. Built a ledger service in Go."})
	require.NoError(t, err)

	assert.Equal(t, ranking.StageStatusSuccess, resume.ExtractionStatus)
	assert.Equal(t, ranking.StageStatusSuccess, resume.ParsingStatus)
	assert.Equal(t, ranking.StageStatusSuccess, resume.EmbeddingStatus)
	require.NotNil(t, resume.ParsedContent)
	assert.Equal(t, "Jane Doe", resume.ParsedContent.CandidateName)
	assert.True(t, resume.IsFullyProcessed())
}

func TestResumePipeline_Process_NoExtractableTextFailsExtraction(t *testing.T) {
	jobID := ulid.New()
	job := newTestJobWithAnalysis(jobID)
	jobs := newFakeJobRepository(job)

	resume := ranking.NewResume(jobID, "scanned.pdf")
	resumes := newFakeResumeRepository(resume)

	pipeline := NewResumePipeline(resumes, jobs, &fakeModelClient{}, NewProgressHub(), JDPipelineConfig{}, nil)

	err := pipeline.Process(context.Background(), jobID, resume.ID, ResumeInput{})
	require.Error(t, err)
	assert.Equal(t, ranking.StageStatusFailed, resume.ExtractionStatus)
	assert.Equal(t, ranking.StageStatusPending, resume.ParsingStatus, "parsing must not run once extraction failed")
}

func TestResumePipeline_Process_AlreadyProcessedIsNoOp(t *testing.T) {
	jobID := ulid.New()
	job := newTestJobWithAnalysis(jobID)
	jobs := newFakeJobRepository(job)

	resume := ranking.NewResume(jobID, "done.pdf")
	rawText := "already extracted"
	resume.RawText = &rawText
	resume.ExtractionStatus = ranking.StageStatusSuccess
	resume.ParsingStatus = ranking.StageStatusSuccess
	resume.EmbeddingStatus = ranking.StageStatusSuccess
	resume.ParsedContent = &ranking.ParsedContent{CandidateName: "Already Done"}
	resume.ResumeEmbeddings = ranking.SectionEmbeddings{ranking.SectionOverall: []ranking.Vector{{1, 0}}}
	resumes := newFakeResumeRepository(resume)

	model := &fakeModelClient{completeErr: errors.New("must not be called")}
	pipeline := NewResumePipeline(resumes, jobs, model, NewProgressHub(), JDPipelineConfig{}, nil)

	err := pipeline.Process(context.Background(), jobID, resume.ID, ResumeInput{})
	require.NoError(t, err)
	assert.Equal(t, "Already Done", resume.ParsedContent.CandidateName)
}

func floatPtr(f float64) *float64 { return &f }
