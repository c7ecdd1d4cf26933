package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

// copyViaJSON round-trips src into dst through JSON, standing in for a real
// provider's wire decoding in pipeline tests.
func copyViaJSON(src, dst interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

type fakeJobRepository struct {
	jobs map[ulid.ULID]*ranking.Job
}

func newFakeJobRepository(job *ranking.Job) *fakeJobRepository {
	return &fakeJobRepository{jobs: map[ulid.ULID]*ranking.Job{job.ID: job}}
}

func (f *fakeJobRepository) Create(_ context.Context, job *ranking.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobRepository) GetByID(_ context.Context, id ulid.ULID) (*ranking.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, ranking.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobRepository) UpdateStatus(_ context.Context, id ulid.ULID, status ranking.JobStatus, errorMessage *string) error {
	job, ok := f.jobs[id]
	if !ok {
		return ranking.ErrJobNotFound
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	return nil
}

func (f *fakeJobRepository) SetLocked(_ context.Context, id ulid.ULID, locked bool) error {
	job, ok := f.jobs[id]
	if !ok {
		return ranking.ErrJobNotFound
	}
	job.Locked = locked
	return nil
}

func (f *fakeJobRepository) ReplaceAnalysis(_ context.Context, id ulid.ULID, analysis *ranking.JDAnalysis) error {
	job, ok := f.jobs[id]
	if !ok {
		return ranking.ErrJobNotFound
	}
	job.JDAnalysis = analysis
	return nil
}

func (f *fakeJobRepository) ReplaceEmbeddings(_ context.Context, id ulid.ULID, embeddings ranking.SectionEmbeddings) error {
	job, ok := f.jobs[id]
	if !ok {
		return ranking.ErrJobNotFound
	}
	job.JDEmbeddings = embeddings
	return nil
}

func (f *fakeJobRepository) ReplaceFilterRequirements(_ context.Context, id ulid.ULID, reqs *ranking.FilterRequirements) error {
	job, ok := f.jobs[id]
	if !ok {
		return ranking.ErrJobNotFound
	}
	job.FilterRequirements = reqs
	return nil
}

func (f *fakeJobRepository) Delete(_ context.Context, id ulid.ULID) error {
	delete(f.jobs, id)
	return nil
}

var _ ranking.JobRepository = (*fakeJobRepository)(nil)

// fakeModelClient drives Complete/Embed from canned responses keyed by
// schema name, so pipeline tests never depend on a real provider.
type fakeModelClient struct {
	completeResponses map[string]interface{}
	completeErr       error
	embedErr          error
}

func (f *fakeModelClient) Complete(_ context.Context, schemaName, _ string, result interface{}, _ ranking.CompletionBudget) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	resp, ok := f.completeResponses[schemaName]
	if !ok {
		return errors.New("fakeModelClient: no canned response for schema " + schemaName)
	}
	return copyViaJSON(resp, result)
}

func (f *fakeModelClient) Embed(_ context.Context, texts []string, _ string) ([]ranking.Vector, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vectors := make([]ranking.Vector, len(texts))
	for i := range texts {
		vectors[i] = ranking.Vector{1, 0, 0}
	}
	return vectors, nil
}

var _ ranking.ModelClient = (*fakeModelClient)(nil)

func TestJDPipeline_Process_HappyPath(t *testing.T) {
	jobID := ulid.New()
	job := ranking.NewJob("Staff Engineer")
	job.ID = jobID
	rawText := "We need a staff engineer with ML and RAG experience."
	job.RawJDText = &rawText

	jobs := newFakeJobRepository(job)
	model := &fakeModelClient{completeResponses: map[string]interface{}{
		schemaParseJD: jdParseResult{
			RoleTitle:      "Staff Engineer",
			RequiredSkills: []string{"ML", "Go"},
			DomainTags:     []string{"fintech"},
		},
		schemaParseCompliance: complianceParseResult{
			Mandatory: ranking.RequirementSet{"years_experience": ranking.NumericRequirement{Min: 5}},
			Soft:      ranking.RequirementSet{},
		},
	}}
	hub := NewProgressHub()
	pipeline := NewJDPipeline(jobs, model, hub, JDPipelineConfig{EmbeddingModel: "test-embed"}, nil)

	events, unsubscribe := hub.Subscribe(context.Background(), jobID)
	defer unsubscribe()

	err := pipeline.Process(context.Background(), jobID, JDInput{MandatoryPrompt: "5+ years experience"})
	require.NoError(t, err)

	assert.Equal(t, ranking.JobStatusCompleted, job.Status)
	assert.True(t, job.Locked)
	require.NotNil(t, job.JDAnalysis)
	assert.Equal(t, []string{"Machine Learning", "Go"}, job.JDAnalysis.RequiredSkills)
	require.NotNil(t, job.FilterRequirements)
	assert.Contains(t, job.FilterRequirements.Mandatory, "years_experience")
	assert.True(t, job.JDEmbeddings.HasAllSections())

	var sawCompletion bool
	for {
		select {
		case e := <-events:
			if e.Stage == "persist" && e.Percent == 100 {
				sawCompletion = true
			}
		default:
			goto done
		}
	}
done:
	assert.True(t, sawCompletion, "expected a final persist/100%% progress event")
}

func TestJDPipeline_Process_EmptyTextFailsJob(t *testing.T) {
	jobID := ulid.New()
	job := ranking.NewJob("Empty JD")
	job.ID = jobID

	jobs := newFakeJobRepository(job)
	model := &fakeModelClient{}
	pipeline := NewJDPipeline(jobs, model, NewProgressHub(), JDPipelineConfig{}, nil)

	err := pipeline.Process(context.Background(), jobID, JDInput{})
	require.Error(t, err)
	assert.Equal(t, ranking.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
}

func TestJDPipeline_Process_ModelFailureFailsJobButKeepsLock(t *testing.T) {
	jobID := ulid.New()
	job := ranking.NewJob("Some Role")
	job.ID = jobID
	rawText := "Some JD text."
	job.RawJDText = &rawText

	jobs := newFakeJobRepository(job)
	model := &fakeModelClient{completeErr: errors.New("provider unavailable")}
	pipeline := NewJDPipeline(jobs, model, NewProgressHub(), JDPipelineConfig{}, nil)

	err := pipeline.Process(context.Background(), jobID, JDInput{})
	require.Error(t, err)
	assert.Equal(t, ranking.JobStatusFailed, job.Status)
	assert.True(t, job.Locked, "a job that failed mid-pipeline remains locked; its JD inputs must not become mutable again")
}
