package ranking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

func scoreResultWithFinal(jobID, resumeID ulid.ULID, final float64) *ranking.ScoreResult {
	sr := ranking.NewScoreResult(jobID, resumeID)
	sr.FinalScore = &final
	sr.Compliance = ranking.ComplianceResult{Passed: true}
	return sr
}

func TestRanker_Rank_DisabledUsesFinalScoreOrder(t *testing.T) {
	jobID := ulid.New()
	a, b, c := ulid.New(), ulid.New(), ulid.New()

	candidates := []RankCandidate{
		{ResumeID: a, ScoreResult: scoreResultWithFinal(jobID, a, 0.5), ParsedContent: &ranking.ParsedContent{}},
		{ResumeID: b, ScoreResult: scoreResultWithFinal(jobID, b, 0.9), ParsedContent: &ranking.ParsedContent{}},
		{ResumeID: c, ScoreResult: scoreResultWithFinal(jobID, c, 0.7), ParsedContent: &ranking.ParsedContent{}},
	}

	ranker := NewRanker(&fakeModelClient{}, RankerConfig{Enabled: false}, nil)
	results, err := ranker.Rank(context.Background(), jobID, &ranking.JDAnalysis{}, nil, candidates)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, b, results[0].ResumeID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, c, results[1].ResumeID)
	assert.Equal(t, a, results[2].ResumeID)
	assert.Equal(t, 0.5, results[2].AdjustedScore, "with rerank disabled, adjusted_score falls back to final_score")
}

func TestRanker_Rank_EnabledAppliesLLMRerankScore(t *testing.T) {
	jobID := ulid.New()
	a, b := ulid.New(), ulid.New()

	candidates := []RankCandidate{
		{ResumeID: a, ScoreResult: scoreResultWithFinal(jobID, a, 0.9), ParsedContent: &ranking.ParsedContent{}},
		{ResumeID: b, ScoreResult: scoreResultWithFinal(jobID, b, 0.5), ParsedContent: &ranking.ParsedContent{}},
	}

	model := &fakeModelClient{completeResponses: map[string]interface{}{
		schemaRerankCandidates: rerankResponse{Candidates: []rerankResponseItem{
			{CandidateID: a.String(), LLMRerankScore: 0.2},
			{CandidateID: b.String(), LLMRerankScore: 0.95},
		}},
	}}

	ranker := NewRanker(model, RankerConfig{Enabled: true, BatchSize: 30}, nil)
	results, err := ranker.Rank(context.Background(), jobID, &ranking.JDAnalysis{}, nil, candidates)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, b, results[0].ResumeID, "the LLM rerank score must reorder candidates ahead of their prior final_score rank")
	assert.Equal(t, 0.95, results[0].AdjustedScore)
	assert.Equal(t, a, results[1].ResumeID)
}

func TestRanker_Rank_BatchFailureFallsBackToFinalScore(t *testing.T) {
	jobID := ulid.New()
	a, b := ulid.New(), ulid.New()

	candidates := []RankCandidate{
		{ResumeID: a, ScoreResult: scoreResultWithFinal(jobID, a, 0.9), ParsedContent: &ranking.ParsedContent{}},
		{ResumeID: b, ScoreResult: scoreResultWithFinal(jobID, b, 0.5), ParsedContent: &ranking.ParsedContent{}},
	}

	model := &fakeModelClient{completeErr: assert.AnError}
	ranker := NewRanker(model, RankerConfig{Enabled: true, BatchSize: 30}, nil)

	results, err := ranker.Rank(context.Background(), jobID, &ranking.JDAnalysis{}, nil, candidates)
	require.NoError(t, err, "a failed batch must not fail the whole ranking")
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].ResumeID)
	assert.Equal(t, 0.9, results[0].AdjustedScore)
}

func TestRanker_Rank_TieBreaksByFinalScoreThenCandidateID(t *testing.T) {
	jobID := ulid.New()
	a, b := ulid.New(), ulid.New()
	if a.String() > b.String() {
		a, b = b, a
	}

	candidates := []RankCandidate{
		{ResumeID: b, ScoreResult: scoreResultWithFinal(jobID, b, 0.5), ParsedContent: &ranking.ParsedContent{}},
		{ResumeID: a, ScoreResult: scoreResultWithFinal(jobID, a, 0.5), ParsedContent: &ranking.ParsedContent{}},
	}

	ranker := NewRanker(&fakeModelClient{}, RankerConfig{Enabled: false}, nil)
	results, err := ranker.Rank(context.Background(), jobID, &ranking.JDAnalysis{}, nil, candidates)
	require.NoError(t, err)

	assert.Equal(t, a, results[0].ResumeID, "on a full tie, the lexicographically smaller candidate_id must sort first")
}

func TestRanker_Rank_EmptyInputReturnsEmpty(t *testing.T) {
	ranker := NewRanker(&fakeModelClient{}, RankerConfig{}, nil)
	results, err := ranker.Rank(context.Background(), ulid.New(), &ranking.JDAnalysis{}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
