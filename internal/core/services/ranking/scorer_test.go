package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brokle/internal/core/domain/ranking"
)

func TestScorer_HardRequirementsScore(t *testing.T) {
	s := NewScorer(ScorerConfig{})
	assert.Equal(t, 1.0, s.HardRequirementsScore(ranking.ComplianceResult{Passed: true}))
	assert.Equal(t, 0.0, s.HardRequirementsScore(ranking.ComplianceResult{Passed: false}))
}

func TestScorer_KeywordScore_FullMatchScoresHigh(t *testing.T) {
	jd := &ranking.JDAnalysis{
		RequiredSkills:   []string{"Go", "PostgreSQL"},
		PreferredSkills:  []string{"Kubernetes"},
		DomainTags:       []string{"fintech"},
		Responsibilities: []string{"design scalable systems"},
	}
	content := &ranking.ParsedContent{
		CanonicalSkills: map[string][]string{"backend": {"Go", "PostgreSQL", "Kubernetes"}},
		DomainTags:      []string{"fintech"},
		Education:       []ranking.Education{{Field: "Computer Science"}},
		ExperienceEntries: []ranking.ExperienceEntry{
			{Title: "Staff Engineer", Description: "Designed and scaled distributed systems"},
		},
		Projects: []ranking.Project{{Metrics: ranking.ProjectMetrics{TechnicalDepth: 0.9, Difficulty: 0.8}}},
	}

	score := NewScorer(ScorerConfig{}).KeywordScore(jd, content)
	assert.InDelta(t, 0.5820, score, 1e-3, "skills, domain and education fully matched; no weighted keywords and 3 of 11 action verbs present")
	assert.LessOrEqual(t, score, 1.0)
}

func TestScorer_KeywordScore_PenalizesLowRequiredSkillMatch(t *testing.T) {
	jd := &ranking.JDAnalysis{RequiredSkills: []string{"Go", "Rust", "C++", "Java"}}
	content := &ranking.ParsedContent{CanonicalSkills: map[string][]string{"backend": {"Go"}}}

	score := NewScorer(ScorerConfig{}).KeywordScore(jd, content)
	assert.GreaterOrEqual(t, score, 0.0, "the penalty must clamp at 0, never go negative")
}

func TestScorer_KeywordScore_WeightingOverrideIsRenormalized(t *testing.T) {
	jd := &ranking.JDAnalysis{
		RequiredSkills: []string{"Go"},
		Weighting:      map[string]float64{"required_skills": 1.0},
	}
	content := &ranking.ParsedContent{CanonicalSkills: map[string][]string{"backend": {"Go"}}}

	score := NewScorer(ScorerConfig{}).KeywordScore(jd, content)
	assert.InDelta(t, 1.0/1.82, score, 1e-9, "the override replaces only required_skills' weight (0.18 -> 1.0); the total 1.82 is renormalized to 1")
}

func unitVec(dims ...float64) ranking.Vector {
	return ranking.Vector(dims)
}

func TestScorer_SemanticScore_IdenticalSectionsScoreMax(t *testing.T) {
	jd := ranking.SectionEmbeddings{
		ranking.SectionSkills:   {unitVec(1, 0)},
		ranking.SectionProjects: {unitVec(1, 0)},
	}
	resume := ranking.SectionEmbeddings{
		ranking.SectionSkills:   {unitVec(1, 0)},
		ranking.SectionProjects: {unitVec(1, 0)},
	}

	score := NewScorer(ScorerConfig{}).SemanticScore(jd, resume)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestScorer_SemanticScore_MissingSectionsRenormalizeWeights(t *testing.T) {
	jd := ranking.SectionEmbeddings{ranking.SectionSkills: {unitVec(1, 0)}}
	resume := ranking.SectionEmbeddings{ranking.SectionSkills: {unitVec(1, 0)}}

	score := NewScorer(ScorerConfig{}).SemanticScore(jd, resume)
	assert.InDelta(t, 1.0, score, 1e-9, "with only one section present on both sides, its weight is the entire normalized total")
}

func TestScorer_SemanticScore_OrthogonalSectionsScoreLow(t *testing.T) {
	jd := ranking.SectionEmbeddings{ranking.SectionSkills: {unitVec(1, 0)}}
	resume := ranking.SectionEmbeddings{ranking.SectionSkills: {unitVec(0, 1)}}

	score := NewScorer(ScorerConfig{}).SemanticScore(jd, resume)
	assert.InDelta(t, 0.0, score, 1e-9)
}

func TestNormalizeSemanticBatch_MinMax(t *testing.T) {
	out := NormalizeSemanticBatch([]float64{0.2, 0.6, 0.4})
	assert.InDelta(t, 0.0, out[0], 1e-9)
	assert.InDelta(t, 1.0, out[1], 1e-9)
	assert.InDelta(t, 0.5, out[2], 1e-9)
}

func TestNormalizeSemanticBatch_ZeroRangeYieldsHalf(t *testing.T) {
	out := NormalizeSemanticBatch([]float64{0.5, 0.5, 0.5})
	for _, v := range out {
		assert.Equal(t, 0.5, v)
	}
}

func TestScorer_ProjectScore_EmptyIsZero(t *testing.T) {
	score := NewScorer(ScorerConfig{}).ProjectScore(&ranking.ParsedContent{})
	assert.Equal(t, 0.0, score)
}

func TestScorer_ProjectScore_MeanOfWeightedAverages(t *testing.T) {
	content := &ranking.ParsedContent{Projects: []ranking.Project{
		{Metrics: ranking.ProjectMetrics{Difficulty: 1, Novelty: 1, SkillRelevance: 1, Complexity: 1, TechnicalDepth: 1, DomainRelevance: 1, ExecutionQuality: 1}},
		{Metrics: ranking.ProjectMetrics{}},
	}}
	score := NewScorer(ScorerConfig{}).ProjectScore(content)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestScorer_FinalScore_AllZeroIsSkipped(t *testing.T) {
	_, ok := NewScorer(ScorerConfig{}).FinalScore(0, 0, 0)
	assert.False(t, ok)
}

func TestScorer_FinalScore_SingleNonZeroAppliesPenalty(t *testing.T) {
	score, ok := NewScorer(ScorerConfig{}).FinalScore(0.5, 0, 0)
	assert.True(t, ok)
	assert.InDelta(t, 0.42, score, 1e-9)
}

func TestScorer_FinalScore_SingleNonZeroClampsAtZero(t *testing.T) {
	score, ok := NewScorer(ScorerConfig{}).FinalScore(0.05, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, 0.0, score)
}

func TestScorer_FinalScore_CompositeWeighting(t *testing.T) {
	score, ok := NewScorer(ScorerConfig{}).FinalScore(1.0, 1.0, 1.0)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-9)

	score, ok = NewScorer(ScorerConfig{}).FinalScore(0.5, 0.5, 0.5)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, score, 1e-9)
}
