package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
)

func TestComplianceFilter_Evaluate_AllMandatoryMet(t *testing.T) {
	reqs := &ranking.FilterRequirements{
		Mandatory: ranking.RequirementSet{
			"years_experience": ranking.NumericRequirement{Min: 3, Unit: "years"},
			"required_skills":  ranking.ListRequirement{Required: []string{"Go", "PostgreSQL"}},
			"location":         ranking.LocationRequirement{Required: "Remote"},
		},
	}
	years := 5.0
	content := &ranking.ParsedContent{
		YearsExperience: &years,
		Location:        "remote",
		CanonicalSkills: map[string][]string{"backend": {"Go", "PostgreSQL"}},
	}

	result := NewComplianceFilter().Evaluate(reqs, content)
	assert.True(t, result.Passed)
	assert.Equal(t, 1.0, result.Score)
	assert.Empty(t, result.Missing)
	assert.Nil(t, result.Reason)
}

func TestComplianceFilter_Evaluate_MissingSkillFailsMandatory(t *testing.T) {
	reqs := &ranking.FilterRequirements{
		Mandatory: ranking.RequirementSet{
			"required_skills": ranking.ListRequirement{Required: []string{"Go", "Rust"}},
		},
	}
	content := &ranking.ParsedContent{CanonicalSkills: map[string][]string{"backend": {"Go"}}}

	result := NewComplianceFilter().Evaluate(reqs, content)
	assert.False(t, result.Passed)
	assert.Equal(t, 0.0, result.Score)
	assert.Contains(t, result.Missing, "required_skills")
	require.NotNil(t, result.Reason)
}

func TestComplianceFilter_Evaluate_SoftRequirementNeverGates(t *testing.T) {
	reqs := &ranking.FilterRequirements{
		Mandatory: ranking.RequirementSet{},
		Soft:      ranking.RequirementSet{"nice_to_have": ranking.ListRequirement{Required: []string{"Kubernetes"}}},
	}
	content := &ranking.ParsedContent{}

	result := NewComplianceFilter().Evaluate(reqs, content)
	assert.True(t, result.Passed, "soft requirements must never gate the candidate")
	assert.Equal(t, 1.0, result.Score, "an empty mandatory set yields a score of 1.0")
	assert.False(t, result.PerRequirement["soft:nice_to_have"].Meets)
}

func TestComplianceFilter_Evaluate_SkillFallbackSubstringMatch(t *testing.T) {
	reqs := &ranking.FilterRequirements{
		Mandatory: ranking.RequirementSet{
			"required_skills": ranking.ListRequirement{Required: []string{"Kubernetes"}},
		},
	}
	content := &ranking.ParsedContent{
		Projects: []ranking.Project{{Name: "Infra", Description: "Deployed services on Kubernetes clusters"}},
	}

	result := NewComplianceFilter().Evaluate(reqs, content)
	assert.True(t, result.Passed, "a skill not in the canonical set but present in project text must match via fallback")
}

func TestComplianceFilter_Evaluate_EducationCategoryIT(t *testing.T) {
	reqs := &ranking.FilterRequirements{
		Mandatory: ranking.RequirementSet{
			"education": ranking.EducationRequirement{Category: "IT"},
		},
	}
	content := &ranking.ParsedContent{Education: []ranking.Education{{Field: "Computer Science"}}}

	result := NewComplianceFilter().Evaluate(reqs, content)
	assert.True(t, result.Passed)
}

func TestComplianceFilter_Evaluate_TextRequirementMajorityMatch(t *testing.T) {
	reqs := &ranking.FilterRequirements{
		Mandatory: ranking.RequirementSet{
			"culture_fit": ranking.TextRequirement{KeyTerms: []string{"leadership", "mentoring", "ownership", "shortw"}},
		},
	}
	content := &ranking.ParsedContent{
		ExperienceEntries: []ranking.ExperienceEntry{{Description: "Demonstrated leadership and mentoring of junior engineers"}},
	}

	result := NewComplianceFilter().Evaluate(reqs, content)
	assert.True(t, result.Passed, "2 of 4 qualifying terms (>=50%%) matched")
}

func TestComplianceFilter_Evaluate_NumericMissingValueFails(t *testing.T) {
	reqs := &ranking.FilterRequirements{
		Mandatory: ranking.RequirementSet{
			"years_experience": ranking.NumericRequirement{Min: 2},
		},
	}
	content := &ranking.ParsedContent{}

	result := NewComplianceFilter().Evaluate(reqs, content)
	assert.False(t, result.Passed)
}
