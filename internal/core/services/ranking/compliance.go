package ranking

import (
	"fmt"
	"strings"

	"brokle/internal/core/domain/ranking"
)

// itEducationFields is the fixed set education.field must substring-match
// (case-insensitively) for an EducationRequirement's category="IT" (§4.7).
var itEducationFields = []string{
	"computer science", "cs", "cse", "computer engineering",
	"information technology", "it", "software engineering",
	"data science", "ai", "ml", "artificial intelligence",
}

// ComplianceFilter implements C7: given a Job's typed filter_requirements
// and a Resume's parsed content, decides pass/fail with a per-requirement
// explanation. It holds no state and has no external dependencies: every
// predicate is pure.
type ComplianceFilter struct{}

func NewComplianceFilter() *ComplianceFilter { return &ComplianceFilter{} }

// Evaluate runs every mandatory and soft requirement against content and
// returns the aggregate compliance result (§4.7).
func (ComplianceFilter) Evaluate(reqs *ranking.FilterRequirements, content *ranking.ParsedContent) ranking.ComplianceResult {
	skillSet := buildSkillSet(content)
	fallbackText := normalizeSkill(candidateFallbackText(content))

	var met, missing []string
	perRequirement := make(map[string]ranking.RequirementResult)

	specified := 0
	if reqs != nil {
		for name, req := range reqs.Mandatory {
			if req == nil {
				continue
			}
			specified++
			result := evaluateRequirement(name, req, content, skillSet, fallbackText)
			perRequirement[name] = result
			if result.Meets {
				met = append(met, name)
			} else {
				missing = append(missing, name)
			}
		}
		for name, req := range reqs.Soft {
			if req == nil {
				continue
			}
			result := evaluateRequirement(name, req, content, skillSet, fallbackText)
			perRequirement["soft:"+name] = result
		}
	}

	passed := len(missing) == 0
	score := 1.0
	if specified > 0 {
		score = float64(len(met)) / float64(specified)
	}

	var reason *string
	if !passed {
		reason = complianceReason(missing, perRequirement)
	}

	return ranking.ComplianceResult{
		Passed:         passed,
		Score:          score,
		Met:            met,
		Missing:        missing,
		Reason:         reason,
		PerRequirement: perRequirement,
	}
}

func complianceReason(missing []string, perRequirement map[string]ranking.RequirementResult) *string {
	limit := len(missing)
	if limit > 3 {
		limit = 3
	}
	details := make([]string, 0, limit)
	for _, name := range missing[:limit] {
		details = append(details, perRequirement[name].Detail)
	}
	reason := strings.Join(details, "; ")
	return &reason
}

func evaluateRequirement(name string, req ranking.Requirement, content *ranking.ParsedContent, skillSet map[string]struct{}, fallbackText string) ranking.RequirementResult {
	switch r := req.(type) {
	case ranking.NumericRequirement:
		return evalNumeric(r, content)
	case ranking.ListRequirement:
		return evalList(r, skillSet, fallbackText)
	case ranking.LocationRequirement:
		return evalLocation(r, content)
	case ranking.EducationRequirement:
		return evalEducation(r, content)
	case ranking.TextRequirement:
		return evalText(r, content)
	case ranking.BooleanRequirement:
		return evalBoolean(name, r, content)
	default:
		return ranking.RequirementResult{Meets: false, Detail: "unknown requirement type"}
	}
}

func evalNumeric(r ranking.NumericRequirement, content *ranking.ParsedContent) ranking.RequirementResult {
	if content.YearsExperience == nil {
		return ranking.RequirementResult{Meets: false, Detail: fmt.Sprintf("candidate value missing, required >= %g %s", r.Min, r.Unit)}
	}
	if *content.YearsExperience >= r.Min {
		return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("%g %s >= %g required", *content.YearsExperience, r.Unit, r.Min)}
	}
	return ranking.RequirementResult{Meets: false, Detail: fmt.Sprintf("%g %s < %g required", *content.YearsExperience, r.Unit, r.Min)}
}

func evalList(r ranking.ListRequirement, skillSet map[string]struct{}, fallbackText string) ranking.RequirementResult {
	var missing []string
	for _, required := range r.Required {
		if !matchesSkill(required, skillSet, fallbackText) {
			missing = append(missing, required)
		}
	}
	if len(missing) == 0 {
		return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("all %d required skills matched", len(r.Required))}
	}
	return ranking.RequirementResult{Meets: false, Detail: fmt.Sprintf("missing: %s", strings.Join(missing, ", "))}
}

func evalLocation(r ranking.LocationRequirement, content *ranking.ParsedContent) ranking.RequirementResult {
	required := normalizeSkill(r.Required)
	candidate := normalizeSkill(content.Location)

	if required == "any" {
		return ranking.RequirementResult{Meets: true, Detail: "any location accepted"}
	}
	if required == "remote" && candidate == "remote" {
		return ranking.RequirementResult{Meets: true, Detail: "both remote"}
	}
	if candidate != "" && (strings.Contains(required, candidate) || strings.Contains(candidate, required)) {
		return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("%q matches %q", content.Location, r.Required)}
	}
	return ranking.RequirementResult{Meets: false, Detail: fmt.Sprintf("%q does not match required %q", content.Location, r.Required)}
}

func evalEducation(r ranking.EducationRequirement, content *ranking.ParsedContent) ranking.RequirementResult {
	for _, edu := range content.Education {
		field := normalizeSkill(edu.Field)

		if len(r.RequiredFields) > 0 {
			for _, want := range r.RequiredFields {
				if strings.Contains(field, normalizeSkill(want)) {
					return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("education field %q matches %q", edu.Field, want)}
				}
			}
		}

		if strings.EqualFold(r.Category, "IT") && matchesAnySubstring(field, itEducationFields) {
			if matchesExclusion(field, r.Excluded) {
				continue
			}
			return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("education field %q is IT", edu.Field)}
		}
		if strings.EqualFold(r.Category, "non-IT") && !matchesAnySubstring(field, itEducationFields) {
			if matchesExclusion(field, r.Excluded) {
				continue
			}
			return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("education field %q is non-IT", edu.Field)}
		}

		if len(r.Allowed) > 0 && matchesAnySubstring(field, r.Allowed) && !matchesExclusion(field, r.Excluded) {
			return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("education field %q is allowed", edu.Field)}
		}
	}
	return ranking.RequirementResult{Meets: false, Detail: "no education entry satisfies the requirement"}
}

func matchesAnySubstring(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, normalizeSkill(n)) {
			return true
		}
	}
	return false
}

func matchesExclusion(field string, excluded []string) bool {
	return len(excluded) > 0 && matchesAnySubstring(field, excluded)
}

func evalText(r ranking.TextRequirement, content *ranking.ParsedContent) ranking.RequirementResult {
	var terms []string
	for _, t := range r.KeyTerms {
		if len(t) > 3 {
			terms = append(terms, normalizeSkill(t))
		}
	}
	if len(terms) == 0 {
		return ranking.RequirementResult{Meets: true, Detail: "no qualifying key terms (length > 3)"}
	}

	text := normalizeSkill(candidateFallbackText(content))
	matched := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			matched++
		}
	}

	if float64(matched)/float64(len(terms)) >= 0.5 {
		return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("%d/%d key terms matched", matched, len(terms))}
	}
	if len(terms) >= 2 && strings.Contains(text, terms[0]) && strings.Contains(text, terms[1]) {
		return ranking.RequirementResult{Meets: true, Detail: "first two key terms both matched"}
	}
	return ranking.RequirementResult{Meets: false, Detail: fmt.Sprintf("only %d/%d key terms matched", matched, len(terms))}
}

// evalBoolean resolves the candidate's boolean value for a named
// requirement (e.g. "security_clearance", "visa_sponsorship_ok") from the
// parser's free-form domain_tags: ParsedContent has no generic boolean
// field, so the requirement's own name is looked up as a tag, normalized
// the same way skills are (§4.7's "normalized form" rule applies equally
// here; this is the one requirement type the parser schema does not
// dedicate a field to).
func evalBoolean(name string, r ranking.BooleanRequirement, content *ranking.ParsedContent) ranking.RequirementResult {
	candidate := false
	tag := normalizeSkill(name)
	for _, t := range content.DomainTags {
		if normalizeSkill(t) == tag {
			candidate = true
			break
		}
	}
	if candidate == r.Required {
		return ranking.RequirementResult{Meets: true, Detail: fmt.Sprintf("candidate value %v matches required %v", candidate, r.Required)}
	}
	return ranking.RequirementResult{Meets: false, Detail: fmt.Sprintf("candidate value %v does not match required %v", candidate, r.Required)}
}

// buildSkillSet is the union skill-matching source set from §4.7: every
// canonical_skills value, every inferred skill, every proficiency skill,
// and every project's tech_keywords/primary_skills, normalized.
func buildSkillSet(content *ranking.ParsedContent) map[string]struct{} {
	set := make(map[string]struct{})
	add := func(s string) {
		if s == "" {
			return
		}
		set[normalizeSkill(s)] = struct{}{}
	}

	for _, skills := range content.CanonicalSkills {
		for _, s := range skills {
			add(s)
		}
	}
	for _, s := range content.InferredSkills {
		add(s.Skill)
	}
	for _, s := range content.SkillProficiency {
		add(s.Skill)
	}
	for _, proj := range content.Projects {
		for _, s := range proj.TechKeywords {
			add(s)
		}
		for _, s := range proj.PrimarySkills {
			add(s)
		}
	}
	return set
}

// candidateFallbackText concatenates every free-text field a substring
// fallback search (or a TextRequirement) might match against.
func candidateFallbackText(content *ranking.ParsedContent) string {
	var b strings.Builder
	for _, proj := range content.Projects {
		b.WriteString(proj.Name)
		b.WriteString(" ")
		b.WriteString(proj.Description)
		b.WriteString(" ")
	}
	for _, e := range content.ExperienceEntries {
		b.WriteString(e.Title)
		b.WriteString(" ")
		b.WriteString(e.Company)
		b.WriteString(" ")
		b.WriteString(e.Description)
		b.WriteString(" ")
	}
	return b.String()
}

// matchesSkill checks skill against the union source set first, falling
// back to a substring search over projects/experience text (§4.7).
func matchesSkill(skill string, skillSet map[string]struct{}, fallbackText string) bool {
	normalized := normalizeSkill(skill)
	if _, ok := skillSet[normalized]; ok {
		return true
	}
	return normalized != "" && strings.Contains(fallbackText, normalized)
}
