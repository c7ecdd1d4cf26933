package ranking

import (
	"regexp"
	"strings"
)

// sentenceMinChars is the default floor for the sentence splitter; the
// orchestrator config may override this per §6.
const sentenceMinChars = 3

// overallSectionMaxChars bounds the `overall` section before embedding, per
// §4.5.4/§4.6.3.
const overallSectionMaxChars = 8000

var sentenceBoundary = regexp.MustCompile(`[.?!]+\s+`)

// splitSentences is the deterministic sentence splitter shared by the JD and
// resume embed stages: split on [.?!] followed by whitespace, trim, discard
// empties and anything shorter than minChars.
func splitSentences(text string, minChars int) []string {
	if minChars <= 0 {
		minChars = sentenceMinChars
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	raw := sentenceBoundary.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if len(s) < minChars {
			continue
		}
		out = append(out, s)
	}
	return out
}

// truncate clamps text to at most n runes, used for the `overall` section.
func truncate(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

// normalizeSkill lowercases and collapses internal whitespace, the
// normalized form every skill/requirement comparison is done on (§4.7).
func normalizeSkill(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// skillCanon is the deterministic lookup table for skill-mention
// canonicalization (§4.5.2). Keys are matched case-insensitively against
// the normalized form; the prompt-supplied canonicalization (if the model
// already expanded an abbreviation) always wins, this table is a fallback
// applied to whatever the model returned.
var skillCanon = map[string]string{
	"ml":     "Machine Learning",
	"ai":     "Artificial Intelligence",
	"rag":    "Retrieval Augmented Generation",
	"nlp":    "Natural Language Processing",
	"cv":     "Computer Vision",
	"llm":    "Large Language Model",
	"llms":   "Large Language Models",
	"k8s":    "Kubernetes",
	"js":     "JavaScript",
	"ts":     "TypeScript",
	"db":     "Database",
	"ci/cd":  "Continuous Integration/Continuous Deployment",
	"cicd":   "Continuous Integration/Continuous Deployment",
	"oop":    "Object-Oriented Programming",
	"api":    "API",
	"rest":   "REST",
	"sql":    "SQL",
	"nosql":  "NoSQL",
	"aws":    "Amazon Web Services",
	"gcp":    "Google Cloud Platform",
	"azure":  "Microsoft Azure",
	"ui":     "User Interface",
	"ux":     "User Experience",
}

// canonicalizeSkill applies the deterministic lookup table to one skill
// mention, leaving anything not in the table unchanged (the model's own
// canonicalization is trusted in that case).
func canonicalizeSkill(s string) string {
	key := normalizeSkill(s)
	if canon, ok := skillCanon[key]; ok {
		return canon
	}
	return s
}

// canonicalizeSkills maps canonicalizeSkill over a slice, preserving order
// and dropping empties after trimming.
func canonicalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, canonicalizeSkill(s))
	}
	return out
}

// canonicalizeSkillMap canonicalizes every value slice of a category->skills
// map (jd_analysis.canonical_skills / parsed_content.canonical_skills),
// leaving keys (category names) untouched.
func canonicalizeSkillMap(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for category, skills := range m {
		out[category] = canonicalizeSkills(skills)
	}
	return out
}
