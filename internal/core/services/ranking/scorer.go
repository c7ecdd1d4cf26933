package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"brokle/internal/core/domain/ranking"
)

// defaultTauCoverage/defaultTauAlignment are the default thresholds for the
// semantic scorer's coverage/alignment formula (§4.8.3); Scorer lets the
// environment configuration override them (§6).
const (
	defaultTauCoverage  = 0.65
	defaultTauAlignment = 0.55
)

// expW is the fixed leadership/action-verb weight table for the
// experience_keywords keyword component (§4.8.2). Keys are matched as
// substrings of the normalized experience text.
var expW = map[string]float64{
	"lead": 4.0, "led": 4.0,
	"architect": 4.0, "architected": 4.0,
	"designed":       3.6,
	"built":          3.6,
	"scaled":         3.4,
	"implemented":    3.2,
	"productionized": 3.6,
	"mentored":       2.8,
	"improved":       3.0,
}

// defaultKeywordWeights is the default weight table for the nine keyword
// score components (§4.8.2); sums to 1.0.
var defaultKeywordWeights = map[string]float64{
	"required_skills":     0.18,
	"preferred_skills":    0.08,
	"weighted_keywords":   0.15,
	"experience_keywords": 0.25,
	"domain_relevance":    0.10,
	"technical_depth":     0.10,
	"project_metrics":     0.09,
	"responsibilities":    0.03,
	"education":           0.02,
}

// keywordComponentOrder fixes the summation order for determinism (§4.8.5).
var keywordComponentOrder = []string{
	"required_skills", "preferred_skills", "weighted_keywords", "experience_keywords",
	"domain_relevance", "technical_depth", "project_metrics", "responsibilities", "education",
}

// semanticSectionOrder fixes the summation order over the six sections.
var semanticSectionOrder = []string{
	ranking.SectionSkills, ranking.SectionProjects, ranking.SectionResponsibilities,
	ranking.SectionProfile, ranking.SectionEducation, ranking.SectionOverall,
}

var defaultSemanticWeights = map[string]float64{
	ranking.SectionSkills:           0.30,
	ranking.SectionProjects:         0.25,
	ranking.SectionResponsibilities: 0.20,
	ranking.SectionProfile:          0.10,
	ranking.SectionEducation:        0.05,
	ranking.SectionOverall:          0.10,
}

// ScorerConfig carries the environment-configured similarity thresholds
// (§6); zero values fall back to the spec defaults.
type ScorerConfig struct {
	TauCoverage  float64
	TauAlignment float64
}

// Scorer implements C8. It is stateless apart from its configured
// thresholds; SemanticScore returns an un-normalized raw score that the
// caller must batch-normalize across the job's candidates (§4.8.3).
type Scorer struct {
	tauCoverage  float64
	tauAlignment float64
}

func NewScorer(cfg ScorerConfig) *Scorer {
	tc := cfg.TauCoverage
	if tc == 0 {
		tc = defaultTauCoverage
	}
	ta := cfg.TauAlignment
	if ta == 0 {
		ta = defaultTauAlignment
	}
	return &Scorer{tauCoverage: tc, tauAlignment: ta}
}

// HardRequirementsScore is §4.8.1.
func (Scorer) HardRequirementsScore(compliance ranking.ComplianceResult) float64 {
	if compliance.Passed {
		return 1.0
	}
	return 0.0
}

// KeywordScore is §4.8.2: a weighted sum of nine components, optionally
// overridden by jd.Weighting (matched by component name, renormalized to
// 1.0), with the required_skills penalty rule applied last.
func (s Scorer) KeywordScore(jd *ranking.JDAnalysis, content *ranking.ParsedContent) float64 {
	weights := resolveKeywordWeights(jd.Weighting)
	skillSet := buildSkillSet(content)
	fallbackText := normalizeSkill(candidateFallbackText(content))
	experienceText := normalizeSkill(candidateExperienceText(content))

	components := map[string]float64{
		"required_skills":     fractionPresent(jd.RequiredSkills, skillSet, fallbackText),
		"preferred_skills":    fractionPresent(jd.PreferredSkills, skillSet, fallbackText),
		"weighted_keywords":   weightedKeywordFraction(jd.KeywordsWeighted, skillSet, fallbackText),
		"experience_keywords": experienceKeywordFraction(experienceText),
		"domain_relevance":    fractionPresentNormalized(jd.DomainTags, content.DomainTags),
		"technical_depth":     meanProjectMetric(content.Projects, func(m ranking.ProjectMetrics) float64 { return m.TechnicalDepth }),
		"project_metrics":     meanProjectWeightedAverage(content.Projects),
		"responsibilities":    responsibilitiesFraction(jd.Responsibilities, fallbackText+" "+experienceText),
		"education":           educationMatch(jd, content),
	}

	sum := decimal.NewFromInt(0)
	for _, name := range keywordComponentOrder {
		w := decimal.NewFromFloat(weights[name])
		c := decimal.NewFromFloat(components[name])
		sum = sum.Add(w.Mul(c))
	}
	score, _ := sum.Float64()

	if required := components["required_skills"]; required < 0.5 {
		penalty := (0.5 - required) * 0.3
		score -= penalty
	}

	return clamp01(score)
}

func resolveKeywordWeights(override map[string]float64) map[string]float64 {
	if len(override) == 0 {
		return defaultKeywordWeights
	}

	weights := make(map[string]float64, len(defaultKeywordWeights))
	for k, v := range defaultKeywordWeights {
		weights[k] = v
	}
	for k, v := range override {
		if _, ok := weights[k]; ok {
			weights[k] = v
		}
	}

	total := decimal.NewFromInt(0)
	for _, name := range keywordComponentOrder {
		total = total.Add(decimal.NewFromFloat(weights[name]))
	}
	if total.IsZero() {
		return defaultKeywordWeights
	}
	normalized := make(map[string]float64, len(weights))
	for _, name := range keywordComponentOrder {
		v, _ := decimal.NewFromFloat(weights[name]).Div(total).Float64()
		normalized[name] = v
	}
	return normalized
}

func fractionPresent(required []string, skillSet map[string]struct{}, fallbackText string) float64 {
	if len(required) == 0 {
		return 0
	}
	matched := 0
	for _, skill := range required {
		if matchesSkill(skill, skillSet, fallbackText) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func fractionPresentNormalized(required, have []string) float64 {
	if len(required) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[normalizeSkill(h)] = struct{}{}
	}
	matched := 0
	for _, r := range required {
		if _, ok := set[normalizeSkill(r)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func weightedKeywordFraction(weighted map[string]float64, skillSet map[string]struct{}, fallbackText string) float64 {
	if len(weighted) == 0 {
		return 0
	}
	keys := make([]string, 0, len(weighted))
	for k := range weighted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	num := decimal.NewFromInt(0)
	den := decimal.NewFromInt(0)
	for _, k := range keys {
		w := decimal.NewFromFloat(weighted[k])
		den = den.Add(w)
		if matchesSkill(k, skillSet, fallbackText) {
			num = num.Add(w)
		}
	}
	if den.IsZero() {
		return 0
	}
	v, _ := num.Div(den).Float64()
	return v
}

func experienceKeywordFraction(experienceText string) float64 {
	keys := make([]string, 0, len(expW))
	for k := range expW {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	num := decimal.NewFromInt(0)
	den := decimal.NewFromInt(0)
	for _, k := range keys {
		w := decimal.NewFromFloat(expW[k])
		den = den.Add(w)
		if strings.Contains(experienceText, k) {
			num = num.Add(w)
		}
	}
	if den.IsZero() {
		return 0
	}
	v, _ := num.Div(den).Float64()
	return v
}

func meanProjectMetric(projects []ranking.Project, metric func(ranking.ProjectMetrics) float64) float64 {
	if len(projects) == 0 {
		return 0
	}
	sum := decimal.NewFromInt(0)
	for _, p := range projects {
		sum = sum.Add(decimal.NewFromFloat(metric(p.Metrics)))
	}
	v, _ := sum.Div(decimal.NewFromInt(int64(len(projects)))).Float64()
	return v
}

func meanProjectWeightedAverage(projects []ranking.Project) float64 {
	if len(projects) == 0 {
		return 0
	}
	sum := decimal.NewFromInt(0)
	for _, p := range projects {
		sum = sum.Add(decimal.NewFromFloat(p.Metrics.WeightedAverage()))
	}
	v, _ := sum.Div(decimal.NewFromInt(int64(len(projects)))).Float64()
	return v
}

func responsibilitiesFraction(responsibilities []string, text string) float64 {
	var words []string
	for _, r := range responsibilities {
		for _, w := range strings.Fields(normalizeSkill(r)) {
			if len(w) > 3 {
				words = append(words, w)
			}
		}
	}
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

func educationMatch(jd *ranking.JDAnalysis, content *ranking.ParsedContent) float64 {
	_ = jd
	if len(content.Education) > 0 {
		return 1.0
	}
	return 0.0
}

func candidateExperienceText(content *ranking.ParsedContent) string {
	var b strings.Builder
	for _, e := range content.ExperienceEntries {
		b.WriteString(e.Title)
		b.WriteString(" ")
		b.WriteString(e.Description)
		b.WriteString(" ")
	}
	return b.String()
}

// SemanticScore returns the raw (un-normalized) semantic similarity score
// for one (jd, resume) pair (§4.8.3); the caller must run the result
// through NormalizeSemanticBatch across the job's full candidate set.
func (s Scorer) SemanticScore(jdEmbeddings, resumeEmbeddings ranking.SectionEmbeddings) float64 {
	weights := make(map[string]float64, len(defaultSemanticWeights))
	for k, v := range defaultSemanticWeights {
		weights[k] = v
	}

	scores := make(map[string]float64, len(semanticSectionOrder))
	activeWeight := decimal.NewFromInt(0)
	for _, section := range semanticSectionOrder {
		a := jdEmbeddings[section]
		b := resumeEmbeddings[section]
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		scores[section] = sectionSimilarityScore(a, b, s.tauCoverage, s.tauAlignment)
		activeWeight = activeWeight.Add(decimal.NewFromFloat(weights[section]))
	}
	if activeWeight.IsZero() {
		return 0
	}

	sum := decimal.NewFromInt(0)
	for _, section := range semanticSectionOrder {
		score, ok := scores[section]
		if !ok {
			continue
		}
		w, _ := decimal.NewFromFloat(weights[section]).Div(activeWeight).Float64()
		sum = sum.Add(decimal.NewFromFloat(w).Mul(decimal.NewFromFloat(score)))
	}
	v, _ := sum.Float64()
	return clamp01(v)
}

func sectionSimilarityScore(a, b []ranking.Vector, tauCoverage, tauAlignment float64) float64 {
	rowMax := make([]float64, len(a))
	colMax := make([]float64, len(b))
	best := -1.0

	for i, av := range a {
		for j, bv := range b {
			c := cosineSimilarity(av, bv)
			if c > rowMax[i] {
				rowMax[i] = c
			}
			if c > colMax[j] {
				colMax[j] = c
			}
			if c > best {
				best = c
			}
		}
	}
	if best < 0 {
		best = 0
	}

	coverage := fractionAtLeast(rowMax, tauCoverage)
	alignment := fractionAtLeast(colMax, tauAlignment)

	return 0.5*coverage + 0.4*alignment + 0.1*best
}

func fractionAtLeast(values []float64, tau float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v >= tau {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

func cosineSimilarity(a, b ranking.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeSemanticBatch min-max normalizes raw semantic scores to [0,1]
// across a job's candidate batch; if the range is zero every candidate
// receives 0.5 (§4.8.3).
func NormalizeSemanticBatch(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}

	min, max := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	rng := max - min
	if rng == 0 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range raw {
		out[i] = (v - min) / rng
	}
	return out
}

// ProjectScore is §4.8.4.
func (Scorer) ProjectScore(content *ranking.ParsedContent) float64 {
	return meanProjectWeightedAverage(content.Projects)
}

// FinalScore implements §4.8.5's composite formula and its two special
// cases. ok is false when the candidate is classified "skipped" (all three
// primitives are zero), distinct from "filtered" by compliance.
func (Scorer) FinalScore(project, semantic, keyword float64) (score float64, ok bool) {
	nonZero := 0
	var onlyNonZero float64
	for _, v := range []float64{project, semantic, keyword} {
		if v != 0 {
			nonZero++
			onlyNonZero = v
		}
	}

	if nonZero == 0 {
		return 0, false
	}
	if nonZero == 1 {
		return clamp01(onlyNonZero - 0.08), true
	}

	sum := decimal.NewFromFloat(0.35).Mul(decimal.NewFromFloat(project)).
		Add(decimal.NewFromFloat(0.35).Mul(decimal.NewFromFloat(semantic))).
		Add(decimal.NewFromFloat(0.30).Mul(decimal.NewFromFloat(keyword)))
	v, _ := sum.Float64()
	return clamp01(v), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
