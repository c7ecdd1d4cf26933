package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

const schemaRerankCandidates = "rerank_candidates"

// defaultRerankBatchSize is the §4.9/§6 default; batches larger than this
// are split before any ModelClient.Complete call is issued.
const defaultRerankBatchSize = 30

// RankerConfig carries the environment-configured knobs for C9 (§6).
type RankerConfig struct {
	BatchSize int
	Enabled   bool
}

// RankCandidate bundles one compliant, scored resume with what the LLM
// re-rank prompt needs to summarize it.
type RankCandidate struct {
	ResumeID      ulid.ULID
	ScoreResult   *ranking.ScoreResult
	ParsedContent *ranking.ParsedContent
}

// RankedResult is one candidate's final position after re-rank.
type RankedResult struct {
	ResumeID      ulid.ULID
	Rank          int
	AdjustedScore float64
}

// Ranker implements C9: batched LLM re-rank over compliant, scored
// candidates, producing the job's final dense ordering.
type Ranker struct {
	model  ranking.ModelClient
	cfg    RankerConfig
	logger *slog.Logger
}

func NewRanker(model ranking.ModelClient, cfg RankerConfig, logger *slog.Logger) *Ranker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRerankBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{model: model, cfg: cfg, logger: logger}
}

type candidateSummaryDTO struct {
	CandidateID     string                              `json:"candidate_id"`
	Scores          rankScoresDTO                        `json:"scores"`
	YearsExperience *float64                            `json:"years_experience,omitempty"`
	Location        string                               `json:"location,omitempty"`
	TopSkills       []string                             `json:"top_skills"`
	TopProjects     []string                              `json:"top_projects"`
	PerRequirement  map[string]ranking.RequirementResult `json:"compliance_per_requirement"`
}

type rankScoresDTO struct {
	Project   float64 `json:"project_score"`
	Keyword   float64 `json:"keyword_score"`
	Semantic  float64 `json:"semantic_score"`
	Final     float64 `json:"final_score"`
}

type rerankBatchRequest struct {
	JDSummary          string                 `json:"jd_summary"`
	FilterRequirements *ranking.FilterRequirements `json:"filter_requirements"`
	Candidates         []candidateSummaryDTO  `json:"candidates"`
}

type rerankResponseItem struct {
	CandidateID         string   `json:"candidate_id"`
	LLMRerankScore       float64  `json:"llm_rerank_score"`
	MeetsRequirements    bool     `json:"meets_requirements"`
	RequirementsMet      []string `json:"requirements_met"`
	RequirementsMissing  []string `json:"requirements_missing"`
}

type rerankResponse struct {
	Candidates []rerankResponseItem `json:"candidates"`
}

// Rank runs the full §4.9 procedure over candidates (which must already be
// restricted to compliance.Passed=true and FinalScore != nil) and returns
// the final dense 1..|candidates| ordering.
func (r *Ranker) Rank(ctx context.Context, jobID ulid.ULID, jd *ranking.JDAnalysis, filterReqs *ranking.FilterRequirements, candidates []RankCandidate) ([]RankedResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ordered := make([]RankCandidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return *ordered[i].ScoreResult.FinalScore > *ordered[j].ScoreResult.FinalScore
	})

	adjusted := make(map[ulid.ULID]float64, len(ordered))
	for _, c := range ordered {
		adjusted[c.ResumeID] = *c.ScoreResult.FinalScore
	}

	if r.cfg.Enabled {
		for start := 0; start < len(ordered); start += r.cfg.BatchSize {
			end := start + r.cfg.BatchSize
			if end > len(ordered) {
				end = len(ordered)
			}
			batch := ordered[start:end]

			scores, err := r.rerankBatch(ctx, jobID, jd, filterReqs, batch)
			if err != nil {
				r.logger.Warn("ranker: batch rerank failed, falling back to final_score", "job_id", jobID.String(), "batch_start", start, "error", err)
				continue
			}
			for id, score := range scores {
				adjusted[id] = score
			}
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		ai, aj := adjusted[ordered[i].ResumeID], adjusted[ordered[j].ResumeID]
		if ai != aj {
			return ai > aj
		}
		fi, fj := *ordered[i].ScoreResult.FinalScore, *ordered[j].ScoreResult.FinalScore
		if fi != fj {
			return fi > fj
		}
		return ordered[i].ResumeID.String() < ordered[j].ResumeID.String()
	})

	results := make([]RankedResult, len(ordered))
	for i, c := range ordered {
		results[i] = RankedResult{ResumeID: c.ResumeID, Rank: i + 1, AdjustedScore: adjusted[c.ResumeID]}
	}
	return results, nil
}

// rerankBatch issues one ModelClient.Complete call for batch and returns
// the llm_rerank_score per candidate ID present in the response; missing
// candidates are simply absent from the returned map (the caller keeps
// their final_score as the adjusted score, §4.9 step 5).
func (r *Ranker) rerankBatch(ctx context.Context, jobID ulid.ULID, jd *ranking.JDAnalysis, filterReqs *ranking.FilterRequirements, batch []RankCandidate) (map[ulid.ULID]float64, error) {
	req := rerankBatchRequest{
		JDSummary:          jdSummaryText(jd),
		FilterRequirements: filterReqs,
		Candidates:         make([]candidateSummaryDTO, len(batch)),
	}
	for i, c := range batch {
		req.Candidates[i] = buildCandidateSummary(c)
	}

	prompt := buildRerankPrompt(req)
	var resp rerankResponse
	budget := ranking.CompletionBudget{Deadline: defaultChatDeadline}
	if err := r.model.Complete(ctx, schemaRerankCandidates, prompt, &resp, budget); err != nil {
		return nil, fmt.Errorf("ranker: rerank batch of %d: %w", len(batch), err)
	}

	inBatch := make(map[string]struct{}, len(batch))
	for _, c := range batch {
		inBatch[c.ResumeID.String()] = struct{}{}
	}

	scores := make(map[ulid.ULID]float64, len(resp.Candidates))
	for _, item := range resp.Candidates {
		if _, ok := inBatch[item.CandidateID]; !ok {
			continue
		}
		id, err := ulid.Parse(item.CandidateID)
		if err != nil {
			continue
		}
		scores[id] = clamp01(item.LLMRerankScore)
	}
	return scores, nil
}

func buildCandidateSummary(c RankCandidate) candidateSummaryDTO {
	content := c.ParsedContent
	var topSkills []string
	if content != nil {
		skillSet := buildSkillSet(content)
		keys := make([]string, 0, len(skillSet))
		for k := range skillSet {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 10 {
			keys = keys[:10]
		}
		topSkills = keys
	}

	var topProjects []string
	var location string
	var years *float64
	if content != nil {
		location = content.Location
		years = content.YearsExperience
		for i, p := range content.Projects {
			if i >= 3 {
				break
			}
			topProjects = append(topProjects, p.Name)
		}
	}

	sr := c.ScoreResult
	return candidateSummaryDTO{
		CandidateID: c.ResumeID.String(),
		Scores: rankScoresDTO{
			Project:  sr.ProjectScore,
			Keyword:  sr.KeywordScore,
			Semantic: sr.SemanticScore,
			Final:    *sr.FinalScore,
		},
		YearsExperience: years,
		Location:        location,
		TopSkills:       topSkills,
		TopProjects:     topProjects,
		PerRequirement:  sr.Compliance.PerRequirement,
	}
}

func jdSummaryText(jd *ranking.JDAnalysis) string {
	if jd == nil {
		return ""
	}
	return jd.RoleTitle
}

func buildRerankPrompt(req rerankBatchRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Sprintf("Re-rank these %d candidates against the job description and filter requirements below. Respond with an ordered candidate list restricted to the candidate_ids given.\n\n%s", len(req.Candidates), string(data))
}
