package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

const (
	schemaParseJD        = "parse_jd"
	schemaParseCompliance = "parse_compliance"

	defaultChatDeadline  = 60 * time.Second
	defaultEmbedDeadline = 30 * time.Second
)

// JDPipelineConfig carries the environment-configured knobs the pipeline
// stages read at init (§6): embedding model/dimension and the sentence
// splitter's minimum length.
type JDPipelineConfig struct {
	EmbeddingModel   string
	EmbeddingDim     int
	SentenceMinChars int
}

// JDInput is the free-text material JDPipeline.Process turns into
// structured job artifacts; ExtractedPDFText is supplied by the (external,
// out-of-scope) PDF text extractor when job.JDPDFRef is set.
type JDInput struct {
	ExtractedPDFText  string
	MandatoryPrompt   string
	SoftPrompt        string
}

// JDPipeline implements C5: JD text → structured analysis, section
// embeddings, and a typed compliance schema, persisted via JobRepository
// and reported through ProgressHub.
type JDPipeline struct {
	jobs   ranking.JobRepository
	model  ranking.ModelClient
	hub    *ProgressHub
	cfg    JDPipelineConfig
	logger *slog.Logger
}

func NewJDPipeline(jobs ranking.JobRepository, model ranking.ModelClient, hub *ProgressHub, cfg JDPipelineConfig, logger *slog.Logger) *JDPipeline {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	if cfg.SentenceMinChars == 0 {
		cfg.SentenceMinChars = sentenceMinChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JDPipeline{jobs: jobs, model: model, hub: hub, cfg: cfg, logger: logger}
}

// jdParseResult is the wire shape ModelClient.Complete decodes the
// "parse_jd" response into; it mirrors ranking.JDAnalysis field for field.
type jdParseResult struct {
	RoleTitle               string              `json:"role_title"`
	Seniority               string              `json:"seniority"`
	RequiredSkills          []string            `json:"required_skills"`
	PreferredSkills         []string            `json:"preferred_skills"`
	Responsibilities        []string            `json:"responsibilities"`
	KeywordsFlat            []string            `json:"keywords_flat"`
	KeywordsWeighted        map[string]float64  `json:"keywords_weighted"`
	CanonicalSkills         map[string][]string `json:"canonical_skills"`
	ToolsTech               []string            `json:"tools_tech"`
	SoftSkills              []string            `json:"soft_skills"`
	YearsExperienceRequired *float64            `json:"years_experience_required"`
	DomainTags              []string            `json:"domain_tags"`
	Weighting               map[string]float64  `json:"weighting"`
}

// complianceParseResult is the wire shape for the "parse_compliance" call;
// its fields decode directly into a ranking.FilterRequirements via the
// Requirement sum type's own JSON codec.
type complianceParseResult struct {
	Mandatory ranking.RequirementSet `json:"mandatory"`
	Soft      ranking.RequirementSet `json:"soft"`
}

// Process runs all five JDPipeline stages for job, persisting results and
// publishing progress after every stage. It is safe to call from a Broker
// "jd" queue handler: the returned error is the handler's return value.
func (p *JDPipeline) Process(ctx context.Context, jobID ulid.ULID, input JDInput) error {
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("jdpipeline: load job: %w", err)
	}

	if err := p.jobs.SetLocked(ctx, jobID, true); err != nil {
		return fmt.Errorf("jdpipeline: lock job: %w", err)
	}

	text, err := p.textCollect(ctx, jobID, job, input)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	analysis, err := p.parse(ctx, jobID, text)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	reqs, err := p.complianceStructure(ctx, jobID, input)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	embeddings, err := p.embed(ctx, jobID, text, analysis)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	if err := p.persist(ctx, jobID, analysis, embeddings, reqs); err != nil {
		return p.fail(ctx, jobID, err)
	}

	return nil
}

func (p *JDPipeline) textCollect(ctx context.Context, jobID ulid.ULID, job *ranking.Job, input JDInput) (string, error) {
	p.publish(jobID, 0, "text_collect", "collecting JD text")

	var parts []string
	if job.RawJDText != nil && *job.RawJDText != "" {
		parts = append(parts, *job.RawJDText)
	}
	if strings.TrimSpace(input.ExtractedPDFText) != "" {
		parts = append(parts, input.ExtractedPDFText)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if text == "" {
		return "", fmt.Errorf("jdpipeline: job has neither raw JD text nor extractable PDF text")
	}

	p.publish(jobID, 10, "text_collect", "JD text collected")
	return text, nil
}

func (p *JDPipeline) parse(ctx context.Context, jobID ulid.ULID, text string) (*ranking.JDAnalysis, error) {
	p.publish(jobID, 10, "parse", "parsing JD")

	prompt := buildJDParsePrompt(text)
	var result jdParseResult
	budget := ranking.CompletionBudget{Deadline: defaultChatDeadline}
	if err := p.model.Complete(ctx, schemaParseJD, prompt, &result, budget); err != nil {
		return nil, fmt.Errorf("jdpipeline: parse JD: %w", err)
	}

	analysis := &ranking.JDAnalysis{
		RoleTitle:               result.RoleTitle,
		Seniority:               result.Seniority,
		RequiredSkills:          canonicalizeSkills(result.RequiredSkills),
		PreferredSkills:         canonicalizeSkills(result.PreferredSkills),
		Responsibilities:        result.Responsibilities,
		KeywordsFlat:            canonicalizeSkills(result.KeywordsFlat),
		KeywordsWeighted:        result.KeywordsWeighted,
		CanonicalSkills:         canonicalizeSkillMap(result.CanonicalSkills),
		ToolsTech:               canonicalizeSkills(result.ToolsTech),
		SoftSkills:              result.SoftSkills,
		YearsExperienceRequired: result.YearsExperienceRequired,
		DomainTags:              result.DomainTags,
		Weighting:               result.Weighting,
	}

	p.publish(jobID, 45, "parse", "JD parsed")
	return analysis, nil
}

func (p *JDPipeline) complianceStructure(ctx context.Context, jobID ulid.ULID, input JDInput) (*ranking.FilterRequirements, error) {
	p.publish(jobID, 45, "compliance_structure", "structuring compliance requirements")

	if strings.TrimSpace(input.MandatoryPrompt) == "" && strings.TrimSpace(input.SoftPrompt) == "" {
		p.publish(jobID, 60, "compliance_structure", "no compliance prompts supplied")
		return &ranking.FilterRequirements{Mandatory: ranking.RequirementSet{}, Soft: ranking.RequirementSet{}}, nil
	}

	prompt := buildCompliancePrompt(input.MandatoryPrompt, input.SoftPrompt)
	var result complianceParseResult
	budget := ranking.CompletionBudget{Deadline: defaultChatDeadline}
	if err := p.model.Complete(ctx, schemaParseCompliance, prompt, &result, budget); err != nil {
		return nil, fmt.Errorf("jdpipeline: structure compliance: %w", err)
	}
	if result.Mandatory == nil {
		result.Mandatory = ranking.RequirementSet{}
	}
	if result.Soft == nil {
		result.Soft = ranking.RequirementSet{}
	}

	p.publish(jobID, 60, "compliance_structure", "compliance requirements structured")
	return &ranking.FilterRequirements{Mandatory: result.Mandatory, Soft: result.Soft}, nil
}

func (p *JDPipeline) embed(ctx context.Context, jobID ulid.ULID, text string, analysis *ranking.JDAnalysis) (ranking.SectionEmbeddings, error) {
	p.publish(jobID, 60, "embed", "embedding JD sections")

	sectionTexts := jdSectionTexts(text, analysis)
	embeddings := make(ranking.SectionEmbeddings, len(ranking.EmbeddingSections))

	for i, section := range ranking.EmbeddingSections {
		sentences := splitSentences(sectionTexts[section], p.cfg.SentenceMinChars)
		if len(sentences) == 0 {
			continue
		}
		ectx, cancel := context.WithTimeout(ctx, defaultEmbedDeadline)
		vectors, err := p.model.Embed(ectx, sentences, p.cfg.EmbeddingModel)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("jdpipeline: embed section %q: %w", section, err)
		}
		embeddings[section] = vectors

		pct := 60 + (i+1)*35/len(ranking.EmbeddingSections)
		p.publish(jobID, pct, "embed", fmt.Sprintf("embedded section %s", section))
	}

	p.publish(jobID, 95, "embed", "JD sections embedded")
	return embeddings, nil
}

func (p *JDPipeline) persist(ctx context.Context, jobID ulid.ULID, analysis *ranking.JDAnalysis, embeddings ranking.SectionEmbeddings, reqs *ranking.FilterRequirements) error {
	p.publish(jobID, 95, "persist", "persisting JD artifacts")

	if err := p.jobs.ReplaceAnalysis(ctx, jobID, analysis); err != nil {
		return fmt.Errorf("jdpipeline: persist analysis: %w", err)
	}
	if err := p.jobs.ReplaceEmbeddings(ctx, jobID, embeddings); err != nil {
		return fmt.Errorf("jdpipeline: persist embeddings: %w", err)
	}
	if err := p.jobs.ReplaceFilterRequirements(ctx, jobID, reqs); err != nil {
		return fmt.Errorf("jdpipeline: persist filter requirements: %w", err)
	}
	if err := p.jobs.UpdateStatus(ctx, jobID, ranking.JobStatusCompleted, nil); err != nil {
		return fmt.Errorf("jdpipeline: update status: %w", err)
	}

	p.publish(jobID, 100, "persist", "JD ready")
	return nil
}

func (p *JDPipeline) fail(ctx context.Context, jobID ulid.ULID, cause error) error {
	reason := cause.Error()
	if err := p.jobs.UpdateStatus(ctx, jobID, ranking.JobStatusFailed, &reason); err != nil {
		p.logger.Error("jdpipeline: failed to record job failure", "job_id", jobID.String(), "error", err)
	}
	p.publish(jobID, 100, "failed", reason)
	return cause
}

func (p *JDPipeline) publish(jobID ulid.ULID, percent int, stage, message string) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: percent, Stage: stage, Message: message})
}

// jdSectionTexts maps a JD's structured analysis (plus the raw collected
// text) onto the six embedding sections. The JD side has no literal
// "projects" field, so that section is populated from domain_tags — the
// closest JD-side signal to the kind of project work expected, which is
// also what ResumePipeline's project parsing is anchored on.
func jdSectionTexts(fullText string, analysis *ranking.JDAnalysis) map[string]string {
	join := func(parts ...[]string) string {
		var flat []string
		for _, p := range parts {
			flat = append(flat, p...)
		}
		return strings.Join(flat, ". ")
	}

	return map[string]string{
		ranking.SectionProfile:          strings.Join([]string{analysis.RoleTitle, analysis.Seniority}, " "),
		ranking.SectionSkills:           join(analysis.RequiredSkills, analysis.PreferredSkills, analysis.ToolsTech, analysis.SoftSkills),
		ranking.SectionProjects:         strings.Join(analysis.DomainTags, ". "),
		ranking.SectionResponsibilities: strings.Join(analysis.Responsibilities, ". "),
		ranking.SectionEducation:        "",
		ranking.SectionOverall:          truncate(fullText, overallSectionMaxChars),
	}
}

func buildJDParsePrompt(text string) string {
	var b strings.Builder
	b.WriteString("Extract a structured job description analysis from the following text. ")
	b.WriteString("Canonicalize every skill mention to its full name (e.g. \"ML\" -> \"Machine Learning\").\n\n")
	b.WriteString(text)
	return b.String()
}

func buildCompliancePrompt(mandatory, soft string) string {
	var b strings.Builder
	b.WriteString("Convert the following free-text compliance requirements into the typed requirement schema.\n\n")
	if strings.TrimSpace(mandatory) != "" {
		b.WriteString("Mandatory:\n")
		b.WriteString(mandatory)
		b.WriteString("\n\n")
	}
	if strings.TrimSpace(soft) != "" {
		b.WriteString("Soft:\n")
		b.WriteString(soft)
	}
	return b.String()
}
