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

const schemaParseResume = "parse_resume"

// resumePipelineDeadline is the overall per-resume deadline from §5;
// exceeding it during any stage is treated as the final Transient failure
// that marks the resume failed (retries happen one layer up, at Broker).
const resumePipelineDeadline = 5 * time.Minute

// ResumeInput is the free-text material ResumePipeline.Process turns into
// structured resume artifacts; ExtractedText is supplied by the (external,
// out-of-scope) document text extractor.
type ResumeInput struct {
	ExtractedText string
}

// ResumePipeline implements C6: resume text → structured parsed content →
// section embeddings, persisted via ResumeRepository and reported through
// ProgressHub. It runs independently per resume but is conditioned on the
// owning Job's JD analysis (for domain_tags anchoring, §4.6.2).
type ResumePipeline struct {
	resumes ranking.ResumeRepository
	jobs    ranking.JobRepository
	model   ranking.ModelClient
	hub     *ProgressHub
	cfg     JDPipelineConfig
	logger  *slog.Logger
}

func NewResumePipeline(resumes ranking.ResumeRepository, jobs ranking.JobRepository, model ranking.ModelClient, hub *ProgressHub, cfg JDPipelineConfig, logger *slog.Logger) *ResumePipeline {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	if cfg.SentenceMinChars == 0 {
		cfg.SentenceMinChars = sentenceMinChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumePipeline{resumes: resumes, jobs: jobs, model: model, hub: hub, cfg: cfg, logger: logger}
}

// resumeParseResult is the wire shape ModelClient.Complete decodes the
// "parse_resume" response into; it mirrors ranking.ParsedContent.
type resumeParseResult struct {
	CandidateName     string                    `json:"candidate_name"`
	YearsExperience   *float64                  `json:"years_experience"`
	CanonicalSkills   map[string][]string       `json:"canonical_skills"`
	InferredSkills    []ranking.InferredSkill   `json:"inferred_skills"`
	SkillProficiency  []ranking.SkillProficiency `json:"skill_proficiency"`
	Projects          []ranking.Project         `json:"projects"`
	ExperienceEntries []ranking.ExperienceEntry `json:"experience_entries"`
	Education         []ranking.Education       `json:"education"`
	Location          string                    `json:"location"`
	DomainTags        []string                  `json:"domain_tags"`
}

// Process runs ResumePipeline's four stages for resumeID, scoped to job
// jobID. It is idempotent per §4.6.5: a resume whose three stage statuses
// are already success is a no-op; otherwise every stage whose output is
// missing runs, and later stages reuse already-present prior output (to
// tolerate schema upgrades without forcing a full re-extract/re-parse).
func (p *ResumePipeline) Process(ctx context.Context, jobID, resumeID ulid.ULID, input ResumeInput) error {
	ctx, cancel := context.WithTimeout(ctx, resumePipelineDeadline)
	defer cancel()

	resume, err := p.resumes.GetByID(ctx, resumeID)
	if err != nil {
		return fmt.Errorf("resumepipeline: load resume: %w", err)
	}
	if resume.IsFullyProcessed() {
		p.publish(jobID, resumeID, 100, "persist", "resume already processed, skipping")
		return nil
	}

	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resumepipeline: load job: %w", err)
	}

	text, err := p.extract(ctx, jobID, resume, input)
	if err != nil {
		return p.fail(ctx, jobID, resumeID, "extraction", err)
	}

	content, err := p.parse(ctx, jobID, resume, job, text)
	if err != nil {
		return p.fail(ctx, jobID, resumeID, "parsing", err)
	}

	embeddings, err := p.embed(ctx, jobID, resume, content)
	if err != nil {
		return p.fail(ctx, jobID, resumeID, "embedding", err)
	}

	if err := p.persist(ctx, jobID, resume, content, embeddings); err != nil {
		return p.fail(ctx, jobID, resumeID, "persist", err)
	}

	return nil
}

func (p *ResumePipeline) extract(ctx context.Context, jobID ulid.ULID, resume *ranking.Resume, input ResumeInput) (string, error) {
	if resume.ExtractionStatus == ranking.StageStatusSuccess && resume.RawText != nil {
		return *resume.RawText, nil
	}

	p.publish(jobID, resume.ID, 0, "extract", "extracting resume text")

	text := strings.TrimSpace(input.ExtractedText)
	if text == "" {
		err := fmt.Errorf("resumepipeline: no extractable text (scanned-only documents are out of scope)")
		_ = p.resumes.UpdateExtractionStatus(ctx, resume.ID, ranking.StageStatusFailed, nil, strPtr(err.Error()))
		return "", err
	}

	if err := p.resumes.UpdateExtractionStatus(ctx, resume.ID, ranking.StageStatusSuccess, &text, nil); err != nil {
		return "", fmt.Errorf("resumepipeline: record extraction: %w", err)
	}
	p.publish(jobID, resume.ID, 15, "extract", "resume text extracted")
	return text, nil
}

func (p *ResumePipeline) parse(ctx context.Context, jobID ulid.ULID, resume *ranking.Resume, job *ranking.Job, text string) (*ranking.ParsedContent, error) {
	if resume.ParsingStatus == ranking.StageStatusSuccess && resume.ParsedContent != nil {
		return resume.ParsedContent, nil
	}

	p.publish(jobID, resume.ID, 15, "parse", "parsing resume")

	var domainTags []string
	if job.JDAnalysis != nil {
		domainTags = job.JDAnalysis.DomainTags
	}

	prompt := buildResumeParsePrompt(text, domainTags)
	var result resumeParseResult
	budget := ranking.CompletionBudget{Deadline: defaultChatDeadline}
	if err := p.model.Complete(ctx, schemaParseResume, prompt, &result, budget); err != nil {
		_ = p.resumes.UpdateParsingStatus(ctx, resume.ID, ranking.StageStatusFailed, nil, strPtr(err.Error()))
		return nil, fmt.Errorf("resumepipeline: parse resume: %w", err)
	}

	content := &ranking.ParsedContent{
		CandidateName:     result.CandidateName,
		YearsExperience:   result.YearsExperience,
		CanonicalSkills:   canonicalizeSkillMap(result.CanonicalSkills),
		InferredSkills:    result.InferredSkills,
		SkillProficiency:  result.SkillProficiency,
		Projects:          result.Projects,
		ExperienceEntries: result.ExperienceEntries,
		Education:         result.Education,
		Location:          result.Location,
		DomainTags:        result.DomainTags,
	}

	if err := p.resumes.UpdateParsingStatus(ctx, resume.ID, ranking.StageStatusSuccess, content, nil); err != nil {
		return nil, fmt.Errorf("resumepipeline: record parsing: %w", err)
	}
	p.publish(jobID, resume.ID, 50, "parse", "resume parsed")
	return content, nil
}

func (p *ResumePipeline) embed(ctx context.Context, jobID ulid.ULID, resume *ranking.Resume, content *ranking.ParsedContent) (ranking.SectionEmbeddings, error) {
	if resume.EmbeddingStatus == ranking.StageStatusSuccess && resume.ResumeEmbeddings != nil {
		return resume.ResumeEmbeddings, nil
	}

	p.publish(jobID, resume.ID, 50, "embed", "embedding resume sections")

	sectionTexts := resumeSectionTexts(content)
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
			_ = p.resumes.UpdateEmbeddingStatus(ctx, resume.ID, ranking.StageStatusFailed, nil, strPtr(err.Error()))
			return nil, fmt.Errorf("resumepipeline: embed section %q: %w", section, err)
		}
		embeddings[section] = vectors

		pct := 50 + (i+1)*45/len(ranking.EmbeddingSections)
		p.publish(jobID, resume.ID, pct, "embed", fmt.Sprintf("embedded section %s", section))
	}

	p.publish(jobID, resume.ID, 95, "embed", "resume sections embedded")
	return embeddings, nil
}

func (p *ResumePipeline) persist(ctx context.Context, jobID ulid.ULID, resume *ranking.Resume, content *ranking.ParsedContent, embeddings ranking.SectionEmbeddings) error {
	p.publish(jobID, resume.ID, 95, "persist", "persisting resume artifacts")

	if err := p.resumes.UpdateEmbeddingStatus(ctx, resume.ID, ranking.StageStatusSuccess, embeddings, nil); err != nil {
		return fmt.Errorf("resumepipeline: persist embeddings: %w", err)
	}

	p.publish(jobID, resume.ID, 100, "persist", "resume ready")
	return nil
}

func (p *ResumePipeline) fail(ctx context.Context, jobID, resumeID ulid.ULID, stage string, cause error) error {
	reason := cause.Error()
	p.publish(jobID, resumeID, 100, "failed", reason)
	p.logger.Warn("resumepipeline: resume failed", "job_id", jobID.String(), "resume_id", resumeID.String(), "stage", stage, "error", reason)
	return cause
}

// publish reports a per-resume stage event under the owning job's topic
// (ProgressHub subscribes by job_id, per §4.4); the resume is disambiguated
// in the message since several resumes publish concurrently under one job.
func (p *ResumePipeline) publish(jobID, resumeID ulid.ULID, percent int, stage, message string) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(jobID, ranking.ProgressUpdate{
		JobID:   jobID,
		Percent: percent,
		Stage:   stage,
		Message: fmt.Sprintf("resume %s: %s", resumeID.String(), message),
	})
}

// resumeSectionTexts maps a resume's parsed content onto the six embedding
// sections, the same schema JDPipeline uses (§4.6.3).
func resumeSectionTexts(content *ranking.ParsedContent) map[string]string {
	var skills []string
	for _, cat := range content.CanonicalSkills {
		skills = append(skills, cat...)
	}
	for _, s := range content.InferredSkills {
		skills = append(skills, s.Skill)
	}

	var projects []string
	for _, proj := range content.Projects {
		projects = append(projects, proj.Name, proj.Description)
		projects = append(projects, proj.TechKeywords...)
		projects = append(projects, proj.PrimarySkills...)
	}

	var responsibilities []string
	for _, e := range content.ExperienceEntries {
		responsibilities = append(responsibilities, e.Title, e.Description)
	}

	var education []string
	for _, e := range content.Education {
		education = append(education, e.Field, e.Level, e.School)
	}

	return map[string]string{
		ranking.SectionProfile:          strings.Join([]string{content.CandidateName, content.Location}, " "),
		ranking.SectionSkills:           strings.Join(skills, ". "),
		ranking.SectionProjects:         strings.Join(projects, ". "),
		ranking.SectionResponsibilities: strings.Join(responsibilities, ". "),
		ranking.SectionEducation:        strings.Join(education, ". "),
		ranking.SectionOverall:          truncate(resumeOverallText(content), overallSectionMaxChars),
	}
}

func resumeOverallText(content *ranking.ParsedContent) string {
	var b strings.Builder
	b.WriteString(content.CandidateName)
	b.WriteString(". ")
	for _, e := range content.ExperienceEntries {
		b.WriteString(e.Description)
		b.WriteString(". ")
	}
	for _, proj := range content.Projects {
		b.WriteString(proj.Description)
		b.WriteString(". ")
	}
	return b.String()
}

func buildResumeParsePrompt(text string, domainTags []string) string {
	var b strings.Builder
	b.WriteString("Extract structured resume content from the following text, scoring each project on the seven metrics ")
	b.WriteString("(difficulty, novelty, skill_relevance, complexity, technical_depth, domain_relevance, execution_quality), each in [0,1].\n")
	if len(domainTags) > 0 {
		b.WriteString("Anchor domain_relevance and project scoring against these job domain tags: ")
		b.WriteString(strings.Join(domainTags, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}

func strPtr(s string) *string { return &s }
