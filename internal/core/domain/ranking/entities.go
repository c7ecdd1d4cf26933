// Package ranking provides domain entities for the candidate-ranking
// pipeline: job descriptions, resumes, and their per-pair score results.
package ranking

import (
	"time"

	"brokle/pkg/ulid"
)

// ValidationError mirrors the field/message shape used across the domain
// packages so repository and service callers can render one error list.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JobStatus is the coarse lifecycle state of a Job, independent of the
// finer-grained Orchestrator stage names reported over ProgressHub.
type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) valid() bool {
	switch s {
	case JobStatusDraft, JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// StageStatus tracks the per-stage progress of a Resume through extraction,
// parsing, and embedding.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusProcessing StageStatus = "processing"
	StageStatusSuccess    StageStatus = "success"
	StageStatusFailed     StageStatus = "failed"
)

func (s StageStatus) valid() bool {
	switch s {
	case StageStatusPending, StageStatusProcessing, StageStatusSuccess, StageStatusFailed:
		return true
	default:
		return false
	}
}

// Section names used for both JD and resume embeddings, and for the
// semantic scorer's per-section weighting.
const (
	SectionProfile          = "profile"
	SectionSkills           = "skills"
	SectionProjects         = "projects"
	SectionResponsibilities = "responsibilities"
	SectionEducation        = "education"
	SectionOverall          = "overall"
)

// EmbeddingSections lists all six required sections in a fixed order, used
// to validate completeness of a SectionEmbeddings map.
var EmbeddingSections = []string{
	SectionProfile, SectionSkills, SectionProjects,
	SectionResponsibilities, SectionEducation, SectionOverall,
}

// Vector is a single D-dimensional embedding.
type Vector []float64

// SectionEmbeddings maps a section name to its ordered per-sentence
// vectors; a section may hold a single vector for short text.
type SectionEmbeddings map[string][]Vector

// HasAllSections reports whether every required section is present and
// non-empty.
func (e SectionEmbeddings) HasAllSections() bool {
	for _, name := range EmbeddingSections {
		if len(e[name]) == 0 {
			return false
		}
	}
	return true
}

// JDAnalysis is the structured summary produced by JDPipeline's parse
// stage; it is replaced atomically on the owning Job.
type JDAnalysis struct {
	RoleTitle               string             `json:"role_title"`
	Seniority               string             `json:"seniority,omitempty"`
	RequiredSkills          []string           `json:"required_skills"`
	PreferredSkills         []string           `json:"preferred_skills,omitempty"`
	Responsibilities        []string           `json:"responsibilities,omitempty"`
	KeywordsFlat            []string           `json:"keywords_flat,omitempty"`
	KeywordsWeighted        map[string]float64 `json:"keywords_weighted,omitempty"`
	CanonicalSkills         map[string][]string `json:"canonical_skills,omitempty"`
	ToolsTech               []string           `json:"tools_tech,omitempty"`
	SoftSkills              []string           `json:"soft_skills,omitempty"`
	YearsExperienceRequired *float64           `json:"years_experience_required,omitempty"`
	DomainTags              []string           `json:"domain_tags,omitempty"`
	Weighting               map[string]float64 `json:"weighting,omitempty"`
}

// Job is the JD-side aggregate: raw input, structured analysis, section
// embeddings, and the compliance requirement document.
type Job struct {
	ID                 ulid.ULID           `json:"id" gorm:"type:char(26);primaryKey"`
	Title               string              `json:"title" gorm:"type:varchar(255);not null"`
	RawJDText           *string             `json:"raw_jd_text,omitempty" gorm:"type:text"`
	JDPDFRef            *string             `json:"jd_pdf_ref,omitempty" gorm:"type:text"`
	MandatoryCompliancePrompt *string       `json:"mandatory_compliance_prompt,omitempty" gorm:"type:text"`
	SoftCompliancePrompt      *string       `json:"soft_compliance_prompt,omitempty" gorm:"type:text"`
	Status              JobStatus           `json:"status" gorm:"type:varchar(20);not null;default:'draft';index"`
	Locked              bool                `json:"locked" gorm:"not null;default:false"`
	JDAnalysis          *JDAnalysis         `json:"jd_analysis,omitempty" gorm:"type:jsonb;serializer:json"`
	JDEmbeddings        SectionEmbeddings   `json:"jd_embeddings,omitempty" gorm:"type:jsonb;serializer:json"`
	FilterRequirements  *FilterRequirements `json:"filter_requirements,omitempty" gorm:"type:jsonb;serializer:json"`
	ErrorMessage        *string             `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt           time.Time           `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt           time.Time           `json:"updated_at" gorm:"not null;autoUpdateTime"`
}

func (Job) TableName() string { return "ranking_jobs" }

// NewJob constructs a draft Job. At least one of raw JD text or a PDF
// reference must be supplied before the job can be queued; that rule is
// enforced by Validate, not by the constructor.
func NewJob(title string) *Job {
	now := time.Now()
	return &Job{
		ID:        ulid.New(),
		Title:     title,
		Status:    JobStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasInput reports whether the job has enough raw material to enter
// processing.
func (j *Job) HasInput() bool {
	return (j.RawJDText != nil && *j.RawJDText != "") || (j.JDPDFRef != nil && *j.JDPDFRef != "")
}

// Validate checks structural invariants only; it does not check status
// transitions, and no transition table exists elsewhere to check them.
func (j *Job) Validate() []ValidationError {
	var errs []ValidationError

	if j.Title == "" {
		errs = append(errs, ValidationError{Field: "title", Message: "title is required"})
	}
	if !j.Status.valid() {
		errs = append(errs, ValidationError{Field: "status", Message: "invalid status"})
	}
	if j.Status != JobStatusDraft && !j.HasInput() {
		errs = append(errs, ValidationError{Field: "raw_jd_text", Message: "raw_jd_text or jd_pdf_ref is required once queued"})
	}
	if j.Locked && j.Status == JobStatusDraft {
		errs = append(errs, ValidationError{Field: "locked", Message: "a draft job cannot be locked"})
	}

	return errs
}

// IsImmutable reports whether the job's JD text/PDF/compliance prompts may
// no longer be mutated via the public API.
func (j *Job) IsImmutable() bool { return j.Locked }

// ProjectMetrics holds the seven per-project signals used by both the
// keyword scorer's technical_depth/project_metrics components and the
// project scorer directly. All fields are in [0,1].
type ProjectMetrics struct {
	Difficulty       float64 `json:"difficulty"`
	Novelty          float64 `json:"novelty"`
	SkillRelevance   float64 `json:"skill_relevance"`
	Complexity       float64 `json:"complexity"`
	TechnicalDepth   float64 `json:"technical_depth"`
	DomainRelevance  float64 `json:"domain_relevance"`
	ExecutionQuality float64 `json:"execution_quality"`
}

// WeightedAverage is the equal-weight (1/7 each) mean of the seven metrics.
func (m ProjectMetrics) WeightedAverage() float64 {
	sum := m.Difficulty + m.Novelty + m.SkillRelevance + m.Complexity +
		m.TechnicalDepth + m.DomainRelevance + m.ExecutionQuality
	return sum / 7.0
}

// Project is one parsed project entry from a resume.
type Project struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	TechKeywords  []string       `json:"tech_keywords,omitempty"`
	PrimarySkills []string       `json:"primary_skills,omitempty"`
	Metrics       ProjectMetrics `json:"metrics"`
}

// InferredSkill is a skill the parser inferred rather than read verbatim,
// carrying a confidence and the text spans that support it.
type InferredSkill struct {
	Skill       string   `json:"skill"`
	Confidence  float64  `json:"confidence"`
	Provenance  []string `json:"provenance,omitempty"`
}

// SkillProficiency is a self-reported or inferred proficiency level for a
// named skill.
type SkillProficiency struct {
	Skill  string `json:"skill"`
	Level  string `json:"level,omitempty"`
}

// ExperienceEntry is one parsed work-history entry.
type ExperienceEntry struct {
	Title       string   `json:"title,omitempty"`
	Company     string   `json:"company,omitempty"`
	Description string   `json:"description,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// Education is one parsed education entry.
type Education struct {
	Field  string `json:"field,omitempty"`
	Level  string `json:"level,omitempty"`
	School string `json:"school,omitempty"`
}

// ParsedContent is the structured summary produced by ResumePipeline's
// parse stage.
type ParsedContent struct {
	CandidateName     string             `json:"candidate_name,omitempty"`
	YearsExperience   *float64           `json:"years_experience,omitempty"`
	CanonicalSkills   map[string][]string `json:"canonical_skills,omitempty"`
	InferredSkills    []InferredSkill    `json:"inferred_skills,omitempty"`
	SkillProficiency  []SkillProficiency `json:"skill_proficiency,omitempty"`
	Projects          []Project          `json:"projects,omitempty"`
	ExperienceEntries []ExperienceEntry  `json:"experience_entries,omitempty"`
	Education         []Education        `json:"education,omitempty"`
	Location          string             `json:"location,omitempty"`
	DomainTags        []string           `json:"domain_tags,omitempty"`
}

// Resume is the candidate-side aggregate: raw input, per-stage status,
// parsed content, and section embeddings, scoped to one Job.
type Resume struct {
	ID                ulid.ULID         `json:"id" gorm:"type:char(26);primaryKey"`
	JobID             ulid.ULID         `json:"job_id" gorm:"type:char(26);not null;index"`
	Filename          string            `json:"filename" gorm:"type:varchar(255);not null"`
	RawText           *string           `json:"raw_text,omitempty" gorm:"type:text"`
	ExtractionStatus  StageStatus       `json:"extraction_status" gorm:"type:varchar(20);not null;default:'pending'"`
	ParsingStatus     StageStatus       `json:"parsing_status" gorm:"type:varchar(20);not null;default:'pending'"`
	EmbeddingStatus   StageStatus       `json:"embedding_status" gorm:"type:varchar(20);not null;default:'pending'"`
	ParsedContent     *ParsedContent    `json:"parsed_content,omitempty" gorm:"type:jsonb;serializer:json"`
	ResumeEmbeddings  SectionEmbeddings `json:"resume_embeddings,omitempty" gorm:"type:jsonb;serializer:json"`
	ErrorMessage      *string           `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null;autoUpdateTime"`
}

func (Resume) TableName() string { return "ranking_resumes" }

// NewResume constructs a Resume scoped to jobID, all stage statuses pending.
func NewResume(jobID ulid.ULID, filename string) *Resume {
	now := time.Now()
	return &Resume{
		ID:               ulid.New(),
		JobID:            jobID,
		Filename:         filename,
		ExtractionStatus: StageStatusPending,
		ParsingStatus:    StageStatusPending,
		EmbeddingStatus:  StageStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate enforces the §3 stage-ordering invariant: embedding success
// implies parsing success implies extraction success.
func (r *Resume) Validate() []ValidationError {
	var errs []ValidationError

	if r.Filename == "" {
		errs = append(errs, ValidationError{Field: "filename", Message: "filename is required"})
	}
	for _, s := range []struct {
		field string
		val   StageStatus
	}{
		{"extraction_status", r.ExtractionStatus},
		{"parsing_status", r.ParsingStatus},
		{"embedding_status", r.EmbeddingStatus},
	} {
		if !s.val.valid() {
			errs = append(errs, ValidationError{Field: s.field, Message: "invalid stage status"})
		}
	}
	if r.EmbeddingStatus == StageStatusSuccess && r.ParsingStatus != StageStatusSuccess {
		errs = append(errs, ValidationError{Field: "parsing_status", Message: "embedding success requires parsing success"})
	}
	if r.ParsingStatus == StageStatusSuccess && r.ExtractionStatus != StageStatusSuccess {
		errs = append(errs, ValidationError{Field: "extraction_status", Message: "parsing success requires extraction success"})
	}

	return errs
}

// IsFullyProcessed reports whether all three stages have reached success.
func (r *Resume) IsFullyProcessed() bool {
	return r.ExtractionStatus == StageStatusSuccess &&
		r.ParsingStatus == StageStatusSuccess &&
		r.EmbeddingStatus == StageStatusSuccess
}

// ComplianceResult is the outcome of running ComplianceFilter for one
// (job, resume) pair.
type ComplianceResult struct {
	Passed         bool                          `json:"passed"`
	Score          float64                       `json:"score"`
	Met            []string                      `json:"met,omitempty"`
	Missing        []string                      `json:"missing,omitempty"`
	Reason         *string                       `json:"reason,omitempty"`
	PerRequirement map[string]RequirementResult `json:"per_requirement,omitempty"`
}

// ScoreResult is the unique-per-(job_id, resume_id) scoring aggregate.
type ScoreResult struct {
	ID             ulid.ULID        `json:"id" gorm:"type:char(26);primaryKey"`
	JobID          ulid.ULID        `json:"job_id" gorm:"type:char(26);not null;uniqueIndex:idx_job_resume"`
	ResumeID       ulid.ULID        `json:"resume_id" gorm:"type:char(26);not null;uniqueIndex:idx_job_resume"`
	ProjectScore   float64          `json:"project_score"`
	KeywordScore   float64          `json:"keyword_score"`
	SemanticScore  float64          `json:"semantic_score"`
	FinalScore     *float64         `json:"final_score,omitempty"`
	LLMRerankScore *float64         `json:"llm_rerank_score,omitempty"`
	Compliance     ComplianceResult `json:"compliance" gorm:"type:jsonb;serializer:json"`
	Rank           *int             `json:"rank,omitempty"`
	AdjustedScore  *float64         `json:"adjusted_score,omitempty"`
	CreatedAt      time.Time        `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time        `json:"updated_at" gorm:"not null;autoUpdateTime"`
}

func (ScoreResult) TableName() string { return "ranking_score_results" }

// NewScoreResult constructs an unscored ScoreResult row for (jobID, resumeID).
func NewScoreResult(jobID, resumeID ulid.ULID) *ScoreResult {
	now := time.Now()
	return &ScoreResult{
		ID:        ulid.New(),
		JobID:     jobID,
		ResumeID:  resumeID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate enforces invariant 2 from the testable-properties list: a
// candidate that failed compliance carries no rank.
func (sr *ScoreResult) Validate() []ValidationError {
	var errs []ValidationError

	for _, v := range []struct {
		field string
		val   float64
	}{
		{"project_score", sr.ProjectScore},
		{"keyword_score", sr.KeywordScore},
		{"semantic_score", sr.SemanticScore},
	} {
		if v.val < 0 || v.val > 1 {
			errs = append(errs, ValidationError{Field: v.field, Message: "must be in [0,1]"})
		}
	}
	if !sr.Compliance.Passed && sr.Rank != nil {
		errs = append(errs, ValidationError{Field: "rank", Message: "a candidate that failed compliance must not carry a rank"})
	}
	if sr.Rank != nil && *sr.Rank < 1 {
		errs = append(errs, ValidationError{Field: "rank", Message: "rank must be a positive integer"})
	}

	return errs
}

// IsSkipped reports the "all primitives zero" classification distinct from
// being filtered by compliance (§4.8.5).
func (sr *ScoreResult) IsSkipped() bool {
	return sr.FinalScore == nil && sr.ProjectScore == 0 && sr.KeywordScore == 0 && sr.SemanticScore == 0
}
