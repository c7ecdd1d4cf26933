package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

// Stage names published over the ProgressHub, one per node of the job
// lifecycle graph (§4.10). JDPipeline and ResumePipeline publish their own
// finer-grained stage names (text_collect, parse, embed, ...) under the
// same job topic; these are the coarser, orchestrator-owned transitions
// around them.
const (
	StageQueuedJD          = "queued-jd"
	StageJDReady           = "jd-ready"
	StageQueuedResumes     = "queued-resumes"
	StageProcessingResumes = "processing-resumes"
	StageFiltered          = "filtered"
	StageScoring           = "scoring"
	StageScored            = "scored"
	StageRanking           = "ranking"
	StageCompleted         = "completed"
	StageFailed            = "failed"
	StageCancelled         = "cancelled"
)

// ResumeSubmission is one file handed to SubmitResumes: the Resume row
// must already exist (created by the upload path), FilePath is where its
// bytes live for the PDFTextExtractor to read at handler time.
type ResumeSubmission struct {
	ResumeID ulid.ULID
	FilePath string
}

// OrchestratorConfig carries the environment-configured knobs the
// Orchestrator itself needs, independent of the sub-components it wires.
type OrchestratorConfig struct {
	ResumeConcurrency int
}

// Orchestrator drives one Job through the explicit state graph in §4.10:
// draft -> queued-jd -> (JDPipeline) -> jd-ready -> queued-resumes ->
// processing-resumes(n/N) -> filtered -> scoring -> scored -> ranking ->
// completed, with failed-JD terminating the job and a failed resume only
// excluding that one candidate. It owns no storage of its own: every
// transition is derived from Job/Resume/ScoreResult state plus the
// Broker's parent/child completion tracking (C3).
type Orchestrator struct {
	jobs       ranking.JobRepository
	resumes    ranking.ResumeRepository
	scores     ranking.ScoreResultRepository
	broker     ranking.Broker
	hub        *ProgressHub
	extractor  ranking.PDFTextExtractor
	jdPipeline *JDPipeline
	resumePipe *ResumePipeline
	compliance *ComplianceFilter
	scorer     *Scorer
	ranker     *Ranker
	cfg        OrchestratorConfig
	logger     *slog.Logger
}

func NewOrchestrator(
	jobs ranking.JobRepository,
	resumes ranking.ResumeRepository,
	scores ranking.ScoreResultRepository,
	broker ranking.Broker,
	hub *ProgressHub,
	extractor ranking.PDFTextExtractor,
	jdPipeline *JDPipeline,
	resumePipe *ResumePipeline,
	compliance *ComplianceFilter,
	scorer *Scorer,
	ranker *Ranker,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		jobs: jobs, resumes: resumes, scores: scores, broker: broker, hub: hub, extractor: extractor,
		jdPipeline: jdPipeline, resumePipe: resumePipe, compliance: compliance, scorer: scorer, ranker: ranker,
		cfg: cfg, logger: logger,
	}
}

// SubmitJD moves a validated, input-complete draft job into the jd queue.
func (o *Orchestrator) SubmitJD(ctx context.Context, jobID ulid.ULID) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("orchestrator: submit jd: %w", err)
	}
	if !job.HasInput() {
		return ranking.ErrJobMissingInput
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, ranking.JobStatusQueued, nil); err != nil {
		return fmt.Errorf("orchestrator: submit jd: %w", err)
	}
	o.publish(jobID, 0, StageQueuedJD, "job queued for JD parsing")
	return o.broker.Enqueue(ctx, ranking.QueueJD, jobID, ranking.JDJobPayload{JobID: jobID})
}

// HandleJD is the Broker handler registered on the jd queue. It resolves
// the job's raw JD text (extracting from jd_pdf_ref if needed) and runs
// JDPipeline.Process; a pipeline failure terminates the job (JDPipeline
// itself records job.status=failed and publishes the failed stage).
func (o *Orchestrator) HandleJD(ctx context.Context, payload []byte, _ func(ranking.ProgressUpdate)) error {
	var p ranking.JDJobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("orchestrator: decode jd payload: %w", err)
	}

	if err := o.jobs.UpdateStatus(ctx, p.JobID, ranking.JobStatusProcessing, nil); err != nil {
		return fmt.Errorf("orchestrator: jd handler: %w", err)
	}

	job, err := o.jobs.GetByID(ctx, p.JobID)
	if err != nil {
		return fmt.Errorf("orchestrator: jd handler: %w", err)
	}

	input := JDInput{
		MandatoryPrompt: derefOr(job.MandatoryCompliancePrompt, ""),
		SoftPrompt:      derefOr(job.SoftCompliancePrompt, ""),
	}
	if job.JDPDFRef != nil && *job.JDPDFRef != "" {
		if o.extractor == nil {
			return fmt.Errorf("orchestrator: jd handler: job %s has a pdf reference but no PDFTextExtractor is configured", p.JobID)
		}
		text, err := o.extractor.ExtractText(ctx, *job.JDPDFRef)
		if err != nil {
			return fmt.Errorf("orchestrator: jd handler: extract pdf: %w", err)
		}
		input.ExtractedPDFText = text
	}

	if err := o.jdPipeline.Process(ctx, p.JobID, input); err != nil {
		return fmt.Errorf("orchestrator: jd handler: %w", err)
	}

	o.publish(p.JobID, 100, StageJDReady, "job description ready for resumes")
	return nil
}

// SubmitResumes enqueues one resume queue child per submission, tracked as
// a single flow whose parent (the rank queue) fires only once every
// resume has reached a terminal state, success or failure (§4.3, §4.10).
func (o *Orchestrator) SubmitResumes(ctx context.Context, jobID ulid.ULID, submissions []ResumeSubmission) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("orchestrator: submit resumes: %w", err)
	}
	if job.JDAnalysis == nil {
		return fmt.Errorf("orchestrator: submit resumes: job %s is not jd-ready", jobID)
	}
	if len(submissions) == 0 {
		return nil
	}

	o.publish(jobID, 0, StageQueuedResumes, fmt.Sprintf("queued %d resumes", len(submissions)))

	children := make([]interface{}, len(submissions))
	for i, s := range submissions {
		children[i] = ranking.ResumeJobPayload{ResumeID: s.ResumeID, JobID: jobID, FilePath: s.FilePath}
	}
	// RankParentPayload.TotalBatches is reused here as "total resumes in
	// this flow": each resume is its own flow child, one-to-one, not a
	// batch of several.
	parent := ranking.RankParentPayload{JobID: jobID, TotalBatches: len(submissions)}
	_, err = o.broker.EnqueueChildren(ctx, ranking.QueueRank, jobID, parent, ranking.QueueResume, jobID, children)
	if err != nil {
		return fmt.Errorf("orchestrator: submit resumes: %w", err)
	}
	o.publish(jobID, 0, StageProcessingResumes, fmt.Sprintf("0/%d resumes processed", len(submissions)))
	return nil
}

// HandleResume is the Broker handler registered on the resume queue. A
// single resume's failure is caught by the Broker's own retry/dead-letter
// machinery and excludes that candidate from ranking; it must never fail
// the owning job.
func (o *Orchestrator) HandleResume(ctx context.Context, payload []byte, _ func(ranking.ProgressUpdate)) error {
	var p ranking.ResumeJobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("orchestrator: decode resume payload: %w", err)
	}

	resume, err := o.resumes.GetByID(ctx, p.ResumeID)
	if err != nil {
		return fmt.Errorf("orchestrator: resume handler: %w", err)
	}

	text := ""
	if resume.RawText == nil {
		if o.extractor == nil || p.FilePath == "" {
			return fmt.Errorf("orchestrator: resume handler: resume %s has no extractable text source", p.ResumeID)
		}
		text, err = o.extractor.ExtractText(ctx, p.FilePath)
		if err != nil {
			return fmt.Errorf("orchestrator: resume handler: extract text: %w", err)
		}
	}

	return o.resumePipe.Process(ctx, p.JobID, p.ResumeID, ResumeInput{ExtractedText: text})
}

// candidateWork is one resume's intermediate scoring state while the
// batch semantic-score normalization step (§4.8.3) is still pending.
type candidateWork struct {
	resumeID    ulid.ULID
	content     *ranking.ParsedContent
	compliance  ranking.ComplianceResult
	project     float64
	keyword     float64
	rawSemantic float64
}

// HandleRank is the Broker handler registered on the rank queue; it fires
// once every resume child of the job's flow has reached a terminal state
// (§4.3). It runs compliance filtering, scoring (including the batch
// semantic-score normalization step), and the final LLM re-rank over the
// whole job in one pass.
func (o *Orchestrator) HandleRank(ctx context.Context, payload []byte, _ func(ranking.ProgressUpdate)) error {
	var p ranking.RankParentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("orchestrator: decode rank payload: %w", err)
	}
	jobID := p.JobID

	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("orchestrator: rank handler: %w", err)
	}
	resumes, err := o.resumes.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("orchestrator: rank handler: %w", err)
	}

	o.publish(jobID, 0, StageFiltered, fmt.Sprintf("evaluating compliance for %d resumes", len(resumes)))

	var compliant []candidateWork
	for _, r := range resumes {
		if !r.IsFullyProcessed() || r.ParsedContent == nil {
			sr := ranking.NewScoreResult(jobID, r.ID)
			sr.Compliance = ranking.ComplianceResult{Passed: false, Reason: strPtr("resume did not complete extraction/parsing/embedding")}
			if err := o.scores.Upsert(ctx, sr); err != nil {
				o.logger.Error("orchestrator: rank handler: upsert excluded score result", "job_id", jobID.String(), "resume_id", r.ID.String(), "error", err)
			}
			continue
		}

		compliance := o.compliance.Evaluate(job.FilterRequirements, r.ParsedContent)
		sr := ranking.NewScoreResult(jobID, r.ID)
		sr.Compliance = compliance
		if !compliance.Passed {
			if err := o.scores.Upsert(ctx, sr); err != nil {
				o.logger.Error("orchestrator: rank handler: upsert non-compliant score result", "job_id", jobID.String(), "resume_id", r.ID.String(), "error", err)
			}
			continue
		}

		work := candidateWork{
			resumeID:    r.ID,
			content:     r.ParsedContent,
			compliance:  compliance,
			project:     o.scorer.ProjectScore(r.ParsedContent),
			keyword:     o.scorer.KeywordScore(job.JDAnalysis, r.ParsedContent),
			rawSemantic: o.scorer.SemanticScore(job.JDEmbeddings, r.ResumeEmbeddings),
		}
		compliant = append(compliant, work)
	}

	o.publish(jobID, 40, StageScoring, fmt.Sprintf("scoring %d compliant resumes", len(compliant)))

	raw := make([]float64, len(compliant))
	for i, c := range compliant {
		raw[i] = c.rawSemantic
	}
	normalized := NormalizeSemanticBatch(raw)

	candidates := make([]RankCandidate, 0, len(compliant))
	for i, c := range compliant {
		sr := ranking.NewScoreResult(jobID, c.resumeID)
		sr.Compliance = c.compliance
		sr.ProjectScore = c.project
		sr.KeywordScore = c.keyword
		sr.SemanticScore = normalized[i]

		if final, ok := o.scorer.FinalScore(c.project, normalized[i], c.keyword); ok {
			sr.FinalScore = &final
		}
		if err := o.scores.Upsert(ctx, sr); err != nil {
			o.logger.Error("orchestrator: rank handler: upsert scored result", "job_id", jobID.String(), "resume_id", c.resumeID.String(), "error", err)
			continue
		}
		if sr.FinalScore != nil {
			candidates = append(candidates, RankCandidate{ResumeID: c.resumeID, ScoreResult: sr, ParsedContent: c.content})
		}
	}

	o.publish(jobID, 70, StageScored, fmt.Sprintf("%d candidates scored", len(candidates)))
	o.publish(jobID, 80, StageRanking, "re-ranking candidates")

	results, err := o.ranker.Rank(ctx, jobID, job.JDAnalysis, job.FilterRequirements, candidates)
	if err != nil {
		return o.failJob(ctx, jobID, fmt.Errorf("orchestrator: rank handler: rank: %w", err))
	}

	ranks := make(map[ulid.ULID]ranking.RankAssignment, len(results))
	for _, r := range results {
		ranks[r.ResumeID] = ranking.RankAssignment{Rank: r.Rank, AdjustedScore: r.AdjustedScore}
	}
	if len(ranks) > 0 {
		if err := o.scores.UpdateRanks(ctx, jobID, ranks); err != nil {
			return o.failJob(ctx, jobID, fmt.Errorf("orchestrator: rank handler: update ranks: %w", err))
		}
	}

	if err := o.jobs.UpdateStatus(ctx, jobID, ranking.JobStatusCompleted, nil); err != nil {
		return fmt.Errorf("orchestrator: rank handler: %w", err)
	}
	o.publish(jobID, 100, StageCompleted, fmt.Sprintf("ranked %d candidates", len(results)))
	o.hub.Close(jobID)
	return nil
}

// Cancel requests cooperative cancellation: in-flight ModelClient calls
// are allowed to finish, but no further stage of any pipeline for jobID
// will start once the Broker observes the cancellation flag (§5).
func (o *Orchestrator) Cancel(ctx context.Context, jobID ulid.ULID) error {
	if err := o.broker.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("orchestrator: cancel: %w", err)
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, ranking.JobStatusCancelled, strPtr("cancelled by request")); err != nil {
		return fmt.Errorf("orchestrator: cancel: %w", err)
	}
	o.publish(jobID, 100, StageCancelled, "job cancelled")
	o.hub.Close(jobID)
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, jobID ulid.ULID, cause error) error {
	msg := cause.Error()
	if err := o.jobs.UpdateStatus(ctx, jobID, ranking.JobStatusFailed, &msg); err != nil {
		o.logger.Error("orchestrator: failed to record job failure", "job_id", jobID.String(), "error", err)
	}
	o.publish(jobID, 100, StageFailed, msg)
	return cause
}

func (o *Orchestrator) publish(jobID ulid.ULID, percent int, stage, message string) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: percent, Stage: stage, Message: message})
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
