package ranking

import (
	"context"
	"time"

	"brokle/pkg/ulid"
)

// QueueName identifies one of the three named work queues (§4.3). Each
// queue has its own concurrency ceiling and is consumed independently.
type QueueName string

const (
	QueueJD     QueueName = "jd"
	QueueResume QueueName = "resume"
	QueueRank   QueueName = "rank"
)

// JDJobPayload is the payload enqueued on the jd queue.
type JDJobPayload struct {
	JobID ulid.ULID `json:"job_id"`
}

// ResumeJobPayload is the payload enqueued on the resume queue.
type ResumeJobPayload struct {
	ResumeID ulid.ULID `json:"resume_id"`
	JobID    ulid.ULID `json:"job_id"`
	FilePath string    `json:"file_path,omitempty"`
}

// RankParentPayload is the parent flow job enqueued on the rank queue; it
// completes only once every child batch it spawned reaches a terminal
// state (§4.3).
type RankParentPayload struct {
	JobID        ulid.ULID `json:"job_id"`
	TotalBatches int       `json:"total_batches"`
}

// RankChildPayload is one batch of a rank-parent's fan-out.
type RankChildPayload struct {
	JobID          ulid.ULID   `json:"job_id"`
	BatchIndex     int         `json:"batch_index"`
	ScoreResultIDs []ulid.ULID `json:"score_result_ids"`
}

// ProgressUpdate is emitted by a handler mid-execution; Percent must be
// monotonic non-decreasing within a single job's execution (§4.3, §4.4).
type ProgressUpdate struct {
	JobID   ulid.ULID `json:"job_id"`
	Percent int       `json:"percent"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// Handler processes one delivery from a queue. It must be idempotent
// keyed by the payload's job_id/resume_id (at-least-once delivery, §4.3):
// re-processing an already-completed id must perform no external writes
// and issue no new provider calls.
type Handler func(ctx context.Context, payload []byte, progress func(ProgressUpdate)) error

// RetryPolicy bounds per-delivery retry attempts with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialWait  time.Duration
}

// DefaultRetryPolicy is the broker-wide retry contract: up to 3 attempts,
// backoff starting at 5s (§4.3).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialWait: 5 * time.Second}
}

// Broker is the named-queue work distributor (C3). Implementations own
// delivery, retry-with-backoff, dead-lettering after exhaustion, and
// parent/child flow completion tracking.
type Broker interface {
	// Enqueue publishes a typed payload to the named queue. jobID is the
	// cooperative-cancellation key and the id progress events are routed
	// under; it is independent of any payload field.
	Enqueue(ctx context.Context, queue QueueName, jobID ulid.ULID, payload interface{}) error

	// EnqueueChildren publishes a parent payload plus its children as one
	// logical flow: the parent only reaches a terminal state once every
	// child has (§4.3). parentQueue/childQueue may be the same queue.
	EnqueueChildren(ctx context.Context, parentQueue QueueName, parentJobID ulid.ULID, parent interface{}, childQueue QueueName, childJobID ulid.ULID, children []interface{}) (flowID ulid.ULID, err error)

	// Consume starts a worker loop for the named queue with the given
	// concurrency ceiling, invoking handler for each delivery until ctx
	// is cancelled.
	Consume(ctx context.Context, queue QueueName, concurrency int, handler Handler) error

	// ChildCompleted records a terminal outcome (success or failure) for
	// one child of a flow; Consume calls this automatically as each child
	// delivery reaches a terminal state. Once every child of flowID is
	// terminal the stored parent payload is enqueued on its queue.
	ChildCompleted(ctx context.Context, flowID ulid.ULID, childIndex int, failed bool) error

	// Cancel requests cooperative cancellation of a running job; handlers
	// observe it via ctx and must stop promptly.
	Cancel(ctx context.Context, jobID ulid.ULID) error
}
