package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// FailureKind classifies a ModelClient failure per the error handling
// design; it is the taxonomy the retry/circuit-breaker wrapper branches on.
type FailureKind string

const (
	FailureRateLimited     FailureKind = "rate_limited"
	FailureTransient       FailureKind = "transient"
	FailurePermanent       FailureKind = "permanent"
	FailureSchemaViolation FailureKind = "schema_violation"
	FailureCircuitOpen     FailureKind = "circuit_open"
)

// ModelError is the error shape returned by every ModelClient operation.
type ModelError struct {
	Kind FailureKind
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model client: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("model client: %s", e.Kind)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Retryable reports whether the caller's retry loop should attempt again;
// RateLimited and Transient are retried, Permanent/SchemaViolation/
// CircuitOpen are not (§4.1, §7).
func (e *ModelError) Retryable() bool {
	switch e.Kind {
	case FailureRateLimited, FailureTransient:
		return true
	default:
		return false
	}
}

// CompletionBudget bounds one Complete call.
type CompletionBudget struct {
	MaxTokens int
	Deadline  time.Duration
}

// ModelClient is the thin contract every stage handler calls through; it
// never leaks provider-specific request/response shapes.
type ModelClient interface {
	// Complete asks the provider to produce a structured object conforming
	// to schema (identified by schemaName for the provider's named-tool
	// mechanism) and decodes the response into result.
	Complete(ctx context.Context, schemaName string, prompt string, result interface{}, budget CompletionBudget) error

	// Embed returns one unit vector per input text, in input order.
	Embed(ctx context.Context, texts []string, model string) ([]Vector, error)
}

// RawSchemaResult is returned by backends that hand back undecoded JSON;
// ModelClient implementations use it internally before unmarshaling into
// the caller's result value.
type RawSchemaResult = json.RawMessage
