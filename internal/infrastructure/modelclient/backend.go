// Package modelclient implements the ModelClient contract (C1): a
// retrying, circuit-breaking, cache-fronted wrapper over a provider
// backend.
package modelclient

import (
	"context"
	"encoding/json"

	"brokle/internal/core/domain/ranking"
)

// Backend is the raw provider transport a Client wraps. Implementations
// are responsible for classifying provider failures into a
// *ranking.ModelError with the correct FailureKind — the Client only
// branches on that classification, never on transport-specific error
// shapes.
type Backend interface {
	ChatComplete(ctx context.Context, schemaName, prompt string, budget ranking.CompletionBudget) (json.RawMessage, error)
	Embed(ctx context.Context, texts []string, model string) ([]ranking.Vector, error)
}
