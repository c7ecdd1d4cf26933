package modelclient

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
)

type fakeBackend struct {
	completeCalls  int32
	embedCalls     int32
	completeErrs   []error
	completeResult json.RawMessage
	embedResult    []ranking.Vector
	embedErr       error
}

func (f *fakeBackend) ChatComplete(ctx context.Context, schemaName, prompt string, budget ranking.CompletionBudget) (json.RawMessage, error) {
	i := atomic.AddInt32(&f.completeCalls, 1) - 1
	if int(i) < len(f.completeErrs) && f.completeErrs[i] != nil {
		return nil, f.completeErrs[i]
	}
	return f.completeResult, nil
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string, model string) ([]ranking.Vector, error) {
	atomic.AddInt32(&f.embedCalls, 1)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([]ranking.Vector, len(texts))
	for i := range texts {
		out[i] = ranking.Vector{1, 0}
	}
	return out, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func TestClient_Complete_RetriesTransientThenSucceeds(t *testing.T) {
	backend := &fakeBackend{
		completeErrs:   []error{&ranking.ModelError{Kind: ranking.FailureTransient}, nil},
		completeResult: json.RawMessage(`{"ok":true}`),
	}
	client := New(backend, fastRetry(), DefaultCircuitConfig(), nil, nil)

	var out struct {
		OK bool `json:"ok"`
	}
	err := client.Complete(context.Background(), "parse_jd", "prompt", &out, ranking.CompletionBudget{})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(2), backend.completeCalls)
}

func TestClient_Complete_PermanentFailureNotRetried(t *testing.T) {
	backend := &fakeBackend{
		completeErrs: []error{&ranking.ModelError{Kind: ranking.FailurePermanent}},
	}
	client := New(backend, fastRetry(), DefaultCircuitConfig(), nil, nil)

	var out map[string]interface{}
	err := client.Complete(context.Background(), "parse_jd", "prompt", &out, ranking.CompletionBudget{})
	require.Error(t, err)
	assert.Equal(t, int32(1), backend.completeCalls)
}

func TestClient_Complete_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	backend := &fakeBackend{
		completeErrs: []error{
			&ranking.ModelError{Kind: ranking.FailurePermanent},
			&ranking.ModelError{Kind: ranking.FailurePermanent},
		},
	}
	client := New(backend, RetryConfig{MaxAttempts: 1}, CircuitConfig{Threshold: 2, Cooldown: time.Minute}, nil, nil)

	var out map[string]interface{}
	for i := 0; i < 2; i++ {
		_ = client.Complete(context.Background(), "parse_jd", "prompt", &out, ranking.CompletionBudget{})
	}
	err := client.Complete(context.Background(), "parse_jd", "prompt", &out, ranking.CompletionBudget{})
	require.Error(t, err)
	var merr *ranking.ModelError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ranking.FailureCircuitOpen, merr.Kind)
	assert.Equal(t, int32(2), backend.completeCalls, "breaker must fail fast without calling the backend a third time")
}

func TestClient_Embed_CacheCollapsesDuplicateInputs(t *testing.T) {
	backend := &fakeBackend{}
	cache, err := NewEmbeddingCache(128, nil)
	require.NoError(t, err)
	client := New(backend, fastRetry(), DefaultCircuitConfig(), cache, nil)

	texts := []string{"same sentence", "same sentence", "same sentence"}
	vectors, err := client.Embed(context.Background(), texts, "test-model")
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, int32(1), backend.embedCalls, "N identical inputs must issue exactly one provider call")

	vectors2, err := client.Embed(context.Background(), texts, "test-model")
	require.NoError(t, err)
	assert.Len(t, vectors2, 3)
	assert.Equal(t, int32(1), backend.embedCalls, "a second, fully-cached submission must issue zero additional provider calls")
}
