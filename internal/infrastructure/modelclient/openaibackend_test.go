package modelclient

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
)

func TestClassifyOpenAIError_RateLimit(t *testing.T) {
	err := classifyOpenAIError(&openai.APIError{HTTPStatusCode: 429, Message: "rate limited"})

	var merr *ranking.ModelError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, ranking.FailureRateLimited, merr.Kind)
	assert.True(t, merr.Retryable())
}

func TestClassifyOpenAIError_ServerError(t *testing.T) {
	err := classifyOpenAIError(&openai.APIError{HTTPStatusCode: 503, Message: "upstream unavailable"})

	var merr *ranking.ModelError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, ranking.FailureTransient, merr.Kind)
	assert.True(t, merr.Retryable())
}

func TestClassifyOpenAIError_ClientError(t *testing.T) {
	err := classifyOpenAIError(&openai.APIError{HTTPStatusCode: 400, Message: "bad request"})

	var merr *ranking.ModelError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, ranking.FailurePermanent, merr.Kind)
	assert.False(t, merr.Retryable())
}

func TestClassifyOpenAIError_NetworkFailure(t *testing.T) {
	err := classifyOpenAIError(&openai.RequestError{HTTPStatusCode: 0, Err: errors.New("dial tcp: timeout")})

	var merr *ranking.ModelError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, ranking.FailureTransient, merr.Kind)
	assert.True(t, merr.Retryable())
}

func TestNewOpenAIBackend_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIBackend(OpenAIBackendConfig{})
	assert.Error(t, err)
}

func TestNewOpenAIBackend_DefaultsModelAndTimeout(t *testing.T) {
	backend, err := NewOpenAIBackend(OpenAIBackendConfig{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, openai.GPT4oMini, backend.chatModel)
	assert.True(t, backend.timeout > 0)
}
