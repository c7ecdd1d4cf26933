package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"brokle/internal/core/domain/ranking"
)

// OpenAIBackendConfig configures the OpenAI-backed Backend.
type OpenAIBackendConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	RequestTimeout time.Duration
}

// OpenAIBackend implements Backend over the OpenAI chat completion and
// embedding APIs. It makes a single attempt per call; Client supplies the
// retry and circuit-breaking around it, so this type only needs to
// classify failures correctly.
type OpenAIBackend struct {
	client    *openai.Client
	chatModel string
	timeout   time.Duration
}

// NewOpenAIBackend constructs an OpenAIBackend from config.
func NewOpenAIBackend(cfg OpenAIBackendConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("modelclient: openai api key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}

	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(clientConfig),
		chatModel: chatModel,
		timeout:   timeout,
	}, nil
}

var _ Backend = (*OpenAIBackend)(nil)

// ChatComplete asks the model to produce a JSON object matching
// schemaName's fields, described in the prompt itself, and returns the
// raw JSON payload for the caller to unmarshal.
func (b *OpenAIBackend) ChatComplete(ctx context.Context, schemaName, prompt string, budget ranking.CompletionBudget) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: b.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("Respond with a single JSON object matching the %q schema. No prose, no markdown fences.", schemaName),
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	if budget.MaxTokens > 0 {
		req.MaxTokens = budget.MaxTokens
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ranking.ModelError{Kind: ranking.FailureSchemaViolation, Err: fmt.Errorf("openai: no choices returned for schema %q", schemaName)}
	}

	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return nil, &ranking.ModelError{Kind: ranking.FailureSchemaViolation, Err: fmt.Errorf("openai: response for schema %q is not valid JSON", schemaName)}
	}
	return json.RawMessage(content), nil
}

// Embed calls the OpenAI embeddings endpoint, converting each returned
// float32 vector to the Vector type the domain uses.
func (b *OpenAIBackend) Embed(ctx context.Context, texts []string, model string) ([]ranking.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &ranking.ModelError{Kind: ranking.FailureSchemaViolation, Err: fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data))}
	}

	vectors := make([]ranking.Vector, len(resp.Data))
	for _, d := range resp.Data {
		v := make(ranking.Vector, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float64(f)
		}
		vectors[d.Index] = v
	}
	return vectors, nil
}

// classifyOpenAIError maps an OpenAI API error to the FailureKind taxonomy
// the Client's retry/circuit-breaker wrapper branches on.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &ranking.ModelError{Kind: ranking.FailureRateLimited, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &ranking.ModelError{Kind: ranking.FailureTransient, Err: err}
		default:
			return &ranking.ModelError{Kind: ranking.FailurePermanent, Err: err}
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ranking.ModelError{Kind: ranking.FailureTransient, Err: err}
	}

	return &ranking.ModelError{Kind: ranking.FailureTransient, Err: err}
}
