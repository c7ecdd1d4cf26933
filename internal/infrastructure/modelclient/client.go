package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"brokle/internal/core/domain/ranking"
)

// RetryConfig mirrors the §4.1/§6 retry policy: exponential backoff
// starting at InitialWait, capped at MaxWait, up to MaxAttempts total
// attempts.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultRetryConfig matches the spec's stated defaults (initial 1s, cap
// 30s, at least 3 attempts).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 30 * time.Second}
}

// CircuitConfig configures the per-client circuit breaker: trip after
// Threshold consecutive failures, stay open for Cooldown, then probe.
type CircuitConfig struct {
	Threshold uint32
	Cooldown  time.Duration
}

// DefaultCircuitConfig is a conservative default: five consecutive
// failures trips the breaker for thirty seconds.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// Client implements ranking.ModelClient over a Backend, adding retry with
// backoff, a circuit breaker, and a content-addressed embedding cache with
// singleflight miss collapsing.
type Client struct {
	backend Backend
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
	cache   *EmbeddingCache
	logger  *slog.Logger
}

// New constructs a Client. cache may be nil to disable embedding caching
// (tests commonly do this to assert exact call counts against a fake
// backend that already tracks calls itself).
func New(backend Backend, retry RetryConfig, circuit CircuitConfig, cache *EmbeddingCache, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "modelclient",
		MaxRequests: 1,
		Timeout:     circuit.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= circuit.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("model client circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		backend: backend,
		retry:   retry,
		breaker: gobreaker.NewCircuitBreaker(settings),
		cache:   cache,
		logger:  logger,
	}
}

var _ ranking.ModelClient = (*Client)(nil)

// Complete retries transient/rate-limited failures with exponential
// backoff, fails fast with CircuitOpen when the breaker is open, and
// decodes the final response into result.
func (c *Client) Complete(ctx context.Context, schemaName, prompt string, result interface{}, budget ranking.CompletionBudget) error {
	if budget.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.Deadline)
		defer cancel()
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.completeWithRetry(ctx, schemaName, prompt, budget)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &ranking.ModelError{Kind: ranking.FailureCircuitOpen, Err: err}
		}
		return err
	}

	return json.Unmarshal(raw.(json.RawMessage), result)
}

func (c *Client) completeWithRetry(ctx context.Context, schemaName, prompt string, budget ranking.CompletionBudget) (json.RawMessage, error) {
	var raw json.RawMessage
	bo := backoff.WithContext(c.backOff(), ctx)

	operation := func() error {
		r, err := c.backend.ChatComplete(ctx, schemaName, prompt, budget)
		if err != nil {
			var merr *ranking.ModelError
			if errors.As(err, &merr) && !merr.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		raw = r
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return raw, nil
}

// Embed returns one unit vector per text, consulting the content-addressed
// cache first and collapsing concurrent misses for the same key.
func (c *Client) Embed(ctx context.Context, texts []string, model string) ([]ranking.Vector, error) {
	if c.cache == nil {
		return c.embedWithRetry(ctx, texts, model)
	}
	return c.cache.EmbedCached(ctx, texts, model, c.embedWithRetry)
}

func (c *Client) embedWithRetry(ctx context.Context, texts []string, model string) ([]ranking.Vector, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var vectors []ranking.Vector
		bo := backoff.WithContext(c.backOff(), ctx)

		operation := func() error {
			v, err := c.backend.Embed(ctx, texts, model)
			if err != nil {
				var merr *ranking.ModelError
				if errors.As(err, &merr) && !merr.Retryable() {
					return backoff.Permanent(err)
				}
				return err
			}
			vectors = v
			return nil
		}

		if err := backoff.Retry(operation, bo); err != nil {
			return nil, err
		}
		return vectors, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ranking.ModelError{Kind: ranking.FailureCircuitOpen, Err: err}
		}
		return nil, err
	}
	return result.([]ranking.Vector), nil
}

func (c *Client) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retry.InitialWait
	eb.MaxInterval = c.retry.MaxWait
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, uint64(maxInt(c.retry.MaxAttempts-1, 0)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
