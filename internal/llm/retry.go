package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries     int           // retry attempts after the first call
	InitialBackoff time.Duration // doubles each retry
	MaxBackoff     time.Duration // backoff ceiling
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     8 * time.Second,
	}
}

// Backoff computes the exponential delay before the given retry attempt,
// capped at MaxBackoff.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}
	return time.Duration(backoff)
}

// RetryingClient wraps a model client with bounded exponential-backoff retry
// of retryable failures. Non-retryable failures surface immediately.
type RetryingClient struct {
	Client types.ModelClient
	Config RetryConfig
}

var _ types.ModelClient = (*RetryingClient)(nil)

func (r *RetryingClient) Send(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.ModelResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.Config.MaxRetries; attempt++ {
		resp, err := r.Client.Send(ctx, msgs, tools)
		if err == nil {
			if attempt > 0 {
				logging.API("model call succeeded on attempt %d", attempt+1)
			}
			return resp, nil
		}

		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
		logging.API("model call attempt %d/%d failed: %v", attempt+1, r.Config.MaxRetries+1, err)

		if attempt < r.Config.MaxRetries {
			backoff := r.Config.Backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, r.Config.MaxRetries+1, lastErr)
}
