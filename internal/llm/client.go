package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks a generative-model call that exceeded its deadline.
// Callers must treat it as a recoverable dependency failure, never as a
// reason to guess.
var ErrTimeout = errors.New("llm: inference timed out")

// Client is the narrow interface to a generative-model backend
type Client interface {
	// Complete sends a single prompt and returns the model's text reply
	Complete(ctx context.Context, prompt string) (string, error)
	// GetModelName returns the model name
	GetModelName() string
}

// NewClient builds a client for the named provider
func NewClient(providerName, apiKey, model string) (Client, error) {
	switch providerName {
	case "", "google":
		return NewGoogleClient(apiKey, model)
	case "openai":
		return NewOpenAIClient(apiKey, model)
	case "anthropic":
		return NewAnthropicClient(apiKey, model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", providerName)
	}
}

// BoundedClient wraps a Client with a per-call timeout
type BoundedClient struct {
	inner   Client
	timeout time.Duration
}

// NewBoundedClient applies timeout to every Complete call on inner
func NewBoundedClient(inner Client, timeout time.Duration) *BoundedClient {
	return &BoundedClient{inner: inner, timeout: timeout}
}

func (c *BoundedClient) GetModelName() string {
	return c.inner.GetModelName()
}

func (c *BoundedClient) Complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.inner.Complete(callCtx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", err
	}
	return text, nil
}
