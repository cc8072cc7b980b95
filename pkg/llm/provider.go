package llm

import (
	"context"
	"time"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response decoding.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Complete sends one non-streaming chat request with the given tools.
	Complete(ctx context.Context, req *Request) (*Reply, error)

	// ListModels returns the models the backend can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultTimeout bounds a single model call when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// EffectiveTimeout returns Timeout or DefaultTimeout.
func (c *Config) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}
