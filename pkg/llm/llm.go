// Package llm provides language model transports used by the semantic
// oracle: Google Gemini through the genai SDK and any OpenAI-compatible
// chat-completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Supported providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Request is a single prompt exchange.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	// JSON asks the provider for a JSON-only reply when it supports it.
	JSON bool
}

// Client generates a completion for a request.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config configures a transport.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	Endpoint  string // base URL override
	Timeout   time.Duration
	MaxTokens int

	// MaxRetries bounds transient-failure retries per request.
	MaxRetries int
	// RequestsPerMinute limits the request rate; zero disables limiting.
	RequestsPerMinute float64
}

// ErrMissingAPIKey is returned when a provider needs a key and none is set.
var ErrMissingAPIKey = errors.New("llm: api key is required")

// NewClient builds the transport for cfg.Provider, wrapped in a rate
// limiter when cfg.RequestsPerMinute is set.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		c   Client
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		c, err = NewGeminiClient(ctx, cfg, logger)
	case ProviderOpenAI, "deepseek":
		c, err = NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: %s, %s)", cfg.Provider, ProviderGemini, ProviderOpenAI)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		c = WithRateLimit(c, cfg.RequestsPerMinute)
	}
	return c, nil
}
