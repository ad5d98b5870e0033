// Completion router - the single LLM entry point used by report submission.
//
// Information Hiding:
// - Provider selection by name
// - Provider construction and credentials
// - Prompt-to-message wrapping

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// ProviderFactory builds a provider for a provider name and model.
type ProviderFactory func(provider, model string) (Provider, error)

// Router turns a prompt into a completion using a provider chosen per call.
// It holds no per-call state and is safe for concurrent use.
type Router struct {
	factory     ProviderFactory
	maxTokens   uint32
	temperature float32
	logger      *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithFactory replaces provider construction, mainly for tests.
func WithFactory(f ProviderFactory) RouterOption {
	return func(r *Router) { r.factory = f }
}

// WithMaxTokens sets the response token limit for built providers.
func WithMaxTokens(n uint32) RouterOption {
	return func(r *Router) { r.maxTokens = n }
}

// WithTemperature sets the sampling temperature for built providers.
func WithTemperature(t float32) RouterOption {
	return func(r *Router) { r.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router. By default providers are built from
// environment credentials.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		maxTokens:   1024,
		temperature: 0.7,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = r.envFactory
	}
	return r
}

func (r *Router) envFactory(provider, model string) (Provider, error) {
	pt, err := ParseProviderType(provider)
	if err != nil {
		return nil, err
	}
	return NewProviderBuilder(pt).
		Model(model).
		MaxTokens(r.maxTokens).
		Temperature(r.temperature).
		FromEnv()
}

// GetCompletion sends promptText as a single user message and returns the
// reply text. provider and model are passed through unmodified.
func (r *Router) GetCompletion(ctx context.Context, promptText, provider, model string) (string, error) {
	p, err := r.factory(provider, model)
	if err != nil {
		return "", fmt.Errorf("failed to create provider: %w", err)
	}

	r.logger.Debug("requesting completion",
		zap.String("provider", p.Name()),
		zap.String("model", p.Model()),
		zap.Int("prompt_bytes", len(promptText)))

	start := time.Now()
	resp, err := p.Chat(ctx, []ChatMessage{UserMessage(promptText)})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", ErrEmptyCompletion
	}

	fields := []zap.Field{
		zap.String("provider", p.Name()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if resp.Usage != nil {
		fields = append(fields,
			zap.Uint32("prompt_tokens", resp.Usage.PromptTokens),
			zap.Uint32("completion_tokens", resp.Usage.CompletionTokens))
	}
	r.logger.Info("completion received", fields...)

	return resp.Content, nil
}
