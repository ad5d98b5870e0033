// Report submission - compiles a template, extracts its prompt and asks a
// completion provider for the report text.
//
// Information Hiding:
// - Prompt extraction rules
// - Provider and model defaulting
// - Completion error classification

package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/rtg/compile"
	"github.com/richinex/rtg/config"
	"github.com/richinex/rtg/token"
)

// ErrGenerationFailed matches any completion failure.
var ErrGenerationFailed = errors.New("generation failed")

// GenerationFailedError reports a completion failure.
type GenerationFailedError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("generate with %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *GenerationFailedError) Unwrap() error { return e.Err }

func (e *GenerationFailedError) Is(target error) bool {
	return target == ErrGenerationFailed
}

// Compiler compiles template text.
type Compiler interface {
	Compile(ctx context.Context, req compile.Request) (compile.Result, error)
}

// Completer turns a prompt into generated text.
type Completer interface {
	GetCompletion(ctx context.Context, prompt, provider, model string) (string, error)
}

// Request is a template to compile and submit.
// Empty Provider and Model fall back to configured defaults.
type Request struct {
	Content  string
	Filters  token.Filters
	Provider string
	Model    string
}

// Meta describes a generation.
type Meta struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
}

// Result is the generated report.
type Result struct {
	Output   string          `json:"output"`
	Meta     Meta            `json:"meta"`
	Warnings []token.Warning `json:"warnings"`
}

// Service submits templates. Safe for concurrent use.
type Service struct {
	compiler  Compiler
	completer Completer
	provider  string
	model     string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for Meta.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a submit service. cfg supplies the default provider
// and model.
func NewService(compiler Compiler, completer Completer, cfg config.LLMConfig, opts ...Option) *Service {
	s := &Service{
		compiler:  compiler,
		completer: completer,
		provider:  cfg.Provider,
		model:     cfg.Model,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	if s.provider == "" {
		s.provider = "openai"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit compiles req, extracts the prompt and generates the report.
// Compile errors are returned unchanged. Nothing is persisted.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	createdAt := s.now().UTC().Format(compile.TimeLayout)
	provider, model := s.resolve(req.Provider, req.Model)

	compiled, err := s.compiler.Compile(ctx, compile.Request{Content: req.Content, Filters: req.Filters})
	if err != nil {
		return Result{}, err
	}

	prompt := ExtractPrompt(compiled.Content)
	s.logger.Debug("submitting prompt",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("warnings", len(compiled.Warnings)))

	output, err := s.completer.GetCompletion(ctx, prompt, provider, model)
	if err != nil {
		return Result{}, &GenerationFailedError{Provider: provider, Model: model, Err: err}
	}

	return Result{
		Output:   output,
		Meta:     Meta{Provider: provider, Model: model, CreatedAt: createdAt},
		Warnings: compiled.Warnings,
	}, nil
}

func (s *Service) resolve(provider, model string) (string, string) {
	if provider == "" {
		provider = s.provider
	}
	if model != "" {
		return provider, model
	}
	if config.NormalizeProvider(provider) == config.NormalizeProvider(s.provider) && s.model != "" {
		return provider, s.model
	}
	if m, err := config.ModelFor(provider); err == nil && m != "" {
		return provider, m
	}
	return provider, "gpt-4o-mini"
}
