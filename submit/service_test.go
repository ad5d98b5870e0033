package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/rtg/compile"
	"github.com/richinex/rtg/config"
	"github.com/richinex/rtg/token"
)

type fakeCompiler struct {
	result compile.Result
	err    error
	got    compile.Request
}

func (f *fakeCompiler) Compile(_ context.Context, req compile.Request) (compile.Result, error) {
	f.got = req
	return f.result, f.err
}

type fakeCompleter struct {
	output string
	err    error

	prompt, provider, model string
	calls                   int
}

func (f *fakeCompleter) GetCompletion(_ context.Context, prompt, provider, model string) (string, error) {
	f.calls++
	f.prompt, f.provider, f.model = prompt, provider, model
	return f.output, f.err
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(c Compiler, l Completer, cfg config.LLMConfig) *Service {
	return NewService(c, l, cfg, WithClock(func() time.Time { return fixedNow }))
}

func TestSubmitComposesCompileAndCompletion(t *testing.T) {
	warn := token.Warning{Code: token.CodeUnknownToken, Token: "{{X}}", Message: "Unknown token {{X}} was left unchanged"}
	comp := &fakeCompiler{result: compile.Result{
		Content:  "Header\nPROMPT Summarize for tester\nfooter",
		Warnings: []token.Warning{warn},
	}}
	llm := &fakeCompleter{output: "LLM OUTPUT"}
	svc := newTestService(comp, llm, config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"})

	res, err := svc.Submit(context.Background(), Request{
		Content:  "PROMPT Summarize for {{AUTHOR}}",
		Filters:  token.Filters{"author": "tester"},
		Provider: "openai",
		Model:    "m",
	})

	require.NoError(t, err)
	assert.Equal(t, "LLM OUTPUT", res.Output)
	assert.Equal(t, Meta{Provider: "openai", Model: "m", CreatedAt: "2024-05-01T12:00:00.000Z"}, res.Meta)
	assert.Equal(t, []token.Warning{warn}, res.Warnings)

	assert.Equal(t, "PROMPT Summarize for {{AUTHOR}}", comp.got.Content)
	assert.Equal(t, token.Filters{"author": "tester"}, comp.got.Filters)
	assert.Equal(t, "Summarize for tester", llm.prompt)
	assert.Equal(t, "openai", llm.provider)
	assert.Equal(t, "m", llm.model)
}

func TestSubmitDefaultsProviderAndModel(t *testing.T) {
	llm := &fakeCompleter{output: "ok"}
	svc := newTestService(&fakeCompiler{}, llm, config.LLMConfig{Provider: "anthropic", Model: "claude-x"})

	res, err := svc.Submit(context.Background(), Request{Content: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "anthropic", res.Meta.Provider)
	assert.Equal(t, "claude-x", res.Meta.Model)
}

func TestSubmitOllamaModelDefault(t *testing.T) {
	t.Setenv("OLLAMA_MODEL", "")
	llm := &fakeCompleter{output: "ok"}
	svc := newTestService(&fakeCompiler{}, llm, config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"})

	res, err := svc.Submit(context.Background(), Request{Content: "hi", Provider: "ollama"})

	require.NoError(t, err)
	assert.Equal(t, "llama3:latest", res.Meta.Model)
	assert.Equal(t, "llama3:latest", llm.model)
}

func TestSubmitUnknownProviderFallsBackToDefaultModel(t *testing.T) {
	llm := &fakeCompleter{output: "ok"}
	svc := newTestService(&fakeCompiler{}, llm, config.LLMConfig{Provider: "openai", Model: "gpt-4o"})

	res, err := svc.Submit(context.Background(), Request{Content: "hi", Provider: "custom"})

	require.NoError(t, err)
	assert.Equal(t, "custom", res.Meta.Provider)
	assert.Equal(t, "gpt-4o-mini", res.Meta.Model)
}

func TestSubmitCompileErrorPropagatesUnchanged(t *testing.T) {
	boom := &compile.DataUnavailableError{Dataset: "threats", Err: errors.New("down")}
	llm := &fakeCompleter{}
	svc := newTestService(&fakeCompiler{err: boom}, llm, config.LLMConfig{})

	_, err := svc.Submit(context.Background(), Request{Content: "x"})

	assert.Same(t, boom, err)
	assert.ErrorIs(t, err, compile.ErrDataUnavailable)
	assert.Zero(t, llm.calls)
}

func TestSubmitGenerationFailed(t *testing.T) {
	boom := errors.New("rate limited")
	svc := newTestService(&fakeCompiler{}, &fakeCompleter{err: boom}, config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"})

	_, err := svc.Submit(context.Background(), Request{Content: "x"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, boom)
	var gfe *GenerationFailedError
	require.ErrorAs(t, err, &gfe)
	assert.Equal(t, "openai", gfe.Provider)
	assert.Equal(t, "gpt-4o-mini", gfe.Model)
}
