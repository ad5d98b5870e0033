package llm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name, model string
	reply       string
	err         error
	got         []ChatMessage
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.model }
func (f *fakeProvider) Chat(_ context.Context, messages []ChatMessage) (LLMResponse, error) {
	f.got = messages
	if f.err != nil {
		return LLMResponse{}, f.err
	}
	return LLMResponse{Content: f.reply, Usage: &TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}}, nil
}

func TestRouterPassesProviderAndModelThrough(t *testing.T) {
	fake := &fakeProvider{name: "openai", model: "gpt-4o-mini", reply: "done"}
	var gotProvider, gotModel string
	r := NewRouter(WithFactory(func(provider, model string) (Provider, error) {
		gotProvider, gotModel = provider, model
		return fake, nil
	}))

	out, err := r.GetCompletion(context.Background(), "summarize", "openai", "gpt-4o-mini")

	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "openai", gotProvider)
	assert.Equal(t, "gpt-4o-mini", gotModel)
	require.Len(t, fake.got, 1)
	assert.Equal(t, UserMessage("summarize"), fake.got[0])
}

func TestRouterProviderError(t *testing.T) {
	boom := errors.New("rate limited")
	r := NewRouter(WithFactory(func(string, string) (Provider, error) {
		return &fakeProvider{name: "x", err: boom}, nil
	}))

	_, err := r.GetCompletion(context.Background(), "p", "x", "y")

	assert.ErrorIs(t, err, boom)
}

func TestRouterEmptyCompletion(t *testing.T) {
	r := NewRouter(WithFactory(func(string, string) (Provider, error) {
		return &fakeProvider{name: "x"}, nil
	}))

	_, err := r.GetCompletion(context.Background(), "p", "x", "y")

	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter()

	_, err := r.GetCompletion(context.Background(), "p", "nope", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestParseProviderType(t *testing.T) {
	cases := map[string]ProviderType{
		"openai":   ProviderOpenAI,
		"GPT":      ProviderOpenAI,
		"claude":   ProviderAnthropic,
		"google":   ProviderGemini,
		"ollama":   ProviderOllama,
		"deepseek": ProviderDeepSeek,
	}
	for in, want := range cases {
		got, err := ParseProviderType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseProviderType("mystery")
	assert.Error(t, err)
}

func TestFromEnvMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := ProviderOpenAI.FromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestFromEnvOllamaNeedsNoKey(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434/v1")

	p, err := ProviderOllama.Model("mistral").FromEnv()

	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "mistral", p.Model())
	assert.Equal(t, "http://gpu-box:11434/v1", p.(*OllamaProvider).BaseURL())
}

func TestBuilderDefaultsModel(t *testing.T) {
	p, err := NewProviderBuilder(ProviderDeepSeek).APIKey("k")

	require.NoError(t, err)
	assert.Equal(t, ModelDeepSeekChat, p.Model())
}

func TestClampUint32(t *testing.T) {
	assert.Equal(t, uint32(42), clampUint32(42))
	assert.Equal(t, uint32(0), clampUint32(-5))
	assert.Equal(t, uint32(math.MaxUint32), clampUint32(int64(math.MaxUint32)+10))
}
