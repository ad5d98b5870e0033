// Ollama Provider implementation using go-openai library.
//
// Information Hiding:
// - Talks to Ollama's OpenAI-compatible /v1 endpoint
// - No API key; the base URL selects the server

package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOllamaBaseURL is the local Ollama server's OpenAI-compatible endpoint.
const DefaultOllamaBaseURL = "http://localhost:11434/v1"

// OllamaProvider implements the Provider interface for a local Ollama server.
type OllamaProvider struct {
	client      *openai.Client
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(baseURL, model string, maxTokens uint32, temperature float32) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	// Ollama ignores the key but go-openai always sends one.
	config := openai.DefaultConfig("ollama")
	config.BaseURL = baseURL

	return &OllamaProvider{
		client:      openai.NewClientWithConfig(config),
		baseURL:     baseURL,
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the current model.
func (p *OllamaProvider) Model() string {
	return p.model
}

// BaseURL returns the server endpoint.
func (p *OllamaProvider) BaseURL() string {
	return p.baseURL
}

// Chat sends a chat completion request.
func (p *OllamaProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return chatCompletion(ctx, p.client, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
}

// Verify OllamaProvider implements Provider
var _ Provider = (*OllamaProvider)(nil)
