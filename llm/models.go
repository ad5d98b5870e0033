// Package llm provides shared data models for LLM providers.
package llm

import (
	"math"

	"fortio.org/safecast"
)

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    "system",
		Content: content,
	}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    "user",
		Content: content,
	}
}

// LLMResponse represents a response from an LLM provider.
type LLMResponse struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// newTokenUsage converts SDK counters, clamping values that do not fit.
func newTokenUsage[T int | int32 | int64](prompt, completion, total T) *TokenUsage {
	return &TokenUsage{
		PromptTokens:     clampUint32(prompt),
		CompletionTokens: clampUint32(completion),
		TotalTokens:      clampUint32(total),
	}
}

func clampUint32[T int | int32 | int64](v T) uint32 {
	n, err := safecast.Conv[uint32](v)
	if err == nil {
		return n
	}
	if v < 0 {
		return 0
	}
	return math.MaxUint32
}
