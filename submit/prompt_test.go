package submit

import "testing"

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no marker returns whole content", "just text\nmore", "just text\nmore"},
		{"inline lines joined", "intro\nPROMPT first\n  prompt: second  \nend", "first\nsecond"},
		{"inline colon", "PROMPT: do it", "do it"},
		{"word prefix is not a marker", "PROMPTS are fun", "PROMPTS are fun"},
		{"block to end marker", "x\nPROMPT:\nline one\nline two\nEND PROMPT\ny", "line one\nline two"},
		{"block to end of content", "PROMPT\na\nb", "a\nb"},
		{"block close variants", "PROMPT\na\nENDPROMPT\nPROMPT\nb\nend_prompt", "a\nb"},
		{"inline and block mixed", "PROMPT one\nPROMPT\ntwo\nEND PROMPT", "one\ntwo"},
		{"crlf", "PROMPT a\r\nPROMPT b\r\n", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPrompt(tt.content); got != tt.want {
				t.Errorf("ExtractPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}
