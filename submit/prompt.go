package submit

import (
	"regexp"
	"strings"
)

var (
	inlinePrompt = regexp.MustCompile(`(?i)^PROMPT\s*:?\s+(\S.*)$`)
	blockOpen    = regexp.MustCompile(`(?i)^PROMPT\s*:?$`)
	blockClose   = regexp.MustCompile(`(?i)^END[\s_]?PROMPT$`)
)

// ExtractPrompt pulls the prompt out of compiled template text.
//
// A line "PROMPT <text>" (case-insensitive, optional colon) contributes
// <text>. A line holding only "PROMPT" or "PROMPT:" opens a block that
// runs until "END PROMPT", "ENDPROMPT", "END_PROMPT" or the end of the
// content. Segments are joined with newlines. Content without any marker
// is returned whole.
func ExtractPrompt(content string) string {
	var (
		segments []string
		block    []string
		inBlock  bool
	)
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if inBlock {
			if blockClose.MatchString(line) {
				segments = append(segments, strings.Join(block, "\n"))
				block, inBlock = nil, false
				continue
			}
			block = append(block, strings.TrimRight(strings.TrimSuffix(raw, "\r"), " \t"))
			continue
		}
		if blockOpen.MatchString(line) {
			inBlock = true
			continue
		}
		if m := inlinePrompt.FindStringSubmatch(line); m != nil {
			segments = append(segments, strings.TrimSpace(m[1]))
		}
	}
	if inBlock {
		segments = append(segments, strings.Join(block, "\n"))
	}
	if len(segments) == 0 {
		return content
	}
	return strings.Join(segments, "\n")
}
