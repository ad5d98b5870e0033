// Package token resolves {{TOKEN}} placeholders in report templates.
//
// Resolution is a single left-to-right pass: replacement values are
// written to the output as-is and never scanned again.
package token

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ReplacementMap maps a canonical bracketed token, e.g. "{{AUTHOR}}",
// to its literal value.
type ReplacementMap map[string]string

// Filters are caller-supplied values keyed by filter name.
type Filters map[string]string

// Project returns the project scope named by the filters, if any.
// projectUuid wins over project_id, which wins over projectId.
func (f Filters) Project() string {
	for _, key := range []string{"projectUuid", "project_id", "projectId"} {
		if v := strings.TrimSpace(f[key]); v != "" {
			return v
		}
	}
	return ""
}

// KnownSet is the set of canonical tokens the caller recognises,
// whether or not a value exists for them.
type KnownSet map[string]struct{}

// NewKnownSet builds a set, canonicalising each token.
func NewKnownSet(tokens ...string) KnownSet {
	s := make(KnownSet, len(tokens))
	for _, t := range tokens {
		s.Add(t)
	}
	return s
}

// Add inserts a token. Whitespace inside the braces is dropped.
func (s KnownSet) Add(tok string) {
	s[canonical(tok)] = struct{}{}
}

// Contains reports whether tok is known.
func (s KnownSet) Contains(tok string) bool {
	_, ok := s[canonical(tok)]
	return ok
}

// Sorted returns the tokens in lexical order.
func (s KnownSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Result is the outcome of Resolve.
type Result struct {
	Content  string
	Warnings []Warning
}

// Key returns the canonical form of a simple token.
func Key(name string) string {
	return "{{" + name + "}}"
}

// ParamKey returns the canonical form of a parameterized token.
func ParamKey(name, arg string) string {
	return "{{" + name + ":" + arg + "}}"
}

// tokenPattern matches {{ NAME }} and {{ NAME : ARG }}.
// Group 1 is the name, group 2 the colon, group 3 the raw argument.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?:(:)([^}]*))?\}\}`)

var braceNormalizer = strings.NewReplacer(
	"&#123;", "{",
	"&#125;", "}",
	"&lbrace;", "{",
	"&rbrace;", "}",
	"｛", "{",
	"［", "{",
	"｝", "}",
	"］", "}",
)

// NormalizeBraces rewrites HTML-entity and full-width braces to ASCII so
// that tokens pasted from rich editors still resolve.
func NormalizeBraces(s string) string {
	return braceNormalizer.Replace(s)
}

// Resolve substitutes every token occurrence in content.
//
// Parameterized tokens with a built-in formatter are rendered by the
// formatter. Other tokens are looked up in replacements. Unresolved
// tokens stay verbatim and produce one warning per occurrence, in
// order of appearance. Text that does not match the token grammar is
// copied through untouched.
func Resolve(content string, filters Filters, replacements ReplacementMap, known KnownSet) Result {
	content = NormalizeBraces(content)
	project := filters.Project()

	var b strings.Builder
	b.Grow(len(content))
	warnings := []Warning{}

	last := 0
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(content, -1) {
		start, end := m[0], m[1]
		b.WriteString(content[last:start])
		last = end

		raw := content[start:end]
		name := content[m[2]:m[3]]
		parameterized := m[4] >= 0

		var key, arg string
		if parameterized {
			arg = strings.TrimSpace(content[m[6]:m[7]])
			key = ParamKey(name, arg)
		} else {
			key = Key(name)
		}

		if parameterized {
			if format, ok := formatters[name]; ok {
				out, err := format(arg)
				if err != nil {
					b.WriteString(raw)
					warnings = append(warnings, newWarning(CodeMalformedParameter, key, project,
						fmt.Sprintf("Malformed parameter in %s: %v", key, err)))
					continue
				}
				b.WriteString(out)
				continue
			}
		}

		isKnown := known.Contains(key) || (parameterized && known.Contains(Key(name)))

		if val, ok := replacements[key]; ok {
			b.WriteString(val)
			if !isKnown {
				warnings = append(warnings, newWarning(CodeUnknownToken, key, project,
					fmt.Sprintf("Token %s was substituted but is not a known token", key)))
			}
			continue
		}

		b.WriteString(raw)
		if isKnown {
			warnings = append(warnings, newWarning(CodeUnresolvedToken, key, project,
				fmt.Sprintf("Known token %s has no value and was left unchanged", key)))
		} else {
			warnings = append(warnings, newWarning(CodeUnknownToken, key, project,
				fmt.Sprintf("Unknown token %s was left unchanged", key)))
		}
	}
	b.WriteString(content[last:])

	return Result{Content: b.String(), Warnings: warnings}
}

func newWarning(code WarningCode, key, project, msg string) Warning {
	w := Warning{Code: code, Token: key, Message: msg}
	if project != "" {
		w.Details = map[string]string{"project": project}
	}
	return w
}

// canonical strips whitespace inside the braces of a token string.
// Strings that are not tokens are returned trimmed.
func canonical(tok string) string {
	tok = strings.TrimSpace(NormalizeBraces(tok))
	m := tokenPattern.FindStringSubmatch(tok)
	if m == nil || m[0] != tok {
		return tok
	}
	if m[2] != "" {
		return ParamKey(m[1], strings.TrimSpace(m[3]))
	}
	return Key(m[1])
}
