package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownTokensAndWarnsOnUnknown(t *testing.T) {
	content := "Hello {{ AUTHOR }} on {{GENERATED_AT}} X {{UNKNOWN_TOKEN}} and {{SEVERITY_BADGE:High}}"
	replacements := ReplacementMap{
		"{{AUTHOR}}":       "tester",
		"{{GENERATED_AT}}": "2025-01-01T00:00:00.000Z",
	}
	known := NewKnownSet("{{AUTHOR}}", "{{GENERATED_AT}}")

	res := Resolve(content, Filters{"author": "tester"}, replacements, known)

	assert.Equal(t, "Hello tester on 2025-01-01T00:00:00.000Z X {{UNKNOWN_TOKEN}} and [High]", res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeUnknownToken, res.Warnings[0].Code)
	assert.Equal(t, "{{UNKNOWN_TOKEN}}", res.Warnings[0].Token)
	assert.Contains(t, res.Warnings[0].String(), "{{UNKNOWN_TOKEN}}")
}

func TestResolveNoWarningsForFilledKnownTokens(t *testing.T) {
	res := Resolve(
		"Hello {{AUTHOR}} on {{GENERATED_AT}}",
		Filters{"author": "tester"},
		ReplacementMap{"{{AUTHOR}}": "tester", "{{GENERATED_AT}}": "2025-01-01T00:00:00.000Z"},
		NewKnownSet("{{AUTHOR}}", "{{GENERATED_AT}}"),
	)

	assert.Contains(t, res.Content, "tester")
	assert.Contains(t, res.Content, "2025-01-01T00:00:00.000Z")
	assert.Empty(t, res.Warnings)
}

func TestResolveIsDeterministic(t *testing.T) {
	content := "{{A}} {{B}} {{C}} {{SEVERITY_BADGE:Low}} {{A}}"
	repl := ReplacementMap{"{{A}}": "1", "{{B}}": "2"}
	known := NewKnownSet("{{A}}", "{{B}}", "{{C}}")

	first := Resolve(content, nil, repl, known)
	second := Resolve(content, nil, repl, known)

	assert.Equal(t, first, second)
}

func TestResolveDoesNotRescanReplacementValues(t *testing.T) {
	repl := ReplacementMap{
		"{{OUTER}}": "{{INNER}}",
		"{{INNER}}": "boom",
	}
	res := Resolve("x {{OUTER}} y", nil, repl, NewKnownSet("{{OUTER}}", "{{INNER}}"))

	assert.Equal(t, "x {{INNER}} y", res.Content)
	assert.Empty(t, res.Warnings)
}

func TestResolveSeverityBadgeIgnoresReplacements(t *testing.T) {
	repl := ReplacementMap{"{{SEVERITY_BADGE:High}}": "overridden"}
	res := Resolve("{{SEVERITY_BADGE:High}} {{ SEVERITY_BADGE : Critical }}", nil, repl, NewKnownSet())

	assert.Equal(t, "[High] [Critical]", res.Content)
	assert.Empty(t, res.Warnings)
}

func TestResolveSeverityBadgeEmptyArgument(t *testing.T) {
	res := Resolve("a {{SEVERITY_BADGE: }} b", nil, nil, NewKnownSet())

	assert.Equal(t, "a {{SEVERITY_BADGE: }} b", res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeMalformedParameter, res.Warnings[0].Code)
}

func TestResolveKnownButUnfilled(t *testing.T) {
	res := Resolve("{{PROJECT_KEY}}", nil, ReplacementMap{}, NewKnownSet("{{PROJECT_KEY}}"))

	assert.Equal(t, "{{PROJECT_KEY}}", res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeUnresolvedToken, res.Warnings[0].Code)
}

func TestResolveReplacementWithoutKnownEntryStillWarns(t *testing.T) {
	res := Resolve("{{EXTRA}}", nil, ReplacementMap{"{{EXTRA}}": "v"}, NewKnownSet())

	assert.Equal(t, "v", res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeUnknownToken, res.Warnings[0].Code)
}

func TestResolveWarningsFollowOccurrenceOrder(t *testing.T) {
	res := Resolve("{{B}} {{A}} {{B}}", nil, nil, NewKnownSet("{{A}}"))

	require.Len(t, res.Warnings, 3)
	assert.Equal(t, "{{B}}", res.Warnings[0].Token)
	assert.Equal(t, "{{A}}", res.Warnings[1].Token)
	assert.Equal(t, "{{B}}", res.Warnings[2].Token)
	assert.Equal(t, CodeUnresolvedToken, res.Warnings[1].Code)
}

func TestResolveMalformedSequencesAreLiteral(t *testing.T) {
	inputs := []string{
		"{{ }}",
		"{{1ABC}}",
		"{AUTHOR}",
		"{{AUTHOR}",
		"{{AUTHOR NAME}}",
		"}}{{",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			res := Resolve(in, nil, ReplacementMap{"{{AUTHOR}}": "x"}, NewKnownSet("{{AUTHOR}}"))
			assert.Equal(t, in, res.Content)
			assert.Empty(t, res.Warnings)
		})
	}
}

func TestResolveNormalizesEntityBraces(t *testing.T) {
	res := Resolve("&#123;&#123;AUTHOR&#125;&#125; ｛｛AUTHOR｝｝", nil,
		ReplacementMap{"{{AUTHOR}}": "tester"}, NewKnownSet("{{AUTHOR}}"))

	assert.Equal(t, "tester tester", res.Content)
}

func TestResolveParameterizedLookup(t *testing.T) {
	repl := ReplacementMap{"{{LABEL:x}}": "ex"}

	res := Resolve("{{LABEL: x }} {{LABEL:y}}", nil, repl, NewKnownSet("{{LABEL}}"))

	assert.Equal(t, "ex {{LABEL:y}}", res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeUnresolvedToken, res.Warnings[0].Code)
	assert.Equal(t, "{{LABEL:y}}", res.Warnings[0].Token)
}

func TestResolveWarningCarriesProjectScope(t *testing.T) {
	res := Resolve("{{NOPE}}", Filters{"project_id": "p-1"}, nil, NewKnownSet())

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, map[string]string{"project": "p-1"}, res.Warnings[0].Details)
}

func TestKnownSetCanonicalises(t *testing.T) {
	s := NewKnownSet("{{ AUTHOR }}", "{{SEVERITY_BADGE : High}}")

	assert.True(t, s.Contains("{{AUTHOR}}"))
	assert.True(t, s.Contains("{{SEVERITY_BADGE:High}}"))
	assert.Equal(t, []string{"{{AUTHOR}}", "{{SEVERITY_BADGE:High}}"}, s.Sorted())
}

func TestFiltersProjectPrecedence(t *testing.T) {
	assert.Equal(t, "a", Filters{"projectUuid": "a", "project_id": "b"}.Project())
	assert.Equal(t, "b", Filters{"project_id": "b", "projectId": "c"}.Project())
	assert.Equal(t, "c", Filters{"projectId": "c"}.Project())
	assert.Equal(t, "", Filters{}.Project())
}
