package token

import (
	"errors"
	"sort"
)

// Formatter renders a parameterized token from its argument.
type Formatter func(arg string) (string, error)

var errEmptyArgument = errors.New("empty argument")

// formatters are resolved structurally, before any replacement lookup.
var formatters = map[string]Formatter{
	"SEVERITY_BADGE": severityBadge,
}

// severityBadge renders {{SEVERITY_BADGE:High}} as [High].
func severityBadge(level string) (string, error) {
	if level == "" {
		return "", errEmptyArgument
	}
	return "[" + level + "]", nil
}

// FormatterNames returns the names of the built-in parameterized tokens.
func FormatterNames() []string {
	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
