package cli

import (
	"fmt"
	"strings"

	"github.com/richinex/rtg/token"
)

// ParseFilters turns repeated key=value flags into filters. The value may
// itself contain '='. A later key overrides an earlier one.
func ParseFilters(pairs []string) (token.Filters, error) {
	filters := token.Filters{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", pair)
		}
		filters[key] = value
	}
	return filters, nil
}
