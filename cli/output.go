// Terminal output for CLI commands.
//
// Information Hiding:
// - Warning colouring
// - Markdown rendering
// - JSON encoding of results

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/richinex/rtg/token"
)

var (
	warnLabel = color.New(color.FgYellow, color.Bold)
	codeLabel = color.New(color.FgCyan)
	okLabel   = color.New(color.FgGreen, color.Bold)
)

func printWarnings(w io.Writer, warnings []token.Warning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "%s %s %s\n", warnLabel.Sprint("warning:"), codeLabel.Sprintf("[%s]", warn.Code), warn.Message)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderMarkdown renders md for the terminal, falling back to the raw text
// when the renderer cannot be built.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
