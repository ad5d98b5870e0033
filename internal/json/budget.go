// Package json provides budgeted JSON encoding for template tokens.
//
// Dataset tokens can be arbitrarily large. Encoding under a budget keeps
// the output valid JSON while capping its length in characters: arrays
// lose trailing elements, objects are replaced by a truncation marker.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Encoded is the result of a budgeted encoding.
type Encoded struct {
	Text      string // valid JSON
	Truncated bool   // Text is shorter than the full encoding
	Length    int    // characters in the full encoding
	Count     int    // elements in the input (arrays only)
	Kept      int    // elements present in Text (arrays only)
}

// Len returns the length of s in characters.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Valid reports whether s is syntactically valid JSON.
func Valid(s string) bool {
	return json.Valid([]byte(s))
}

// MarshalSlice encodes items as a JSON array of at most budget characters.
// When the full array does not fit, the longest prefix of items that fits
// is kept. A nil slice encodes as []. A budget <= 0 disables the limit.
func MarshalSlice[T any](items []T, budget int) (Encoded, error) {
	parts := make([]string, len(items))
	lengths := make([]int, len(items))
	total := 2 // brackets
	for i, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return Encoded{}, fmt.Errorf("element %d: %w", i, err)
		}
		parts[i] = string(b)
		lengths[i] = Len(parts[i])
		total += lengths[i]
		if i > 0 {
			total++ // comma
		}
	}

	enc := Encoded{Length: total, Count: len(items), Kept: len(items)}
	if budget <= 0 || total <= budget {
		enc.Text = "[" + strings.Join(parts, ",") + "]"
		return enc, nil
	}

	kept, size := 0, 2
	for kept < len(parts) {
		next := size + lengths[kept]
		if kept > 0 {
			next++
		}
		if next > budget {
			break
		}
		size = next
		kept++
	}

	enc.Text = "[" + strings.Join(parts[:kept], ",") + "]"
	enc.Truncated = true
	enc.Kept = kept
	return enc, nil
}

// truncationMarker replaces an object that exceeds its budget.
type truncationMarker struct {
	Truncated bool   `json:"truncated"`
	Label     string `json:"label"`
	Length    int    `json:"length"`
	Budget    int    `json:"budget"`
	Note      string `json:"note"`
}

// MarshalObject encodes v under budget. When the encoding is too long it
// returns a truncation marker object instead, labelled with label.
func MarshalObject(v any, budget int, label string) (Encoded, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Encoded{}, err
	}
	text := string(b)
	n := Len(text)
	if budget <= 0 || n <= budget {
		return Encoded{Text: text, Length: n}, nil
	}

	marker, err := json.Marshal(truncationMarker{
		Truncated: true,
		Label:     label,
		Length:    n,
		Budget:    budget,
		Note:      fmt.Sprintf("%s exceeded budget (%d > %d)", label, n, budget),
	})
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{Text: string(marker), Truncated: true, Length: n}, nil
}
