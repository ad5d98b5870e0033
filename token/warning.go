package token

// WarningCode classifies a diagnostic produced while compiling a template.
type WarningCode string

const (
	// CodeUnresolvedToken marks a known token with no value.
	CodeUnresolvedToken WarningCode = "UNRESOLVED_TOKEN"
	// CodeUnknownToken marks a token outside the known set.
	CodeUnknownToken WarningCode = "UNKNOWN_TOKEN"
	// CodeMalformedParameter marks a parameterized token whose argument was rejected.
	CodeMalformedParameter WarningCode = "MALFORMED_PARAMETER"
	// CodeInvalidFilter marks a filter value that could not be used.
	CodeInvalidFilter WarningCode = "INVALID_FILTER"
	// CodeBudgetTruncated marks a JSON token cut down to fit its budget.
	CodeBudgetTruncated WarningCode = "BUDGET_TRUNCATED"
)

// Warning is a non-fatal diagnostic. Warnings never abort compilation.
type Warning struct {
	Code    WarningCode       `json:"code"`
	Token   string            `json:"token,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// String returns the human-readable message.
func (w Warning) String() string {
	return w.Message
}
