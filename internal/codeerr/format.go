package codeerr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		e = Wrap(KindStorage, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", e.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Kind: %s\n", e.Kind))
	return sb.String()
}

// jsonError is the JSON representation of an Error.
type jsonError struct {
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON renders err as JSON, suitable for log sinks or MCP responses.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	e, ok := err.(*Error)
	if !ok {
		e = Wrap(KindStorage, err)
	}

	je := jsonError{
		Kind:       string(e.Kind),
		Message:    e.Message,
		Severity:   string(e.Severity),
		Details:    e.Details,
		Suggestion: e.Suggestion,
		Retryable:  e.Retryable,
	}
	if e.Cause != nil {
		je.Cause = e.Cause.Error()
	}
	return json.Marshal(je)
}

// LogFields returns key-value pairs suitable for slog attributes.
func LogFields(err error) map[string]any {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	fields := map[string]any{
		"error_kind": string(e.Kind),
		"message":    e.Message,
		"severity":   string(e.Severity),
		"retryable":  e.Retryable,
	}
	if e.Cause != nil {
		fields["cause"] = e.Cause.Error()
	}
	if e.Suggestion != "" {
		fields["suggestion"] = e.Suggestion
	}
	for k, v := range e.Details {
		fields["detail_"+k] = v
	}
	return fields
}
