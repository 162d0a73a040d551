package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"sahayak/internal/domain"
)

const defaultMaxResponseChars = 8000

// Validator checks a model response against the output contract before
// it is committed as the turn's answer. A non-empty violation list
// triggers one corrective re-prompt; a second failure ends the turn
// with an OutputValidationError.
type Validator struct {
	maxChars int
}

// ValidatorConfig configures the output validator.
type ValidatorConfig struct {
	MaxResponseChars int
}

func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.MaxResponseChars <= 0 {
		cfg.MaxResponseChars = defaultMaxResponseChars
	}
	return &Validator{maxChars: cfg.MaxResponseChars}
}

// Validate returns the violations found in resp, or an empty slice when
// the response is acceptable as the final answer for the turn.
func (v *Validator) Validate(resp *domain.ChatResponse, toolsOffered bool) []string {
	var reasons []string

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		reasons = append(reasons, "response text is empty")
	}
	if len(text) > v.maxChars {
		reasons = append(reasons, fmt.Sprintf("response exceeds %d characters", v.maxChars))
	}
	if !utf8.ValidString(text) || strings.ContainsRune(text, '�') {
		reasons = append(reasons, "response contains invalid or replacement characters")
	}

	// Tool calls that survive to validation are a shape violation: the
	// dispatcher drains well-formed calls before validating.
	for _, call := range resp.ToolCalls {
		if call.Name == "" {
			reasons = append(reasons, "tool call without a name")
		} else if !toolsOffered {
			reasons = append(reasons, fmt.Sprintf("tool call %q issued when no tools were offered", call.Name))
		}
	}

	return reasons
}

// correctiveInstruction builds the re-prompt appended after a failed
// validation, telling the model exactly what to fix.
func correctiveInstruction(reasons []string) string {
	var sb strings.Builder
	sb.WriteString("Your previous reply was rejected: ")
	sb.WriteString(strings.Join(reasons, "; "))
	sb.WriteString(". Reply again with plain text only, keep it within the length limit, and do not request any tools.")
	return sb.String()
}
