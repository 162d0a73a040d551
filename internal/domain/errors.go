package domain

import (
	"fmt"
	"strings"
)

// ProviderError is a transport-level failure from an embedding or LLM
// provider. Retryable marks transient failures (timeouts, 429, 5xx,
// network) that the retry policy may attempt again; everything else
// (auth, malformed request, content policy) propagates immediately.
type ProviderError struct {
	Provider  string
	Status    int
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: HTTP %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderExhaustedError is surfaced when the retry policy runs out of
// attempts. Last carries the final attempt's error.
type ProviderExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ProviderExhaustedError) Error() string {
	return fmt.Sprintf("provider failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ProviderExhaustedError) Unwrap() error { return e.Last }

// RetrievalError wraps an embedding or search failure after retries.
// It is distinct from the zero-results case, which is not an error.
type RetrievalError struct {
	Stage string // "embed" | "search"
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// BudgetExceededError means the non-truncatable prompt sections alone
// do not fit the model context limit.
type BudgetExceededError struct {
	Reserved int
	Limit    int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("reserved prompt sections need %d tokens, model limit is %d", e.Reserved, e.Limit)
}

// UnknownToolError means the model requested a tool name with no
// registered handler.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// InvalidArgumentsError means the model's arguments failed schema
// validation; the handler was never invoked.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Reason)
}

// ToolExecutionError means the handler timed out, panicked, or returned
// an error. It is non-fatal to the turn: the router reports it to the
// model as a structured failure result.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// OutputValidationError is surfaced after the corrective re-prompt also
// produces a response that fails validation.
type OutputValidationError struct {
	Reasons []string
}

func (e *OutputValidationError) Error() string {
	return "model output failed validation: " + strings.Join(e.Reasons, "; ")
}
