package domain

import "context"

// Tool is the capability interface domain modules register their
// actions behind (weather lookup, market prices, scheme search, ...).
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema for the tool's arguments.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolCall is a model-issued action request.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallStatus tracks the lifecycle of a dispatched call.
type ToolCallStatus string

const (
	ToolPending  ToolCallStatus = "pending"
	ToolExecuted ToolCallStatus = "executed"
	ToolFailed   ToolCallStatus = "failed"
)

// ToolResult is what the router hands back to the model for one call.
// Failures are reported here as structured content rather than raised,
// so the conversation can continue.
type ToolResult struct {
	Call    ToolCall
	Status  ToolCallStatus
	Content string
}

// ToolDefinition is the schema-bearing description sent to the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
