package domain

// SectionName identifies one slot of the assembled prompt. The order of
// the constants below is the fixed assembly order.
type SectionName string

const (
	SectionSystem      SectionName = "system"
	SectionSummary     SectionName = "summary"
	SectionRetrieved   SectionName = "retrieved"
	SectionRecent      SectionName = "recent"
	SectionToolSchemas SectionName = "tools"
)

// PromptSection is one assembled slot with its final token count.
type PromptSection struct {
	Name    SectionName
	Content string
	Tokens  int
}

// PromptPlan is the final assembled model input. It is request-scoped
// and never persisted. TotalTokens ≤ the model context limit it was
// built for.
type PromptPlan struct {
	Sections    []PromptSection
	Messages    []ChatMessage
	Tools       []ToolDefinition
	TotalTokens int
}
