// Package prompt assembles the model input from system instructions,
// rolling summary, retrieved memory, recent turns, and tool schemas
// under the model context limit.
package prompt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"sahayak/internal/domain"
	"sahayak/internal/token"
)

// Ratios split the truncatable budget between the three flexible
// sections. Unused allocation flows to the next section in priority
// order (summary, then retrieved memory, then recent turns).
type Ratios struct {
	Summary   float64 `yaml:"summary"`
	Retrieved float64 `yaml:"retrieved"`
	Recent    float64 `yaml:"recent"`
}

// DefaultRatios favors recent turns and retrieved memory over the
// rolling summary.
var DefaultRatios = Ratios{Summary: 0.15, Retrieved: 0.40, Recent: 0.45}

// Builder assembles prompt plans. System instructions and tool schemas
// are reserved in full and never truncated; everything else fits into
// what remains.
type Builder struct {
	counter *token.Counter
	ratios  Ratios
	logger  *slog.Logger
}

// BuilderConfig configures the builder.
type BuilderConfig struct {
	Counter *token.Counter
	Ratios  Ratios
	Logger  *slog.Logger
}

func NewBuilder(cfg BuilderConfig) *Builder {
	r := cfg.Ratios
	if r.Summary+r.Retrieved+r.Recent <= 0 {
		r = DefaultRatios
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{counter: cfg.Counter, ratios: r, logger: cfg.Logger}
}

// Input is everything one turn's prompt is assembled from.
type Input struct {
	System       string
	Summary      string
	Retrieved    domain.RetrievedContext
	Recent       []domain.Message
	Tools        []domain.ToolDefinition
	ContextLimit int
}

// Build produces the prompt plan for one turn. It fails with
// BudgetExceededError only when the reserved sections alone exceed the
// context limit.
func (b *Builder) Build(in Input) (*domain.PromptPlan, error) {
	if in.ContextLimit <= 0 {
		return nil, fmt.Errorf("prompt: context limit must be positive, got %d", in.ContextLimit)
	}

	systemTokens := b.counter.Count(in.System)
	toolsContent := marshalTools(in.Tools)
	toolTokens := b.counter.Count(toolsContent)

	reserved := systemTokens + toolTokens
	if reserved > in.ContextLimit {
		return nil, &domain.BudgetExceededError{Reserved: reserved, Limit: in.ContextLimit}
	}
	remaining := in.ContextLimit - reserved

	norm := b.ratios.Summary + b.ratios.Retrieved + b.ratios.Recent
	allocSummary := int(float64(remaining) * b.ratios.Summary / norm)
	allocRetrieved := int(float64(remaining) * b.ratios.Retrieved / norm)
	allocRecent := remaining - allocSummary - allocRetrieved

	summaryText, summaryTokens := b.fitText(in.Summary, allocSummary)
	carry := allocSummary - summaryTokens

	retrievedText, retrievedTokens := b.fitChunks(in.Retrieved.Chunks, allocRetrieved+carry)
	carry = allocRetrieved + carry - retrievedTokens

	recentMsgs, recentTokens := b.fitRecent(in.Recent, allocRecent+carry)

	plan := &domain.PromptPlan{
		Tools:       in.Tools,
		TotalTokens: reserved + summaryTokens + retrievedTokens + recentTokens,
	}

	addSection := func(name domain.SectionName, content string, tokens int) {
		if content == "" {
			return
		}
		plan.Sections = append(plan.Sections, domain.PromptSection{Name: name, Content: content, Tokens: tokens})
	}
	addSection(domain.SectionSystem, in.System, systemTokens)
	addSection(domain.SectionSummary, summaryText, summaryTokens)
	addSection(domain.SectionRetrieved, retrievedText, retrievedTokens)
	if len(recentMsgs) > 0 {
		plan.Sections = append(plan.Sections, domain.PromptSection{Name: domain.SectionRecent, Tokens: recentTokens})
	}
	addSection(domain.SectionToolSchemas, toolsContent, toolTokens)

	// The wire shape: one system message carrying instructions plus the
	// grounding sections, then the recent turns verbatim.
	var sys strings.Builder
	sys.WriteString(in.System)
	if summaryText != "" {
		sys.WriteString("\n\n# Conversation so far\n")
		sys.WriteString(summaryText)
	}
	if retrievedText != "" {
		sys.WriteString("\n\n# Relevant memory\n")
		sys.WriteString(retrievedText)
	}
	plan.Messages = append(plan.Messages, domain.ChatMessage{Role: domain.RoleSystem, Content: sys.String()})
	plan.Messages = append(plan.Messages, recentMsgs...)

	return plan, nil
}

// fitText returns text cut down to at most allowance tokens, hard-cut
// on a word boundary.
func (b *Builder) fitText(text string, allowance int) (string, int) {
	if text == "" || allowance <= 0 {
		return "", 0
	}
	if n := b.counter.Count(text); n <= allowance {
		return text, n
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.counter.Count(strings.Join(words[:mid], " ")) <= allowance {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return "", 0
	}
	cut := strings.Join(words[:lo], " ")
	return cut, b.counter.Count(cut)
}

// fitChunks includes retrieved chunks in rank order while the joined
// section stays within allowance. Chunks are never truncated here; the
// compressor already sized them to the retrieval budget.
func (b *Builder) fitChunks(chunks []domain.ScoredChunk, allowance int) (string, int) {
	if len(chunks) == 0 || allowance <= 0 {
		return "", 0
	}
	var (
		parts []string
		used  int
	)
	for _, c := range chunks {
		if c.Chunk.Text == "" {
			continue
		}
		part := "- " + c.Chunk.Text
		n := b.counter.Count(part)
		if used+n > allowance {
			break
		}
		parts = append(parts, part)
		used += n
	}
	if len(parts) == 0 {
		return "", 0
	}
	return strings.Join(parts, "\n"), used
}

// fitRecent keeps the newest turns that fit the allowance, returned in
// chronological order. Turns are included whole or not at all.
func (b *Builder) fitRecent(recent []domain.Message, allowance int) ([]domain.ChatMessage, int) {
	if len(recent) == 0 || allowance <= 0 {
		return nil, 0
	}
	used := 0
	start := len(recent)
	for i := len(recent) - 1; i >= 0; i-- {
		n := recent[i].TokenCount
		if n <= 0 {
			n = b.counter.Count(recent[i].Content)
		}
		if used+n > allowance {
			break
		}
		used += n
		start = i
	}
	if start == len(recent) {
		return nil, 0
	}
	msgs := make([]domain.ChatMessage, 0, len(recent)-start)
	for _, m := range recent[start:] {
		msgs = append(msgs, domain.ChatMessage{Role: m.Role, Content: m.Content, ToolName: m.ToolName})
	}
	return msgs, used
}

func marshalTools(tools []domain.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return ""
	}
	return string(raw)
}
