package domain

import "time"

// Roles a message in a conversation can carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Conversation is one user session/topic thread. Mode names the domain
// module the conversation runs under (e.g. "weather", "market", "scheme")
// and is immutable after creation.
type Conversation struct {
	ID             string
	UserID         string
	Mode           string
	Title          string
	RollingSummary string
	// SummarizedThrough is the sequence number of the newest message that
	// has been folded into the rolling summary. Messages at or below this
	// watermark are never re-summarized.
	SummarizedThrough int64
	CreatedAt         time.Time
	LastActiveAt      time.Time
}

// Message is one turn's content. Messages are never mutated after
// creation; TokenCount is computed once when the message is stored.
type Message struct {
	ID             int64
	Seq            int64 // insertion sequence within the conversation, total order
	ConversationID string
	Role           string
	Content        string
	ToolName       string
	TokenCount     int
	CreatedAt      time.Time
}
