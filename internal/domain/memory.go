package domain

import "time"

// ChunkKind distinguishes the two memory chunk types.
type ChunkKind string

const (
	ChunkRaw     ChunkKind = "raw"
	ChunkSummary ChunkKind = "summary"
)

// MemoryChunk is an embeddable unit of memory: either a single raw turn
// or a rolling summary covering many turns. The embedding dimension is
// fixed by the embedding provider; Importance is in [0,1].
type MemoryChunk struct {
	ID             string
	OwnerID        string
	ConversationID string
	Mode           string
	Kind           ChunkKind
	// SourceMessageSeqs are the conversation sequence numbers of the
	// messages this chunk was built from.
	SourceMessageSeqs []int64
	Text              string
	Embedding         []float32
	Importance        float64
	TokenCount        int
	// Summarized marks a raw chunk whose content is covered by a summary
	// chunk, which makes it eligible for pruning.
	Summarized     bool
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// RetrievalQuery is a request for grounded context.
type RetrievalQuery struct {
	Text        string
	OwnerID     string
	Mode        string
	TopK        int
	MinScore    float64
	TokenBudget int
}

// ScoredChunk pairs a chunk with its raw similarity and blended score.
type ScoredChunk struct {
	Chunk      MemoryChunk
	Similarity float64
	FinalScore float64
}

// RetrievedContext is the output of retrieval: chunks ordered by
// descending final score, with TotalTokens never exceeding the
// requested budget.
type RetrievedContext struct {
	Chunks      []ScoredChunk
	TotalTokens int
}

// Empty reports whether retrieval found nothing usable. An empty
// context is a normal outcome, not an error.
func (rc RetrievedContext) Empty() bool {
	return len(rc.Chunks) == 0
}

// ContextWindow is what the memory service hands to the prompt builder:
// the conversation's rolling summary plus the most recent raw turns.
type ContextWindow struct {
	RollingSummary string
	RecentMessages []Message
}
