package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sahayak/internal/domain"
	"sahayak/internal/embedding"
	"sahayak/internal/metrics"
	"sahayak/internal/retry"
	"sahayak/internal/token"
	"sahayak/internal/vector"
)

const summarizerSystemPrompt = `You are a conversation summarizer. Fold the previous summary and the
new turns below into one updated summary. Preserve key facts, names,
decisions, and tool results the assistant would need to continue the
conversation naturally. Keep it under 200 words.`

// Summarizer folds aging raw turns into the conversation's rolling
// summary chunk, re-embeds it, and re-indexes it. Consumed raw chunks
// are only marked for pruning eligibility; the pruner performs the
// actual eviction.
type Summarizer struct {
	store    *Store
	vectors  vector.Store
	cache    *embedding.Cache
	provider domain.Provider
	counter  *token.Counter
	policy   retry.Policy
	logger   *slog.Logger

	recentWindow int
}

// SummarizerConfig configures the summarizer. RecentWindow is the
// number of newest raw turns that are never folded into the summary.
type SummarizerConfig struct {
	Store        *Store
	Vectors      vector.Store
	Cache        *embedding.Cache
	Provider     domain.Provider
	Counter      *token.Counter
	Retry        retry.Policy
	RecentWindow int
	Logger       *slog.Logger
}

func NewSummarizer(cfg SummarizerConfig) *Summarizer {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default
	}
	return &Summarizer{
		store:        cfg.Store,
		vectors:      cfg.Vectors,
		cache:        cfg.Cache,
		provider:     cfg.Provider,
		counter:      cfg.Counter,
		policy:       cfg.Retry,
		recentWindow: cfg.RecentWindow,
		logger:       cfg.Logger,
	}
}

// SummaryChunkID returns the deterministic id of the conversation's
// single rolling summary chunk; re-summarizing upserts in place, which
// is how an old summary is superseded.
func SummaryChunkID(convID string) string {
	return convID + ":summary"
}

// RawChunkID returns the deterministic id of the chunk built from one
// raw turn.
func RawChunkID(convID string, seq int64) string {
	return fmt.Sprintf("%s:msg:%d", convID, seq)
}

// Summarize consumes the oldest contiguous block of raw turns beyond
// the retained recent window and folds it into the rolling summary.
// It is idempotent: when the watermark already covers everything
// outside the recent window it returns (nil, nil) without touching the
// provider.
func (s *Summarizer) Summarize(ctx context.Context, convID string) (*domain.MemoryChunk, error) {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", convID)
	}

	maxSeq, err := s.store.MaxSeq(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("max seq: %w", err)
	}
	through := maxSeq - int64(s.recentWindow)
	if through <= conv.SummarizedThrough {
		// Already-summarized range: no-op.
		return nil, nil
	}

	turns, err := s.store.MessagesInSeqRange(ctx, convID, conv.SummarizedThrough, through)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, nil
	}

	summaryText, err := s.summarize(ctx, conv.RollingSummary, turns)
	if err != nil {
		return nil, fmt.Errorf("summarization call: %w", err)
	}

	vec, err := s.cache.GetOrCompute(ctx, summaryText)
	if err != nil {
		return nil, fmt.Errorf("embed summary: %w", err)
	}

	seqs := make([]int64, len(turns))
	rawIDs := make([]string, len(turns))
	for i, t := range turns {
		seqs[i] = t.Seq
		rawIDs[i] = RawChunkID(convID, t.Seq)
	}

	chunk := domain.MemoryChunk{
		ID:                SummaryChunkID(convID),
		OwnerID:           conv.UserID,
		ConversationID:    convID,
		Mode:              conv.Mode,
		Kind:              domain.ChunkSummary,
		SourceMessageSeqs: seqs,
		Text:              summaryText,
		Embedding:         vec,
		Importance:        0.9,
		TokenCount:        s.counter.Count(summaryText),
		LastAccessedAt:    time.Now().UTC(),
	}
	if err := s.vectors.Upsert(ctx, chunk); err != nil {
		return nil, fmt.Errorf("index summary: %w", err)
	}

	if err := s.vectors.MarkSummarized(ctx, conv.UserID, rawIDs); err != nil {
		s.logger.Warn("failed to mark raw chunks summarized", "conversation", convID, "err", err)
	}

	if err := s.store.UpdateSummary(ctx, convID, summaryText, through); err != nil {
		return nil, fmt.Errorf("advance summary watermark: %w", err)
	}

	metrics.SummarizeRuns.Inc()
	s.logger.Info("conversation summarized",
		"conversation", convID,
		"turns", len(turns),
		"through_seq", through,
		"summary_tokens", chunk.TokenCount,
	)
	return &chunk, nil
}

// summarize asks the LLM for an updated rolling summary.
func (s *Summarizer) summarize(ctx context.Context, previous string, turns []domain.Message) (string, error) {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(previous)
		sb.WriteString("\n\nNew turns:\n")
	}
	for _, m := range turns {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		if m.ToolName != "" {
			sb.WriteString(" [tool: ")
			sb.WriteString(m.ToolName)
			sb.WriteString("]")
		}
		sb.WriteString("\n")
	}

	req := domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: summarizerSystemPrompt},
			{Role: domain.RoleUser, Content: sb.String()},
		},
		MaxTokens:   512,
		Temperature: 0.3,
	}

	var resp *domain.ChatResponse
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.provider.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
