package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"
	"testing"

	"sahayak/internal/domain"
	"sahayak/internal/embedding"
	"sahayak/internal/token"
	"sahayak/internal/vector"
)

type stubEmbedder struct {
	calls atomic.Int64
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 4)
	for i := range vec {
		vec[i] = float32(sum[i])/255 + 0.01
	}
	return vec, nil
}

func (e *stubEmbedder) Dims() int { return 4 }

type stubLLM struct {
	calls  atomic.Int64
	answer string
}

func (p *stubLLM) Complete(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls.Add(1)
	return &domain.ChatResponse{Content: p.answer, FinishReason: "stop"}, nil
}

func (p *stubLLM) Name() string                    { return "stub" }
func (p *stubLLM) Healthy(_ context.Context) error { return nil }

func newTestVectors(t *testing.T) vector.Store {
	t.Helper()
	vs, err := vector.NewChromemStore(vector.Config{Logger: testLogger()})
	if err != nil {
		t.Fatalf("new vector store: %v", err)
	}
	t.Cleanup(func() { vs.Close() })
	return vs
}

func newTestSummarizer(t *testing.T, s *Store, vs vector.Store, llm *stubLLM, window int) *Summarizer {
	t.Helper()
	cache := embedding.NewCache(embedding.CacheConfig{Embedder: &stubEmbedder{}, Logger: testLogger()})
	return NewSummarizer(SummarizerConfig{
		Store:        s,
		Vectors:      vs,
		Cache:        cache,
		Provider:     llm,
		Counter:      token.NewCounter("gpt-4o-mini"),
		RecentWindow: window,
		Logger:       testLogger(),
	})
}

func appendTurns(t *testing.T, s *Store, convID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		if _, err := s.AddMessage(context.Background(), domain.Message{
			ConversationID: convID,
			Role:           role,
			Content:        fmt.Sprintf("turn %d about the wheat harvest", i+1),
			TokenCount:     6,
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSummarize_FoldsAgingTurnsAndAdvancesWatermark(t *testing.T) {
	s := newTestStore(t)
	vs := newTestVectors(t)
	ctx := context.Background()
	createConv(t, s, "c1")
	appendTurns(t, s, "c1", 25)

	llm := &stubLLM{answer: "The user asked about wheat harvest schedules."}
	sum := newTestSummarizer(t, s, vs, llm, 5)

	chunk, err := sum.Summarize(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if chunk == nil {
		t.Fatal("expected a summary chunk")
	}
	if chunk.Kind != domain.ChunkSummary {
		t.Fatalf("wrong kind: %s", chunk.Kind)
	}
	if chunk.ID != SummaryChunkID("c1") {
		t.Fatalf("summary chunk id not deterministic: %s", chunk.ID)
	}
	if got := len(chunk.SourceMessageSeqs); got != 20 {
		t.Fatalf("expected 20 consumed turns (25 minus window 5), got %d", got)
	}

	conv, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.SummarizedThrough != 20 {
		t.Fatalf("watermark = %d, want 20", conv.SummarizedThrough)
	}
	if conv.RollingSummary != llm.answer {
		t.Fatalf("rolling summary not persisted: %q", conv.RollingSummary)
	}

	stored, err := vs.Get(ctx, "u1", SummaryChunkID("c1"))
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Fatal("summary chunk not indexed")
	}
}

func TestSummarize_SecondRunIsNoOp(t *testing.T) {
	s := newTestStore(t)
	vs := newTestVectors(t)
	ctx := context.Background()
	createConv(t, s, "c1")
	appendTurns(t, s, "c1", 25)

	llm := &stubLLM{answer: "summary"}
	sum := newTestSummarizer(t, s, vs, llm, 5)

	if _, err := sum.Summarize(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	chunk, err := sum.Summarize(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if chunk != nil {
		t.Fatal("second run over the same range must be a no-op")
	}
	if llm.calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", llm.calls.Load())
	}
}

func TestSummarize_MarksConsumedRawChunks(t *testing.T) {
	s := newTestStore(t)
	vs := newTestVectors(t)
	ctx := context.Background()
	createConv(t, s, "c1")
	appendTurns(t, s, "c1", 8)

	// Index the raw turns the way the service does, so the summarizer
	// has chunks to flag.
	emb := &stubEmbedder{}
	for seq := int64(1); seq <= 8; seq++ {
		vec, _ := emb.Embed(ctx, fmt.Sprintf("turn %d", seq))
		if err := vs.Upsert(ctx, domain.MemoryChunk{
			ID:             RawChunkID("c1", seq),
			OwnerID:        "u1",
			ConversationID: "c1",
			Mode:           "weather",
			Kind:           domain.ChunkRaw,
			Text:           fmt.Sprintf("turn %d", seq),
			Embedding:      vec,
			Importance:     0.6,
			TokenCount:     3,
		}); err != nil {
			t.Fatal(err)
		}
	}

	llm := &stubLLM{answer: "summary"}
	sum := newTestSummarizer(t, s, vs, llm, 3)
	if _, err := sum.Summarize(ctx, "c1"); err != nil {
		t.Fatal(err)
	}

	// Turns 1..5 were folded in; their raw chunks are now prunable.
	consumed, err := vs.Get(ctx, "u1", RawChunkID("c1", 2))
	if err != nil {
		t.Fatal(err)
	}
	if consumed == nil || !consumed.Summarized {
		t.Fatal("consumed raw chunk should be marked summarized")
	}
	retained, err := vs.Get(ctx, "u1", RawChunkID("c1", 7))
	if err != nil {
		t.Fatal(err)
	}
	if retained == nil || retained.Summarized {
		t.Fatal("recent-window chunk must not be marked summarized")
	}
}

func TestSummarize_NoOpWhenUnderWindow(t *testing.T) {
	s := newTestStore(t)
	vs := newTestVectors(t)
	createConv(t, s, "c1")
	appendTurns(t, s, "c1", 4)

	llm := &stubLLM{answer: "summary"}
	sum := newTestSummarizer(t, s, vs, llm, 10)

	chunk, err := sum.Summarize(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if chunk != nil {
		t.Fatal("nothing outside the recent window, expected no-op")
	}
	if llm.calls.Load() != 0 {
		t.Fatal("provider must not be called on no-op")
	}
}
