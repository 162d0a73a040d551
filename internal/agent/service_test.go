package agent

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sahayak/internal/domain"
	"sahayak/internal/embedding"
	"sahayak/internal/memory"
	"sahayak/internal/prompt"
	"sahayak/internal/retrieval"
	"sahayak/internal/retry"
	"sahayak/internal/token"
	"sahayak/internal/tool"
	"sahayak/internal/vector"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubEmbedder derives a deterministic vector from the text so equal
// inputs always embed identically.
type stubEmbedder struct{}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 4)
	for i := range vec {
		vec[i] = float32(sum[i])/255 + 0.01
	}
	return vec, nil
}

func (e *stubEmbedder) Dims() int { return 4 }

// scriptedProvider replays a fixed sequence of responses and records
// every request it sees.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	requests  []domain.ChatRequest
	err       error // returned on every call when set
}

func (p *scriptedProvider) Complete(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &domain.ChatResponse{Content: "out of script", FinishReason: "stop"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) lastRequest() domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

type stubTool struct {
	name  string
	reply string
	calls atomic.Int64
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub tool" }

func (t *stubTool) Parameters() map[string]any {
	return tool.ToolParameters(map[string]tool.Param{
		"city": {Type: "string", Description: "city name"},
	}, []string{"city"})
}

func (t *stubTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	t.calls.Add(1)
	return t.reply, nil
}

func newTestAgent(t *testing.T, p domain.Provider, roundLimit int, tools ...domain.Tool) (*Service, *memory.Service) {
	t.Helper()
	logger := testLogger()

	store, err := memory.NewStore(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	vs, err := vector.NewChromemStore(vector.Config{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	cache := embedding.NewCache(embedding.CacheConfig{Embedder: &stubEmbedder{}, Logger: logger})
	counter := token.NewCounter("gpt-4o-mini")

	summarizer := memory.NewSummarizer(memory.SummarizerConfig{
		Store:    store,
		Vectors:  vs,
		Cache:    cache,
		Provider: p,
		Counter:  counter,
		Logger:   logger,
	})
	pruner := memory.NewPruner(memory.PrunerConfig{Vectors: vs, Logger: logger})
	mem := memory.NewService(memory.ServiceConfig{
		Store:      store,
		Vectors:    vs,
		Cache:      cache,
		Counter:    counter,
		Summarizer: summarizer,
		Pruner:     pruner,
		Logger:     logger,
	})

	ret := retrieval.NewService(retrieval.ServiceConfig{
		Cache:      cache,
		Store:      vs,
		Reranker:   retrieval.NewReranker(retrieval.RerankerConfig{}),
		Compressor: retrieval.NewCompressor(retrieval.CompressorConfig{Counter: counter}),
		Logger:     logger,
	})

	registry := tool.NewRegistry(logger)
	for _, tl := range tools {
		registry.Register(tl)
	}
	router := tool.NewRouter(tool.RouterConfig{Registry: registry, Timeout: time.Second, Logger: logger})

	svc := NewService(ServiceConfig{
		Memory:    mem,
		Retrieval: ret,
		Builder:   prompt.NewBuilder(prompt.BuilderConfig{Counter: counter, Logger: logger}),
		Registry:  registry,
		Router:    router,
		Provider:  p,
		Retry: retry.Policy{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
		},
		ToolRoundLimit: roundLimit,
		Logger:         logger,
	})
	return svc, mem
}

func TestRunTurn_WeatherToolCall(t *testing.T) {
	weather := &stubTool{name: "get_weather", reply: "28C, light rain expected"}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{
			ToolCalls: []domain.ToolCall{{
				ID:        "call_1",
				Name:      "get_weather",
				Arguments: map[string]any{"city": "Lucknow"},
			}},
			FinishReason: "tool_calls",
		},
		{Content: "Light rain is expected in Lucknow today, carry a cover for your produce.", FinishReason: "stop"},
	}}
	svc, mem := newTestAgent(t, p, 0, weather)

	res, err := svc.RunTurn(context.Background(), TurnRequest{
		ConversationID: "c1", UserID: "u1", Mode: "weather",
		Text: "weather in Lucknow",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "Lucknow") {
		t.Fatalf("unexpected answer: %q", res.Text)
	}
	if res.ToolCalls != 1 {
		t.Fatalf("tool calls = %d, want 1", res.ToolCalls)
	}
	if got := weather.calls.Load(); got != 1 {
		t.Fatalf("handler invoked %d times", got)
	}
	if res.CorrelationID == "" {
		t.Fatal("missing correlation id")
	}

	// The first model request must offer the registered tool.
	p.mu.Lock()
	first := p.requests[0]
	p.mu.Unlock()
	if len(first.Tools) != 1 || first.Tools[0].Name != "get_weather" {
		t.Fatalf("tools offered = %+v", first.Tools)
	}

	// Persisted turn shape: user, tool record, assistant.
	window, err := mem.ContextWindow(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(window.RecentMessages) != 3 {
		t.Fatalf("persisted %d messages, want 3", len(window.RecentMessages))
	}
	roles := []string{
		window.RecentMessages[0].Role,
		window.RecentMessages[1].Role,
		window.RecentMessages[2].Role,
	}
	want := []string{domain.RoleUser, domain.RoleTool, domain.RoleAssistant}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("message roles = %v, want %v", roles, want)
		}
	}
	if window.RecentMessages[1].ToolName != "get_weather" {
		t.Fatalf("tool record name = %q", window.RecentMessages[1].ToolName)
	}
}

func TestRunTurn_PlainAnswerWithoutTools(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "Sow after the first good rain.", FinishReason: "stop"},
	}}
	svc, mem := newTestAgent(t, p, 0)

	res, err := svc.RunTurn(context.Background(), TurnRequest{
		ConversationID: "c1", UserID: "u1", Mode: "weather",
		Text: "when should I sow paddy",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ToolCalls != 0 {
		t.Fatalf("tool calls = %d, want 0", res.ToolCalls)
	}
	window, _ := mem.ContextWindow(context.Background(), "c1")
	if len(window.RecentMessages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(window.RecentMessages))
	}
}

func TestRunTurn_TitleFromFirstMessage(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "ok", FinishReason: "stop"},
	}}
	svc, mem := newTestAgent(t, p, 0)
	ctx := context.Background()

	if _, err := svc.RunTurn(ctx, TurnRequest{
		ConversationID: "c1", UserID: "u1", Mode: "market",
		Text: "onion prices in Nashik",
	}); err != nil {
		t.Fatal(err)
	}
	conv, err := mem.GetOrCreateConversation(ctx, "c1", "u1", "market")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Title != "onion prices in Nashik" {
		t.Fatalf("title = %q", conv.Title)
	}
}

func TestRunTurn_ToolRoundLimitStopsLoop(t *testing.T) {
	looping := &stubTool{name: "get_weather", reply: "still raining"}
	// Always requests another tool call with no text, so only the round
	// bound can end the turn.
	loopResp := &domain.ChatResponse{
		ToolCalls: []domain.ToolCall{{
			ID: "c", Name: "get_weather", Arguments: map[string]any{"city": "Pune"},
		}},
		FinishReason: "tool_calls",
	}
	p := &scriptedProvider{responses: []*domain.ChatResponse{loopResp}}
	svc, _ := newTestAgent(t, p, 2, looping)

	_, err := svc.RunTurn(context.Background(), TurnRequest{
		ConversationID: "c1", UserID: "u1", Mode: "weather", Text: "rain?",
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "tool round limit") {
		t.Fatalf("err = %v", err)
	}
	// Initial call plus one per allowed round.
	if got := p.callCount(); got != 3 {
		t.Fatalf("llm calls = %d, want 3", got)
	}
	if got := looping.calls.Load(); got != 2 {
		t.Fatalf("handler calls = %d, want 2", got)
	}
}

func TestRunTurn_CorrectiveRepromptRecovers(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "   ", FinishReason: "stop"},
		{Content: "Mandi rates for onion are around 1800 rupees per quintal.", FinishReason: "stop"},
	}}
	svc, _ := newTestAgent(t, p, 0)

	res, err := svc.RunTurn(context.Background(), TurnRequest{
		ConversationID: "c1", UserID: "u1", Mode: "market", Text: "onion rate",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "1800") {
		t.Fatalf("answer = %q", res.Text)
	}
	if got := p.callCount(); got != 2 {
		t.Fatalf("llm calls = %d, want 2", got)
	}

	// The corrective round must carry the rejection as a user message
	// and must not offer tools.
	last := p.lastRequest()
	if len(last.Tools) != 0 {
		t.Fatalf("corrective round offered tools: %+v", last.Tools)
	}
	tail := last.Messages[len(last.Messages)-1]
	if tail.Role != domain.RoleUser || !strings.Contains(tail.Content, "rejected") {
		t.Fatalf("corrective message = %+v", tail)
	}
}

func TestRunTurn_SecondValidationFailureSurfaces(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "", FinishReason: "stop"},
		{Content: "", FinishReason: "stop"},
	}}
	svc, mem := newTestAgent(t, p, 0)

	_, err := svc.RunTurn(context.Background(), TurnRequest{
		ConversationID: "c1", UserID: "u1", Mode: "scheme", Text: "help",
	})
	var ve *domain.OutputValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected OutputValidationError, got %v", err)
	}

	// The user message stays committed, no assistant message is added.
	window, werr := mem.ContextWindow(context.Background(), "c1")
	if werr != nil {
		t.Fatal(werr)
	}
	if len(window.RecentMessages) != 1 || window.RecentMessages[0].Role != domain.RoleUser {
		t.Fatalf("messages after failed turn: %+v", window.RecentMessages)
	}
}

func TestRunTurn_ProviderExhaustedFailsTurn(t *testing.T) {
	p := &scriptedProvider{err: &domain.ProviderError{
		Provider: "scripted", Status: 503, Retryable: true,
		Err: errors.New("upstream down"),
	}}
	svc, _ := newTestAgent(t, p, 0)

	_, err := svc.RunTurn(context.Background(), TurnRequest{
		ConversationID: "c1", UserID: "u1", Mode: "weather", Text: "rain?",
	})
	var ex *domain.ProviderExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ProviderExhaustedError, got %v", err)
	}
	if ex.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", ex.Attempts)
	}
}
