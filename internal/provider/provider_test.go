package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"sahayak/internal/config"
	"sahayak/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenAI_CompleteParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("missing auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get_weather", "arguments": "{\"city\":\"Lucknow\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	resp, err := p.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "weather in Lucknow"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "get_weather" || tc.Arguments["city"] != "Lucknow" {
		t.Fatalf("bad tool call: %+v", tc)
	}
	if resp.Usage.TotalTokens != 60 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestOpenAI_RateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.ChatRequest{})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.Retryable {
		t.Fatal("429 must be retryable")
	}
	if pe.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d", pe.Status)
	}
}

func TestOpenAI_AuthFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-bad", APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.ChatRequest{})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Retryable {
		t.Fatal("401 must be fatal")
	}
}

func TestOpenAI_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.ChatRequest{})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.Retryable {
		t.Fatal("5xx must be retryable")
	}
}

func TestOllama_CompleteHandlesStringArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Arguments arrive as a JSON-encoded string rather than an object.
		w.Write([]byte(`{
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{
					"id": "c1",
					"type": "function",
					"function": {"name": "get_weather", "arguments": "{\"city\": \"Pune\"}"}
				}]
			},
			"done": true,
			"done_reason": ""
		}`))
	}))
	defer srv.Close()

	p := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	resp, err := p.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "weather in Pune"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Arguments["city"] != "Pune" {
		t.Fatalf("arguments = %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish reason = %q", resp.FinishReason)
	}
}

func TestOllama_ConnectionRefusedIsRetryable(t *testing.T) {
	// Port 1 is never listening.
	p := NewOllama(OllamaConfig{APIBase: "http://127.0.0.1:1", Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.ChatRequest{})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.Retryable {
		t.Fatal("connection refused must be retryable")
	}
}

func TestFactory_CachesInstances(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	first, err := f.Get("ollama")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.Get("ollama")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("factory should cache provider instances")
	}
}

func TestFactory_UnknownAndDisabledProviders(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: false, APIBase: "https://api.openai.com/v1"}
	f := NewFactory(cfg, testLogger())

	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := f.Get("openai"); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestFactory_FallsBackToOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{
		Enabled: true,
		APIBase: "https://api.groq.com/openai/v1",
		APIKey:  "gsk-test",
	}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get("groq")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected OpenAI-compatible fallback, got %s", p.Name())
	}
}
