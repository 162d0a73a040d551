package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sahayak/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTool is a configurable tool for router tests.
type fakeTool struct {
	name     string
	required []string
	execute  func(ctx context.Context, args map[string]any) (string, error)
	calls    atomic.Int64
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "test tool" }

func (t *fakeTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"city": {Type: "string", Description: "city name"},
		},
		t.required,
	)
}

func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	t.calls.Add(1)
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	return "ok: " + ArgsString(args, "city"), nil
}

func newTestRouter(tools ...domain.Tool) (*Router, *Registry) {
	reg := NewRegistry(testLogger())
	for _, t := range tools {
		reg.Register(t)
	}
	return NewRouter(RouterConfig{Registry: reg, Logger: testLogger()}), reg
}

func TestExecute_UnknownToolNeverInvokesHandlers(t *testing.T) {
	ft := &fakeTool{name: "get_weather", required: []string{"city"}}
	router, _ := newTestRouter(ft)

	res, err := router.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "launch_rocket"})
	var unknown *domain.UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if res.Status != domain.ToolFailed {
		t.Fatalf("result status = %s", res.Status)
	}
	if ft.calls.Load() != 0 {
		t.Fatal("registered handler was invoked for an unknown name")
	}
}

func TestExecute_MissingRequiredArgument(t *testing.T) {
	ft := &fakeTool{name: "get_weather", required: []string{"city"}}
	router, _ := newTestRouter(ft)

	res, err := router.Execute(context.Background(), domain.ToolCall{
		ID: "1", Name: "get_weather", Arguments: map[string]any{},
	})
	var invalid *domain.InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentsError, got %v", err)
	}
	if invalid.Tool != "get_weather" {
		t.Fatalf("wrong tool name: %s", invalid.Tool)
	}
	if res.Status != domain.ToolFailed {
		t.Fatalf("result status = %s", res.Status)
	}
	if ft.calls.Load() != 0 {
		t.Fatal("handler was invoked with invalid arguments")
	}
}

func TestExecute_WrongArgumentType(t *testing.T) {
	ft := &fakeTool{name: "get_weather", required: []string{"city"}}
	router, _ := newTestRouter(ft)

	_, err := router.Execute(context.Background(), domain.ToolCall{
		ID: "1", Name: "get_weather", Arguments: map[string]any{"city": 42},
	})
	var invalid *domain.InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentsError, got %v", err)
	}
}

func TestExecute_ValidCallReturnsResult(t *testing.T) {
	ft := &fakeTool{name: "get_weather", required: []string{"city"}}
	router, _ := newTestRouter(ft)

	res, err := router.Execute(context.Background(), domain.ToolCall{
		ID: "1", Name: "get_weather", Arguments: map[string]any{"city": "Lucknow"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.ToolExecuted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Content != "ok: Lucknow" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestExecute_HandlerErrorBecomesStructuredFailure(t *testing.T) {
	ft := &fakeTool{
		name: "get_weather",
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("upstream API down")
		},
	}
	router, _ := newTestRouter(ft)

	res, err := router.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "get_weather"})
	if err != nil {
		t.Fatalf("execution failures must not be raised to the caller: %v", err)
	}
	if res.Status != domain.ToolFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.Contains(res.Content, "upstream API down") {
		t.Fatalf("failure content should carry the cause: %q", res.Content)
	}
}

func TestExecute_HandlerPanicIsRecovered(t *testing.T) {
	ft := &fakeTool{
		name: "get_weather",
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			panic("boom")
		},
	}
	router, _ := newTestRouter(ft)

	res, err := router.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "get_weather"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.ToolFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.Contains(res.Content, "panicked") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestExecute_HandlerTimeout(t *testing.T) {
	ft := &fakeTool{
		name: "get_weather",
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	reg := NewRegistry(testLogger())
	reg.Register(ft)
	router := NewRouter(RouterConfig{Registry: reg, Timeout: 20 * time.Millisecond, Logger: testLogger()})

	res, err := router.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "get_weather"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.ToolFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.Contains(res.Content, "timed out") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestExecuteAll_ResultsInRequestOrder(t *testing.T) {
	slow := &fakeTool{
		name: "slow",
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "slow done", nil
		},
	}
	fast := &fakeTool{
		name: "fast",
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "fast done", nil
		},
	}
	router, _ := newTestRouter(slow, fast)

	results := router.ExecuteAll(context.Background(), []domain.ToolCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
		{ID: "3", Name: "missing"},
	})
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Content != "slow done" || results[1].Content != "fast done" {
		t.Fatal("results out of request order")
	}
	if results[2].Status != domain.ToolFailed {
		t.Fatal("unknown tool should yield a failed result in place")
	}
}
