package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sahayak/internal/domain"
	"sahayak/internal/metrics"
)

const (
	defaultCallTimeout   = 20 * time.Second
	defaultMaxConcurrent = 4
)

// Router validates and dispatches model-issued tool calls. Unknown
// names and schema violations never reach a handler; handler failures
// (error, timeout, panic) come back as failed results the model can
// read, so one bad call does not abort the turn.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
	sem      chan struct{}

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// RouterConfig configures the router. Timeout bounds each handler
// invocation; MaxConcurrent bounds parallel handler executions within
// one model turn.
type RouterConfig struct {
	Registry      *Registry
	Timeout       time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Execute dispatches a single call. Lookup and validation failures are
// returned as errors (the handler is never invoked); handler failures
// are folded into the result only, so callers can keep the turn going.
func (r *Router) Execute(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error) {
	metrics.ToolExecutions.Inc()

	t := r.registry.Get(call.Name)
	if t == nil {
		metrics.ToolFailures.Inc()
		err := &domain.UnknownToolError{Name: call.Name}
		return failedResult(call, err), err
	}

	if err := r.validateArgs(t, call.Arguments); err != nil {
		metrics.ToolFailures.Inc()
		verr := &domain.InvalidArgumentsError{Tool: call.Name, Reason: err.Error()}
		return failedResult(call, verr), verr
	}

	content, err := r.invoke(ctx, t, call.Arguments)
	if err != nil {
		metrics.ToolFailures.Inc()
		xerr := &domain.ToolExecutionError{Tool: call.Name, Err: err}
		r.logger.Warn("tool execution failed", "tool", call.Name, "err", err)
		return failedResult(call, xerr), nil
	}

	return domain.ToolResult{Call: call, Status: domain.ToolExecuted, Content: content}, nil
}

// ExecuteAll runs the calls of one model turn, independent calls
// concurrently up to the router's limit, and returns results in the
// order the model requested them.
func (r *Router) ExecuteAll(ctx context.Context, calls []domain.ToolCall) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domain.ToolCall) {
			defer wg.Done()
			r.sem <- struct{}{}
			defer func() { <-r.sem }()
			res, _ := r.Execute(ctx, call)
			results[i] = res
		}(i, call)
	}
	wg.Wait()
	return results
}

// invoke runs the handler under the per-call timeout with panic
// recovery.
func (r *Router) invoke(ctx context.Context, t domain.Tool, args map[string]any) (content string, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panicked: %v", p)
			}
		}()
		content, err = t.Execute(ctx, args)
	}()

	select {
	case <-done:
		return content, err
	case <-ctx.Done():
		return "", fmt.Errorf("timed out after %s", r.timeout)
	}
}

// validateArgs checks the call's arguments against the tool's declared
// JSON Schema. Compiled schemas are cached per tool name.
func (r *Router) validateArgs(t domain.Tool, args map[string]any) error {
	sch, err := r.schemaFor(t)
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so numbers and nested values have the
	// types the validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments not serializable: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := sch.Validate(v); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("%s", strings.TrimSpace(ve.Message))
		}
		return err
	}
	return nil
}

func (r *Router) schemaFor(t domain.Tool) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sch, ok := r.schemas[t.Name()]; ok {
		return sch, nil
	}
	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return nil, fmt.Errorf("tool %s schema not serializable: %w", t.Name(), err)
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + t.Name() + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("tool %s schema invalid: %w", t.Name(), err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s schema invalid: %w", t.Name(), err)
	}
	r.schemas[t.Name()] = sch
	return sch, nil
}

func failedResult(call domain.ToolCall, err error) domain.ToolResult {
	return domain.ToolResult{Call: call, Status: domain.ToolFailed, Content: "error: " + err.Error()}
}
