// Package agent orchestrates one user turn end to end: retrieval,
// prompt assembly, model calls, tool dispatch, and output validation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"sahayak/internal/domain"
	"sahayak/internal/memory"
	"sahayak/internal/metrics"
	"sahayak/internal/prompt"
	"sahayak/internal/retrieval"
	"sahayak/internal/retry"
	"sahayak/internal/tool"
)

// State names the phase a turn is in. On failure the current state is
// written into the conversation's failure record.
type State string

const (
	StateRetrieving    State = "retrieving"
	StatePrompting     State = "prompting"
	StateAwaitingModel State = "awaiting_model"
	StateToolDispatch  State = "tool_dispatch"
	StateValidating    State = "validating"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

const (
	defaultToolRoundLimit = 5
	defaultContextLimit   = 8192
	defaultLLMMaxTokens   = 2048
	defaultTemperature    = 0.7
	defaultTopK           = 6
	defaultMinScore       = 0.25
	defaultTokenBudget    = 1024
)

// ProviderResolver resolves a provider by name, for per-turn switching.
type ProviderResolver interface {
	Get(name string) (domain.Provider, error)
}

// Service drives the turn state machine. One Service handles many
// conversations concurrently; all per-conversation serialization lives
// in the memory service.
type Service struct {
	memory    *memory.Service
	retrieval *retrieval.Service
	builder   *prompt.Builder
	registry  *tool.Registry
	router    *tool.Router
	provider  domain.Provider
	providers ProviderResolver
	validator *Validator
	retry     retry.Policy
	logger    *slog.Logger

	topK           int
	minScore       float64
	tokenBudget    int
	contextLimit   int
	toolRoundLimit int
	maxTokens      int
	temperature    float64
}

// ServiceConfig wires the orchestrator.
type ServiceConfig struct {
	Memory    *memory.Service
	Retrieval *retrieval.Service
	Builder   *prompt.Builder
	Registry  *tool.Registry
	Router    *tool.Router
	Provider  domain.Provider
	Providers ProviderResolver // optional, enables per-turn provider override
	Validator *Validator
	Retry     retry.Policy
	Logger    *slog.Logger

	TopK           int
	MinScore       float64
	TokenBudget    int
	ContextLimit   int
	ToolRoundLimit int
	MaxTokens      int
	Temperature    float64
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaultTokenBudget
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = defaultContextLimit
	}
	if cfg.ToolRoundLimit <= 0 {
		cfg.ToolRoundLimit = defaultToolRoundLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Validator == nil {
		cfg.Validator = NewValidator(ValidatorConfig{})
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		memory:         cfg.Memory,
		retrieval:      cfg.Retrieval,
		builder:        cfg.Builder,
		registry:       cfg.Registry,
		router:         cfg.Router,
		provider:       cfg.Provider,
		providers:      cfg.Providers,
		validator:      cfg.Validator,
		retry:          cfg.Retry,
		logger:         cfg.Logger,
		topK:           cfg.TopK,
		minScore:       cfg.MinScore,
		tokenBudget:    cfg.TokenBudget,
		contextLimit:   cfg.ContextLimit,
		toolRoundLimit: cfg.ToolRoundLimit,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
	}
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	ConversationID string
	UserID         string
	Mode           string
	Text           string
	Provider       string // optional override of the default provider
}

// TurnResult is the committed outcome of a successful turn.
type TurnResult struct {
	Text          string
	CorrelationID string
	ToolCalls     int
	PromptTokens  int
}

// RunTurn executes one user turn through the full state machine. The
// user message is committed right after retrieval, before any model
// work; a later failure records a failure row but never touches
// committed turns.
func (s *Service) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	corrID := uuid.NewString()
	log := s.logger.With("correlation", corrID, "conversation", req.ConversationID)
	metrics.TurnsTotal.Inc()

	conv, err := s.memory.GetOrCreateConversation(ctx, req.ConversationID, req.UserID, req.Mode)
	if err != nil {
		return s.fail(ctx, req.ConversationID, corrID, StateRetrieving, err, log)
	}

	// Retrieve before the turn is indexed so the search cannot hand the
	// user's own question back as memory.
	state := StateRetrieving
	retrieved, err := s.retrieval.Retrieve(ctx, domain.RetrievalQuery{
		Text:        req.Text,
		OwnerID:     conv.UserID,
		Mode:        conv.Mode,
		TopK:        s.topK,
		MinScore:    s.minScore,
		TokenBudget: s.tokenBudget,
	})
	if err != nil {
		return s.fail(ctx, conv.ID, corrID, state, err, log)
	}

	userMsg, err := s.memory.AppendTurn(ctx, conv.ID, domain.Message{
		Role:    domain.RoleUser,
		Content: req.Text,
	})
	if err != nil {
		return s.fail(ctx, conv.ID, corrID, state, err, log)
	}
	if userMsg.Seq == 1 {
		s.memory.UpdateTitle(ctx, conv.ID, req.Text)
	}

	state = StatePrompting
	window, err := s.memory.ContextWindow(ctx, conv.ID)
	if err != nil {
		return s.fail(ctx, conv.ID, corrID, state, err, log)
	}
	plan, err := s.builder.Build(prompt.Input{
		System:       systemPrompt(conv.Mode),
		Summary:      window.RollingSummary,
		Retrieved:    retrieved,
		Recent:       window.RecentMessages,
		Tools:        s.registry.Definitions(),
		ContextLimit: s.contextLimit,
	})
	if err != nil {
		return s.fail(ctx, conv.ID, corrID, state, err, log)
	}

	provider := s.resolveProvider(req, log)
	messages := plan.Messages

	state = StateAwaitingModel
	resp, err := s.complete(ctx, provider, messages, plan.Tools)
	if err != nil {
		return s.fail(ctx, conv.ID, corrID, state, err, log)
	}

	// Tool dispatch loop, bounded so a looping model cannot run forever.
	toolCalls := 0
	for round := 0; resp.HasToolCalls(); round++ {
		if round >= s.toolRoundLimit {
			log.Warn("tool round limit reached", "rounds", round)
			break
		}
		state = StateToolDispatch
		results := s.router.ExecuteAll(ctx, resp.ToolCalls)
		toolCalls += len(results)

		messages = append(messages, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, res := range results {
			messages = append(messages, domain.ChatMessage{
				Role:       domain.RoleTool,
				Content:    res.Content,
				ToolCallID: res.Call.ID,
				ToolName:   res.Call.Name,
			})
			if _, err := s.memory.AppendTurn(ctx, conv.ID, domain.Message{
				Role:     domain.RoleTool,
				Content:  res.Content,
				ToolName: res.Call.Name,
			}); err != nil {
				return s.fail(ctx, conv.ID, corrID, state, err, log)
			}
		}

		state = StateAwaitingModel
		resp, err = s.complete(ctx, provider, messages, plan.Tools)
		if err != nil {
			return s.fail(ctx, conv.ID, corrID, state, err, log)
		}
	}

	state = StateValidating
	if resp.HasToolCalls() && strings.TrimSpace(resp.Content) == "" {
		err := fmt.Errorf("tool round limit of %d exceeded without a final answer", s.toolRoundLimit)
		return s.fail(ctx, conv.ID, corrID, state, err, log)
	}

	reasons := s.validator.Validate(resp, len(plan.Tools) > 0)
	if len(reasons) > 0 {
		log.Warn("model output failed validation, re-prompting once", "reasons", reasons)
		messages = append(messages,
			domain.ChatMessage{Role: domain.RoleAssistant, Content: resp.Content},
			domain.ChatMessage{Role: domain.RoleUser, Content: correctiveInstruction(reasons)},
		)
		// No tools on the corrective round: only a text answer is acceptable.
		resp, err = s.complete(ctx, provider, messages, nil)
		if err != nil {
			return s.fail(ctx, conv.ID, corrID, state, err, log)
		}
		if reasons = s.validator.Validate(resp, false); len(reasons) > 0 {
			return s.fail(ctx, conv.ID, corrID, state, &domain.OutputValidationError{Reasons: reasons}, log)
		}
	}

	finalText := strings.TrimSpace(resp.Content)
	if _, err := s.memory.AppendTurn(ctx, conv.ID, domain.Message{
		Role:    domain.RoleAssistant,
		Content: finalText,
	}); err != nil {
		return s.fail(ctx, conv.ID, corrID, state, err, log)
	}

	log.Info("turn complete", "tool_calls", toolCalls, "prompt_tokens", plan.TotalTokens)
	return &TurnResult{
		Text:          finalText,
		CorrelationID: corrID,
		ToolCalls:     toolCalls,
		PromptTokens:  plan.TotalTokens,
	}, nil
}

func (s *Service) resolveProvider(req TurnRequest, log *slog.Logger) domain.Provider {
	if req.Provider != "" && s.providers != nil {
		if p, err := s.providers.Get(req.Provider); err == nil {
			return p
		}
		log.Warn("requested provider not available, using default", "requested", req.Provider)
	}
	return s.provider
}

// complete runs one model call under the classified retry policy.
func (s *Service) complete(ctx context.Context, p domain.Provider, messages []domain.ChatMessage, tools []domain.ToolDefinition) (*domain.ChatResponse, error) {
	var resp *domain.ChatResponse
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		metrics.LLMRequestsTotal.Inc()
		r, cerr := p.Complete(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       tools,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		})
		if cerr != nil {
			return cerr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LLMLatency.Observe(float64(resp.LatencyMs) / 1000)
	return resp, nil
}

// fail records the failure against the conversation and surfaces a
// single classified error carrying the correlation id. Turns already
// committed are left untouched.
func (s *Service) fail(ctx context.Context, convID, corrID string, state State, cause error, log *slog.Logger) (*TurnResult, error) {
	metrics.TurnFailures.Inc()
	log.Error("turn failed", "state", state, "err", cause)
	if err := s.memory.RecordFailure(ctx, convID, corrID, string(state), cause.Error()); err != nil {
		log.Warn("could not record failure", "err", err)
	}
	return nil, fmt.Errorf("turn %s failed during %s: %w", corrID, state, cause)
}
