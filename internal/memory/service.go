package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sahayak/internal/domain"
	"sahayak/internal/embedding"
	"sahayak/internal/token"
	"sahayak/internal/vector"
)

// Importance assigned to raw-turn chunks by role. User turns carry the
// facts worth retrieving later; tool output is mostly transient.
var roleImportance = map[string]float64{
	domain.RoleUser:      0.6,
	domain.RoleAssistant: 0.5,
	domain.RoleTool:      0.3,
}

// Service owns the conversation and message lifecycle, indexes each
// turn into the vector store, and triggers summarization and pruning
// when their thresholds are crossed.
type Service struct {
	store      *Store
	vectors    vector.Store
	cache      *embedding.Cache
	counter    *token.Counter
	summarizer *Summarizer
	pruner     *Pruner
	logger     *slog.Logger

	summarizeThreshold int
	recentWindow       int

	// Per-conversation append serialization. Unrelated conversations
	// proceed in parallel.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// ServiceConfig wires the conversation memory service.
// SummarizeThreshold is the raw-message count since the last
// summarization that triggers the summarizer; RecentWindow is passed
// through to getContextWindow.
type ServiceConfig struct {
	Store              *Store
	Vectors            vector.Store
	Cache              *embedding.Cache
	Counter            *token.Counter
	Summarizer         *Summarizer
	Pruner             *Pruner
	SummarizeThreshold int
	RecentWindow       int
	Logger             *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.SummarizeThreshold <= 0 {
		cfg.SummarizeThreshold = 20
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:              cfg.Store,
		vectors:            cfg.Vectors,
		cache:              cfg.Cache,
		counter:            cfg.Counter,
		summarizer:         cfg.Summarizer,
		pruner:             cfg.Pruner,
		summarizeThreshold: cfg.SummarizeThreshold,
		recentWindow:       cfg.RecentWindow,
		logger:             cfg.Logger,
		locks:              make(map[string]*sync.Mutex),
	}
}

func (s *Service) convLock(convID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[convID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[convID] = l
	}
	return l
}

// GetOrCreateConversation returns the conversation with the given id,
// creating it with the supplied owner and mode on first use. Mode is
// immutable after creation.
func (s *Service) GetOrCreateConversation(ctx context.Context, convID, userID, mode string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	lock := s.convLock(convID)
	lock.Lock()
	defer lock.Unlock()

	// Double-check after taking the lock.
	conv, err = s.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	newConv := domain.Conversation{
		ID:     convID,
		UserID: userID,
		Mode:   mode,
		Title:  "New conversation",
	}
	if err := s.store.CreateConversation(ctx, newConv); err != nil {
		return nil, err
	}
	s.logger.Info("created conversation", "conversation", convID, "user", userID, "mode", mode)
	return s.store.GetConversation(ctx, convID)
}

// AppendTurn persists one turn, indexes it as a raw memory chunk, and
// re-checks the summarize and capacity thresholds. Threshold work runs
// synchronously with respect to this turn's persistence; if it fails it
// is retried on the next turn because the thresholds are re-evaluated
// every append.
func (s *Service) AppendTurn(ctx context.Context, convID string, msg domain.Message) (domain.Message, error) {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return msg, err
	}
	if conv == nil {
		return msg, fmt.Errorf("conversation %s not found", convID)
	}

	lock := s.convLock(convID)
	lock.Lock()
	defer lock.Unlock()

	msg.ConversationID = convID
	if msg.TokenCount == 0 {
		msg.TokenCount = s.counter.Count(msg.Content)
	}
	stored, err := s.store.AddMessage(ctx, msg)
	if err != nil {
		return msg, fmt.Errorf("persist message: %w", err)
	}

	// Index the turn for retrieval. Best-effort: the message is already
	// committed, and a failed embed just means this turn is not
	// retrievable until re-indexed.
	if err := s.indexTurn(ctx, conv, stored); err != nil {
		s.logger.Warn("failed to index turn", "conversation", convID, "seq", stored.Seq, "err", err)
	}

	s.checkThresholds(ctx, conv)
	return stored, nil
}

func (s *Service) indexTurn(ctx context.Context, conv *domain.Conversation, msg domain.Message) error {
	if msg.Content == "" {
		return nil
	}
	vec, err := s.cache.GetOrCompute(ctx, msg.Content)
	if err != nil {
		return err
	}
	importance, ok := roleImportance[msg.Role]
	if !ok {
		importance = 0.5
	}
	return s.vectors.Upsert(ctx, domain.MemoryChunk{
		ID:                RawChunkID(conv.ID, msg.Seq),
		OwnerID:           conv.UserID,
		ConversationID:    conv.ID,
		Mode:              conv.Mode,
		Kind:              domain.ChunkRaw,
		SourceMessageSeqs: []int64{msg.Seq},
		Text:              msg.Content,
		Embedding:         vec,
		Importance:        importance,
		TokenCount:        msg.TokenCount,
		LastAccessedAt:    time.Now().UTC(),
	})
}

// checkThresholds runs the summarizer and pruner when their triggers
// fire. Failures are logged, not surfaced: both are re-checked on the
// next append, which gives the eventual-consistency guarantee.
func (s *Service) checkThresholds(ctx context.Context, conv *domain.Conversation) {
	maxSeq, err := s.store.MaxSeq(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("threshold check failed", "conversation", conv.ID, "err", err)
		return
	}
	if maxSeq-conv.SummarizedThrough > int64(s.summarizeThreshold) {
		if _, err := s.summarizer.Summarize(ctx, conv.ID); err != nil {
			s.logger.Warn("summarization failed, will retry next turn", "conversation", conv.ID, "err", err)
		}
	}

	if _, err := s.pruner.Prune(ctx, conv.UserID); err != nil {
		s.logger.Warn("pruning failed, will retry next turn", "owner", conv.UserID, "err", err)
	}
}

// ContextWindow returns the rolling summary and the most recent raw
// turns for prompt assembly.
func (s *Service) ContextWindow(ctx context.Context, convID string) (domain.ContextWindow, error) {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return domain.ContextWindow{}, err
	}
	if conv == nil {
		return domain.ContextWindow{}, fmt.Errorf("conversation %s not found", convID)
	}
	recent, err := s.store.RecentMessages(ctx, convID, s.recentWindow)
	if err != nil {
		return domain.ContextWindow{}, err
	}
	return domain.ContextWindow{
		RollingSummary: conv.RollingSummary,
		RecentMessages: recent,
	}, nil
}

// RecordFailure persists a failure record for a turn. Committed turns
// are never touched.
func (s *Service) RecordFailure(ctx context.Context, convID, correlationID, state, reason string) error {
	return s.store.RecordFailure(ctx, convID, correlationID, state, reason)
}

// UpdateTitle sets the conversation title from its first user message.
func (s *Service) UpdateTitle(ctx context.Context, convID, firstUserMsg string) {
	title := firstUserMsg
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	if err := s.store.UpdateTitle(ctx, convID, title); err != nil {
		s.logger.Warn("failed to update title", "conversation", convID, "err", err)
	}
}
