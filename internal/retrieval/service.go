package retrieval

import (
	"context"
	"log/slog"
	"time"

	"sahayak/internal/domain"
	"sahayak/internal/embedding"
	"sahayak/internal/metrics"
	"sahayak/internal/vector"
)

const defaultOverfetch = 3

// Service composes the embedding cache, vector store, reranker, and
// compressor into "query → grounded context". Grounding is best-effort:
// zero candidates yields an empty context, not an error.
type Service struct {
	cache      *embedding.Cache
	store      vector.Store
	reranker   *Reranker
	compressor *Compressor
	overfetch  int
	logger     *slog.Logger
}

// ServiceConfig wires the retrieval pipeline. Overfetch multiplies the
// caller's topK when querying the vector store so the reranker has
// material to reorder.
type ServiceConfig struct {
	Cache      *embedding.Cache
	Store      vector.Store
	Reranker   *Reranker
	Compressor *Compressor
	Overfetch  int
	Logger     *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = defaultOverfetch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cache:      cfg.Cache,
		store:      cfg.Store,
		reranker:   cfg.Reranker,
		compressor: cfg.Compressor,
		overfetch:  cfg.Overfetch,
		logger:     cfg.Logger,
	}
}

// Retrieve runs embed → overfetched similarity search → rerank →
// compress for the given query.
func (s *Service) Retrieve(ctx context.Context, q domain.RetrievalQuery) (domain.RetrievedContext, error) {
	if q.TopK <= 0 || q.TokenBudget <= 0 {
		return domain.RetrievedContext{}, &domain.RetrievalError{Stage: "query", Err: errInvalidQuery}
	}

	start := time.Now()

	vec, err := s.cache.GetOrCompute(ctx, q.Text)
	if err != nil {
		return domain.RetrievedContext{}, &domain.RetrievalError{Stage: "embed", Err: err}
	}

	candidates, err := s.store.Search(ctx, vec, vector.Filter{OwnerID: q.OwnerID, Mode: q.Mode}, q.TopK*s.overfetch)
	if err != nil {
		return domain.RetrievedContext{}, &domain.RetrievalError{Stage: "search", Err: err}
	}
	if len(candidates) == 0 {
		s.logger.Debug("retrieval found no candidates", "owner", q.OwnerID, "mode", q.Mode)
		return domain.RetrievedContext{}, nil
	}

	ranked := s.reranker.Rerank(candidates)

	// Relevance threshold and topK cut happen here, after blending.
	kept := ranked[:0:0]
	for _, cand := range ranked {
		if cand.FinalScore < q.MinScore {
			continue
		}
		kept = append(kept, cand)
		if len(kept) == q.TopK {
			break
		}
	}

	result := s.compressor.Compress(kept, q.TokenBudget)

	if !result.Empty() {
		ids := make([]string, len(result.Chunks))
		for i, c := range result.Chunks {
			ids[i] = c.Chunk.ID
		}
		if err := s.store.TouchAccessed(ctx, q.OwnerID, ids, time.Now()); err != nil {
			s.logger.Warn("failed to bump chunk access times", "err", err)
		}
	}

	metrics.RetrievalLatency.Observe(time.Since(start).Seconds())
	s.logger.Debug("retrieval complete",
		"owner", q.OwnerID,
		"candidates", len(candidates),
		"included", len(result.Chunks),
		"tokens", result.TotalTokens,
		"elapsed", time.Since(start),
	)
	return result, nil
}

var errInvalidQuery = errInvalid("topK and tokenBudget must be positive")

type errInvalid string

func (e errInvalid) Error() string { return string(e) }
