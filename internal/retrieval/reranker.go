// Package retrieval turns a user query into a token-budgeted, ranked,
// compressed grounding context.
package retrieval

import (
	"math"
	"sort"
	"time"

	"sahayak/internal/domain"
)

// Weights blends the three ranking signals. They are deployment
// tunables loaded from the tuning profile, not fixed constants.
type Weights struct {
	Similarity float64 `yaml:"similarity"`
	Recency    float64 `yaml:"recency"`
	Importance float64 `yaml:"importance"`
}

// DefaultWeights favors raw similarity with a mild recency/importance pull.
var DefaultWeights = Weights{Similarity: 0.6, Recency: 0.2, Importance: 0.2}

// Reranker rescores similarity-ranked candidates by blending recency
// decay and importance into the raw score. It is deterministic for
// identical inputs and never drops candidates; threshold filtering is
// the caller's concern.
type Reranker struct {
	weights  Weights
	halfLife time.Duration
	// now is swappable for tests.
	now func() time.Time
}

// RerankerConfig configures the reranker. HalfLife controls how fast
// recency decays: a chunk last accessed one half-life ago scores 0.5 on
// the recency axis.
type RerankerConfig struct {
	Weights  Weights
	HalfLife time.Duration
	Now      func() time.Time
}

func NewReranker(cfg RerankerConfig) *Reranker {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 72 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reranker{weights: cfg.Weights, halfLife: cfg.HalfLife, now: cfg.Now}
}

// Rerank returns the candidates reordered by descending blended score,
// ties broken by ascending chunk id for reproducibility.
func (r *Reranker) Rerank(candidates []domain.ScoredChunk) []domain.ScoredChunk {
	now := r.now()
	out := make([]domain.ScoredChunk, len(candidates))
	copy(out, candidates)

	for i := range out {
		out[i].FinalScore = r.weights.Similarity*out[i].Similarity +
			r.weights.Recency*r.recencyDecay(now, out[i].Chunk.LastAccessedAt) +
			r.weights.Importance*out[i].Chunk.Importance
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

// recencyDecay maps the time since last access into (0,1], halving
// every halfLife.
func (r *Reranker) recencyDecay(now, lastAccessed time.Time) float64 {
	if lastAccessed.IsZero() || !lastAccessed.Before(now) {
		return 1
	}
	age := now.Sub(lastAccessed)
	return math.Exp2(-float64(age) / float64(r.halfLife))
}
