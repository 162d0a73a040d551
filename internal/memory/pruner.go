package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sahayak/internal/domain"
	"sahayak/internal/metrics"
	"sahayak/internal/vector"
)

// Pruner evicts low-value memory chunks once an owner exceeds the
// capacity limit. Eviction is destructive: there is no soft delete.
type Pruner struct {
	vectors vector.Store
	logger  *slog.Logger

	capacityLimit    int
	importanceFloor  float64
	stalenessHorizon time.Duration
	now              func() time.Time
}

// PrunerConfig configures the pruner. A chunk is an eviction candidate
// when it is a raw chunk already covered by a summary, or when its
// importance is below ImportanceFloor and it has not been accessed
// within StalenessHorizon.
type PrunerConfig struct {
	Vectors          vector.Store
	CapacityLimit    int
	ImportanceFloor  float64
	StalenessHorizon time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

func NewPruner(cfg PrunerConfig) *Pruner {
	if cfg.CapacityLimit <= 0 {
		cfg.CapacityLimit = 1000
	}
	if cfg.ImportanceFloor <= 0 {
		cfg.ImportanceFloor = 0.2
	}
	if cfg.StalenessHorizon <= 0 {
		cfg.StalenessHorizon = 14 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pruner{
		vectors:          cfg.Vectors,
		capacityLimit:    cfg.CapacityLimit,
		importanceFloor:  cfg.ImportanceFloor,
		stalenessHorizon: cfg.StalenessHorizon,
		now:              cfg.Now,
		logger:           cfg.Logger,
	}
}

// Prune evicts candidates in ascending (importance, last accessed)
// order until the owner's chunk count is at or below the capacity
// limit. It is a no-op when the owner is already within the limit.
func (p *Pruner) Prune(ctx context.Context, ownerID string) (int, error) {
	count, err := p.vectors.CountByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	excess := count - p.capacityLimit
	if excess <= 0 {
		return 0, nil
	}

	// Already ordered by ascending (importance, last_accessed_at):
	// least valuable first.
	chunks, err := p.vectors.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}

	staleBefore := p.now().Add(-p.stalenessHorizon)
	var evict []string
	for _, c := range chunks {
		if len(evict) == excess {
			break
		}
		if !p.evictable(c, staleBefore) {
			continue
		}
		evict = append(evict, c.ID)
	}
	if len(evict) == 0 {
		return 0, nil
	}

	if err := p.vectors.Delete(ctx, ownerID, evict...); err != nil {
		return 0, fmt.Errorf("evict chunks: %w", err)
	}

	metrics.PruneEvictions.Add(int64(len(evict)))
	p.logger.Info("memory pruned", "owner", ownerID, "evicted", len(evict), "count_before", count)
	return len(evict), nil
}

// evictable applies the eviction policy. Summary chunks are never
// evicted; they are only superseded by re-summarization.
func (p *Pruner) evictable(c domain.MemoryChunk, staleBefore time.Time) bool {
	if c.Kind == domain.ChunkSummary {
		return false
	}
	if c.Summarized {
		return true
	}
	return c.Importance < p.importanceFloor && c.LastAccessedAt.Before(staleBefore)
}
