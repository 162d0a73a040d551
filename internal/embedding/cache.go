package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"sahayak/internal/domain"
	"sahayak/internal/retry"
)

const defaultMaxEntries = 4096

// Cache memoizes text→vector results keyed by a hash of the normalized
// text. Concurrent requests for the same key share a single provider
// call via singleflight; failed lookups are never cached.
type Cache struct {
	embedder domain.Embedder
	policy   retry.Policy
	logger   *slog.Logger

	group      singleflight.Group
	mu         sync.Mutex
	entries    map[string][]float32
	order      []string // insertion order, evicted oldest first
	maxEntries int

	hits   uint64
	misses uint64
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	Embedder   domain.Embedder
	Retry      retry.Policy
	MaxEntries int
	Logger     *slog.Logger
}

func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default
	}
	return &Cache{
		embedder:   cfg.Embedder,
		policy:     cfg.Retry,
		logger:     cfg.Logger,
		entries:    make(map[string][]float32),
		maxEntries: cfg.MaxEntries,
	}
}

// Key returns the cache key for text: a sha256 over the normalized form
// (whitespace-collapsed, lowercased).
func Key(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// GetOrCompute returns the embedding for text, calling the provider at
// most once per distinct key regardless of concurrent callers.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	key := Key(text)

	c.mu.Lock()
	if vec, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		return vec, nil
	}
	c.misses++
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Double-check: an earlier flight may have stored the entry
		// between our miss and this closure running.
		c.mu.Lock()
		if vec, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return vec, nil
		}
		c.mu.Unlock()

		var vec []float32
		err := c.policy.Do(ctx, func(ctx context.Context) error {
			var embedErr error
			vec, embedErr = c.embedder.Embed(ctx, text)
			return embedErr
		})
		if err != nil {
			return nil, err
		}
		c.store(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Dims reports the underlying provider's embedding dimension.
func (c *Cache) Dims() int { return c.embedder.Dims() }

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) store(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = vec
	c.order = append(c.order, key)
}
