package embedding

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sahayak/internal/domain"
	"sahayak/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubEmbedder counts provider invocations and can fail on demand.
type stubEmbedder struct {
	calls   atomic.Int64
	failing atomic.Bool
	delay   time.Duration
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failing.Load() {
		return nil, &domain.ProviderError{Provider: "stub", Retryable: false, Err: errors.New("down")}
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

func (s *stubEmbedder) Dims() int { return 3 }

func newTestCache(e domain.Embedder) *Cache {
	return NewCache(CacheConfig{
		Embedder: e,
		Retry:    retry.Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, Logger: testLogger()},
		Logger:   testLogger(),
	})
}

func TestGetOrCompute_ConcurrentCallersShareOneProviderCall(t *testing.T) {
	stub := &stubEmbedder{delay: 20 * time.Millisecond}
	cache := newTestCache(stub)

	const n = 16
	vecs := make([][]float32, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vecs[i], errs[i] = cache.GetOrCompute(context.Background(), "weather in Lucknow")
		}(i)
	}
	wg.Wait()

	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if len(vecs[i]) != 3 {
			t.Fatalf("caller %d: wrong vector %v", i, vecs[i])
		}
	}
}

func TestGetOrCompute_NormalizedTextSharesKey(t *testing.T) {
	stub := &stubEmbedder{}
	cache := newTestCache(stub)

	if _, err := cache.GetOrCompute(context.Background(), "Weather   in Lucknow"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetOrCompute(context.Background(), "weather in   lucknow"); err != nil {
		t.Fatal(err)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("normalized variants should share one key, got %d calls", got)
	}
}

func TestGetOrCompute_FailuresAreNotCached(t *testing.T) {
	stub := &stubEmbedder{}
	stub.failing.Store(true)
	cache := newTestCache(stub)

	if _, err := cache.GetOrCompute(context.Background(), "mandi prices"); err == nil {
		t.Fatal("expected provider failure")
	}

	stub.failing.Store(false)
	vec, err := cache.GetOrCompute(context.Background(), "mandi prices")
	if err != nil {
		t.Fatalf("recovered provider should succeed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if got := stub.calls.Load(); got != 2 {
		t.Fatalf("expected failed call plus retry, got %d calls", got)
	}
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	stub := &stubEmbedder{}
	cache := NewCache(CacheConfig{
		Embedder:   stub,
		Retry:      retry.Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, Logger: testLogger()},
		MaxEntries: 2,
		Logger:     testLogger(),
	})

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if _, err := cache.GetOrCompute(ctx, text); err != nil {
			t.Fatal(err)
		}
	}
	// "one" was evicted; fetching it again must hit the provider.
	before := stub.calls.Load()
	if _, err := cache.GetOrCompute(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if stub.calls.Load() != before+1 {
		t.Fatal("evicted entry should require a new provider call")
	}
}

func TestCache_StatsCountHitsAndMisses(t *testing.T) {
	stub := &stubEmbedder{}
	cache := newTestCache(stub)
	ctx := context.Background()

	cache.GetOrCompute(ctx, "a")
	cache.GetOrCompute(ctx, "a")
	cache.GetOrCompute(ctx, "b")

	hits, misses := cache.Stats()
	if hits != 1 || misses != 2 {
		t.Fatalf("expected 1 hit / 2 misses, got %d / %d", hits, misses)
	}
}
