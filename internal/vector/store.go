// Package vector provides the durable nearest-neighbor index over
// memory chunk embeddings with metadata filtering.
package vector

import (
	"context"
	"time"

	"sahayak/internal/domain"
)

// Filter narrows a search to one owner and optionally one mode.
type Filter struct {
	OwnerID string
	Mode    string
}

// Store is the contract the retrieval and memory services depend on.
// Implementations must serialize concurrent writes to the same owner
// while letting unrelated owners proceed unimpeded, and must make
// Upsert idempotent on chunk id.
type Store interface {
	Upsert(ctx context.Context, chunk domain.MemoryChunk) error
	// Search returns up to topK candidates ranked by cosine similarity
	// (normalized to [-1,1]); ties break by most recent last access.
	Search(ctx context.Context, embedding []float32, filter Filter, topK int) ([]domain.ScoredChunk, error)
	Delete(ctx context.Context, ownerID string, ids ...string) error
	Get(ctx context.Context, ownerID, id string) (*domain.MemoryChunk, error)
	// ListByOwner returns all chunk metadata for the owner, embeddings
	// excluded, ordered by ascending (importance, last_accessed_at).
	ListByOwner(ctx context.Context, ownerID string) ([]domain.MemoryChunk, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	// TouchAccessed bumps last_accessed_at on the given chunks.
	TouchAccessed(ctx context.Context, ownerID string, ids []string, at time.Time) error
	// MarkSummarized flags raw chunks as covered by a summary, making
	// them eligible for pruning.
	MarkSummarized(ctx context.Context, ownerID string, ids []string) error
	Close() error
}
