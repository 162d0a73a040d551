package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	_ "modernc.org/sqlite"

	"sahayak/internal/domain"
)

// ChromemStore pairs a chromem-go index (vectors, similarity search)
// with a SQLite table holding the authoritative chunk metadata that the
// pruner and summarizer enumerate. Each owner gets its own collection
// so one user's memory never ranks against another's.
type ChromemStore struct {
	db     *chromem.DB
	meta   *sql.DB
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Config configures the vector store. An empty Dir yields an in-memory
// index with in-memory metadata, used by tests.
type Config struct {
	Dir    string
	Logger *slog.Logger
}

// Embeddings are computed upstream by the embedding cache, so the
// collection-level embedding func must never run.
func noEmbedFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: document added without precomputed embedding")
}

func NewChromemStore(cfg Config) (*ChromemStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		vdb     *chromem.DB
		metaDSN string
		err     error
	)
	if cfg.Dir == "" {
		vdb = chromem.NewDB()
		metaDSN = ":memory:"
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vectorstore dir: %w", err)
		}
		vdb, err = chromem.NewPersistentDB(filepath.Join(cfg.Dir, "index"), false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		metaDSN = filepath.Join(cfg.Dir, "chunks.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	meta, err := sql.Open("sqlite", metaDSN)
	if err != nil {
		return nil, fmt.Errorf("open chunk metadata db: %w", err)
	}
	meta.SetMaxOpenConns(1)
	meta.SetMaxIdleConns(1)

	s := &ChromemStore{
		db:     vdb,
		meta:   meta,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
	if err := s.migrate(); err != nil {
		meta.Close()
		return nil, fmt.Errorf("chunk metadata migration failed: %w", err)
	}
	return s, nil
}

func (s *ChromemStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id               TEXT PRIMARY KEY,
		owner_id         TEXT NOT NULL,
		conversation_id  TEXT,
		mode             TEXT,
		kind             TEXT NOT NULL,
		source_seqs      TEXT,
		text             TEXT NOT NULL,
		importance       REAL NOT NULL DEFAULT 0.5,
		token_count      INTEGER NOT NULL DEFAULT 0,
		summarized       INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_owner ON chunks(owner_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_owner_kind ON chunks(owner_id, kind);
	`
	_, err := s.meta.Exec(schema)
	return err
}

// ownerLock serializes writes per owner; unrelated owners proceed in
// parallel.
func (s *ChromemStore) ownerLock(ownerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ownerID] = l
	}
	return l
}

// collectionName sanitizes the owner id into a chromem collection name.
func collectionName(ownerID string) string {
	var b strings.Builder
	b.WriteString("owner_")
	for _, r := range ownerID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *ChromemStore) collection(ownerID string) (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection(collectionName(ownerID), nil, noEmbedFunc)
}

func (s *ChromemStore) Upsert(ctx context.Context, chunk domain.MemoryChunk) error {
	if chunk.ID == "" || chunk.OwnerID == "" {
		return fmt.Errorf("vectorstore: chunk id and owner are required")
	}
	lock := s.ownerLock(chunk.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = now
	}
	if chunk.LastAccessedAt.IsZero() {
		chunk.LastAccessedAt = now
	}

	seqs, _ := json.Marshal(chunk.SourceMessageSeqs)
	_, err := s.meta.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks
		 (id, owner_id, conversation_id, mode, kind, source_seqs, text, importance, token_count, summarized, created_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.OwnerID, chunk.ConversationID, chunk.Mode, string(chunk.Kind), string(seqs),
		chunk.Text, chunk.Importance, chunk.TokenCount, boolToInt(chunk.Summarized),
		chunk.CreatedAt.Format(time.RFC3339Nano), chunk.LastAccessedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert chunk metadata: %w", err)
	}

	col, err := s.collection(chunk.OwnerID)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	doc := chromem.Document{
		ID:        chunk.ID,
		Content:   chunk.Text,
		Embedding: chunk.Embedding,
		Metadata: map[string]string{
			"mode": chunk.Mode,
			"kind": string(chunk.Kind),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index chunk: %w", err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, embedding []float32, filter Filter, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("vectorstore: topK must be positive")
	}
	col, err := s.collection(filter.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if filter.Mode != "" {
		where = map[string]string{"mode": filter.Mode}
	}

	var results []chromem.Result
	// chromem rejects nResults larger than the post-filter document
	// count, which we cannot know up front. Step down until it accepts.
	for k := topK; k > 0; k-- {
		results, err = col.QueryEmbedding(ctx, embedding, k, where, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]domain.ScoredChunk, 0, len(results))
	for _, r := range results {
		chunk, err := s.Get(ctx, filter.OwnerID, r.ID)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			// Pruned between index lookup and metadata read. Retrieval
			// is best-effort, skip it.
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: *chunk, Similarity: float64(r.Similarity)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Chunk.LastAccessedAt.After(out[j].Chunk.LastAccessedAt)
	})
	return out, nil
}

func (s *ChromemStore) Delete(ctx context.Context, ownerID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	col, err := s.collection(ownerID)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		s.logger.Warn("vector index delete failed, metadata will still be removed", "err", err)
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err = s.meta.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM chunks WHERE owner_id = ? AND id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("delete chunk metadata: %w", err)
	}
	return nil
}

func (s *ChromemStore) Get(ctx context.Context, ownerID, id string) (*domain.MemoryChunk, error) {
	row := s.meta.QueryRowContext(ctx,
		`SELECT id, owner_id, conversation_id, mode, kind, source_seqs, text, importance, token_count, summarized, created_at, last_accessed_at
		 FROM chunks WHERE owner_id = ? AND id = ?`, ownerID, id)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *ChromemStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.MemoryChunk, error) {
	rows, err := s.meta.QueryContext(ctx,
		`SELECT id, owner_id, conversation_id, mode, kind, source_seqs, text, importance, token_count, summarized, created_at, last_accessed_at
		 FROM chunks WHERE owner_id = ?
		 ORDER BY importance ASC, last_accessed_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.MemoryChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

func (s *ChromemStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.meta.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}

func (s *ChromemStore) TouchAccessed(ctx context.Context, ownerID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := []any{at.UTC().Format(time.RFC3339Nano), ownerID}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.meta.ExecContext(ctx,
		fmt.Sprintf(`UPDATE chunks SET last_accessed_at = ? WHERE owner_id = ? AND id IN (%s)`, placeholders), args...)
	return err
}

func (s *ChromemStore) MarkSummarized(ctx context.Context, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := []any{ownerID}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.meta.ExecContext(ctx,
		fmt.Sprintf(`UPDATE chunks SET summarized = 1 WHERE owner_id = ? AND id IN (%s)`, placeholders), args...)
	return err
}

func (s *ChromemStore) Close() error {
	return s.meta.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*domain.MemoryChunk, error) {
	var (
		c                   domain.MemoryChunk
		kind, seqs          string
		summarized          int
		createdAt, accessed string
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.ConversationID, &c.Mode, &kind, &seqs,
		&c.Text, &c.Importance, &c.TokenCount, &summarized, &createdAt, &accessed)
	if err != nil {
		return nil, err
	}
	c.Kind = domain.ChunkKind(kind)
	c.Summarized = summarized != 0
	if seqs != "" {
		_ = json.Unmarshal([]byte(seqs), &c.SourceMessageSeqs)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, accessed)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
