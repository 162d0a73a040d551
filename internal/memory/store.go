// Package memory owns the conversation/message lifecycle and the
// pruning and summarization policies that keep per-owner memory
// bounded.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"sahayak/internal/domain"
)

// Store persists conversations and messages in SQLite. Messages are
// append-only: they are never mutated after creation and carry a
// per-conversation sequence number that gives a total order (created_at
// ties included).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the conversation database at dbPath.
// Pass ":memory:" for an ephemeral store in tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writes anyway and this keeps
	// transactions simple.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		mode               TEXT NOT NULL DEFAULT '',
		title              TEXT,
		rolling_summary    TEXT NOT NULL DEFAULT '',
		summarized_through INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		last_active_at     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT,
		tool_name       TEXT,
		token_count     INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		UNIQUE(conversation_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, seq);

	CREATE TABLE IF NOT EXISTS turn_failures (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		correlation_id  TEXT NOT NULL,
		state           TEXT NOT NULL,
		reason          TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastActiveAt.IsZero() {
		conv.LastActiveAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, user_id, mode, title, rolling_summary, summarized_through, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Mode, conv.Title, conv.RollingSummary, conv.SummarizedThrough,
		conv.CreatedAt.Format(time.RFC3339Nano), conv.LastActiveAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var (
		conv                domain.Conversation
		createdAt, activeAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, mode, title, rolling_summary, summarized_through, created_at, last_active_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Mode, &conv.Title, &conv.RollingSummary,
		&conv.SummarizedThrough, &createdAt, &activeAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.LastActiveAt, _ = time.Parse(time.RFC3339Nano, activeAt)
	return &conv, nil
}

func (s *Store) UpdateTitle(ctx context.Context, convID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ?`, title, convID)
	return err
}

// UpdateSummary replaces the rolling summary and advances the
// summarized-through watermark in one statement; the watermark never
// moves backwards.
func (s *Store) UpdateSummary(ctx context.Context, convID, summary string, through int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET rolling_summary = ?, summarized_through = MAX(summarized_through, ?) WHERE id = ?`,
		summary, through, convID)
	return err
}

// AddMessage appends a message, assigning the next sequence number for
// its conversation, and bumps the conversation's last-active time.
// The stored message (seq populated) is returned.
func (s *Store) AddMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		msg.ConversationID).Scan(&msg.Seq)
	if err != nil {
		return msg, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, seq, role, content, tool_name, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Seq, msg.Role, msg.Content, msg.ToolName, msg.TokenCount,
		msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return msg, err
	}
	msg.ID, _ = res.LastInsertId()

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_active_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), msg.ConversationID); err != nil {
		return msg, err
	}

	return msg, tx.Commit()
}

// RecentMessages returns the last limit messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, role, content, tool_name, token_count, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY seq DESC LIMIT ?`, convID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesInSeqRange returns messages with fromSeq < seq ≤ toSeq in
// ascending sequence order.
func (s *Store) MessagesInSeqRange(ctx context.Context, convID string, fromSeq, toSeq int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, role, content, tool_name, token_count, created_at
		 FROM messages WHERE conversation_id = ? AND seq > ? AND seq <= ?
		 ORDER BY seq ASC`, convID, fromSeq, toSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MaxSeq returns the newest sequence number in the conversation, zero
// when it has no messages.
func (s *Store) MaxSeq(ctx context.Context, convID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`, convID).Scan(&seq)
	return seq, err
}

// RecordFailure persists a turn failure without touching committed
// messages.
func (s *Store) RecordFailure(ctx context.Context, convID, correlationID, state, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_failures (conversation_id, correlation_id, state, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		convID, correlationID, state, reason, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	var msgs []domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			toolName  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content,
			&toolName, &m.TokenCount, &createdAt); err != nil {
			return nil, err
		}
		m.ToolName = toolName.String
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
