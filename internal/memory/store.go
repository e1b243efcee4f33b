// Package memory provides long-term memory storage and the fail-soft
// service layer on top of it.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"klix/internal/domain"
)

// SQLiteStore implements domain.MemoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// SQLite works best over a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		content     TEXT NOT NULL,
		type        TEXT NOT NULL DEFAULT 'semantic',
		metadata    TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Add(ctx context.Context, mem domain.Memory) (string, error) {
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	if mem.Type == "" {
		mem.Type = domain.MemorySemantic
	}

	var metadata []byte
	if len(mem.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(mem.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, content, type, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		mem.ID, mem.UserID, mem.Content, string(mem.Type), nullableString(metadata), mem.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	return mem.ID, nil
}

// Search runs a keyword match over memory contents, newest first.
func (s *SQLiteStore) Search(ctx context.Context, userID, query string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, type, metadata, created_at
		 FROM memories
		 WHERE user_id = ? AND content LIKE ?
		 ORDER BY created_at DESC LIMIT ?`,
		userID, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, type, metadata, created_at
		 FROM memories
		 WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("memory %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMemories(rows *sql.Rows) ([]domain.Memory, error) {
	var mems []domain.Memory
	for rows.Next() {
		var m domain.Memory
		var typ string
		var metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &typ, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = domain.MemoryType(typ)
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &m.Metadata)
		}
		mems = append(mems, m)
	}
	return mems, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ domain.MemoryStore = (*SQLiteStore)(nil)
