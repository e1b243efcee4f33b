package domain

import (
	"context"
	"time"
)

// MemoryType classifies a unit of long-term knowledge.
type MemoryType string

const (
	MemoryEpisodic   MemoryType = "episodic"   // specific past events/conversations
	MemorySemantic   MemoryType = "semantic"   // user preferences and facts
	MemoryProcedural MemoryType = "procedural" // how-to knowledge and patterns
)

// Memory is one unit of long-term knowledge, owned by the memory store.
type Memory struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	Type      MemoryType        `json:"type"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MemoryStore is the backing semantic store for long-term memory. The core
// treats it as a black-box search/add/delete service scoped by user id.
type MemoryStore interface {
	Add(ctx context.Context, mem Memory) (string, error)
	Search(ctx context.Context, userID, query string, limit int) ([]Memory, error)
	Recent(ctx context.Context, userID string, limit int) ([]Memory, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, userID string) error
	Close() error
}
