// Package history stores per-session conversation turns. The synthesizer
// reads a bounded window of recent turns; the store trims older ones.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/macroscope-ai/macroscope/config"
)

// Turn is one exchange of the conversation.
type Turn struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store interface for conversation history.
type Store interface {
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// NewStore picks the redis-backed store when an address is configured,
// otherwise an in-memory store.
func NewStore(cfg config.HistoryConfig) (Store, error) {
	if cfg.RedisAddr != "" {
		return NewRedisStore(cfg)
	}
	return NewMemoryStore(cfg), nil
}

// MemoryStore holds history in process memory. Suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	cfg      config.HistoryConfig
	mu       sync.RWMutex
	sessions map[string]*memSession
}

type memSession struct {
	turns     []Turn
	expiresAt time.Time
}

func NewMemoryStore(cfg config.HistoryConfig) *MemoryStore {
	return &MemoryStore{cfg: cfg, sessions: make(map[string]*memSession)}
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || time.Now().After(sess.expiresAt) {
		sess = &memSession{}
		m.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, turns...)
	if max := m.cfg.MaxTurns; max > 0 && len(sess.turns) > max {
		sess.turns = sess.turns[len(sess.turns)-max:]
	}
	sess.expiresAt = time.Now().Add(m.cfg.TTL)
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok || time.Now().After(sess.expiresAt) {
		return nil, nil
	}
	turns := sess.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}
