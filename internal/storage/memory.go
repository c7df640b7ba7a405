package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with plain in-memory slices and maps. It backs
// the unit and integration tests, where spinning up BadgerDB would only add
// noise.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	sessions map[string]Session

	// FailAppends forces AppendMessage to return this error, letting tests
	// exercise the persistence-failure paths of the router.
	FailAppends error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// AppendMessage appends msg, keeping the slice ordered by creation time.
func (m *MemoryStore) AppendMessage(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppends != nil {
		return m.FailAppends
	}
	m.messages = append(m.messages, msg)
	sort.SliceStable(m.messages, func(i, j int) bool {
		return m.messages[i].CreatedAt.Before(m.messages[j].CreatedAt)
	})
	return nil
}

// RecentMessages returns the last limit messages in ascending creation order.
func (m *MemoryStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	start := len(m.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(m.messages)-start)
	copy(out, m.messages[start:])
	return out, nil
}

// PruneMessagesOlderThan drops messages created before horizon.
func (m *MemoryStore) PruneMessagesOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	deleted := 0
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(horizon) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return deleted, nil
}

// UpsertSession inserts or replaces the session row for its connection key.
func (m *MemoryStore) UpsertSession(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ConnKey] = session
	return nil
}

// DeleteSession removes the session row; missing rows are ignored.
func (m *MemoryStore) DeleteSession(ctx context.Context, connKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, connKey)
	return nil
}

// ListSessions returns all stored sessions in no particular order.
func (m *MemoryStore) ListSessions(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	return out, nil
}

// FindSessionByIdentity returns the session holding identity, or ErrNotFound.
func (m *MemoryStore) FindSessionByIdentity(ctx context.Context, identity string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if session.Identity == identity {
			copied := session
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// Stats counts stored messages and sessions.
func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	midnight := time.Now()
	midnight = time.Date(midnight.Year(), midnight.Month(), midnight.Day(), 0, 0, 0, 0, midnight.Location())

	stats := Stats{TotalMessages: len(m.messages), TotalSessions: len(m.sessions)}
	for _, msg := range m.messages {
		if !msg.CreatedAt.Before(midnight) {
			stats.TodayMessages++
		}
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
