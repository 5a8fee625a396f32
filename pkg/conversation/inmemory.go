package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements Store with in-memory storage. Suitable for
// development, testing, and single-instance deployments. Data is lost
// on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewInMemoryStore creates a new in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]Turn)}
}

// Append adds a turn to the session history.
func (m *InMemoryStore) Append(_ context.Context, sessionID string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.SessionID == "" {
		turn.SessionID = sessionID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	m.sessions[sessionID] = append(m.sessions[sessionID], turn)
	return nil
}

// Turns retrieves all turns for a session in append order.
func (m *InMemoryStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Turn, len(m.sessions[sessionID]))
	copy(out, m.sessions[sessionID])
	return out, nil
}

// Clear removes all turns for a session.
func (m *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// ListSessions returns all active session IDs.
func (m *InMemoryStore) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
