package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gatherlabs/gather/pkg/errors"
)

// MemoryService implements Service in memory for tests and
// single-binary deployments without a running events service.
type MemoryService struct {
	mu     sync.RWMutex
	events map[string]Event
}

// NewMemoryService creates an empty in-memory event store.
func NewMemoryService() *MemoryService {
	return &MemoryService{events: make(map[string]Event)}
}

// Create registers a new event and assigns it an id.
func (m *MemoryService) Create(_ context.Context, event Event) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	m.events[event.ID] = event
	return &event, nil
}

// Get fetches one event by id.
func (m *MemoryService) Get(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("event %q not found", id), nil)
	}
	return &event, nil
}

// List returns all events ordered by start time.
func (m *MemoryService) List(_ context.Context) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0, len(m.events))
	for _, event := range m.events {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// Update replaces an existing event.
func (m *MemoryService) Update(_ context.Context, event Event) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; !ok {
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("event %q not found", event.ID), nil)
	}
	m.events[event.ID] = event
	return &event, nil
}

// Delete removes an event by id.
func (m *MemoryService) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return errors.New(errors.CodeToolFailure, fmt.Sprintf("event %q not found", id), nil)
	}
	delete(m.events, id)
	return nil
}
