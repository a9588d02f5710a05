package memory

import (
	"context"
	"sync"

	audit "nexus/pkg/platform/audit"
	"nexus/pkg/platform/tx"
)

// InMemoryStore keeps events per subject. Appends made inside an in-memory
// transaction are recorded when that transaction commits.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]audit.Event)
}

func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	write := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events[event.Subject] = append(s.events[event.Subject], event)
	}
	if !tx.OnCommit(ctx, write) {
		write()
	}
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[subject]...), nil
}

// ListAll returns every recorded event.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, events := range s.events {
		all = append(all, events...)
	}
	return all, nil
}
