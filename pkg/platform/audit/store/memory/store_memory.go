package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	id "crvs/pkg/domain"
	audit "crvs/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.RecordID][]audit.Event
	seen   map[uuid.UUID]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[id.RecordID][]audit.Event),
		seen:   make(map[uuid.UUID]struct{}),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.RecordID][]audit.Event)
	s.seen = make(map[uuid.UUID]struct{})
}

// Append stores the event once per ID; replays are ignored.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[event.ID]; ok {
		return nil
	}
	s.seen[event.ID] = struct{}{}
	s.events[event.RecordID] = append(s.events[event.RecordID], event)
	return nil
}

// ListByRecord returns the record's events ordered by entry sequence.
func (s *InMemoryStore) ListByRecord(_ context.Context, recordID id.RecordID) ([]audit.Event, error) {
	s.mu.RLock()
	events := slices.Clone(s.events[recordID])
	s.mu.RUnlock()

	slices.SortStableFunc(events, func(a, b audit.Event) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return events, nil
}

// Count returns the total number of stored events.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
