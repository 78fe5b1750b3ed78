package search

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
)

// MemoryIndex is an in-process index used when Redis is not configured and in tests.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[id.RecordID]Projection
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[id.RecordID]Projection)}
}

func (m *MemoryIndex) Upsert(_ context.Context, p Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[p.RecordID]
	if ok && existing.Version > p.Version {
		return nil
	}
	if ok && !p.Full() {
		p.Participants = existing.Participants
	}
	p.Participants = slices.Clone(p.Participants)
	m.docs[p.RecordID] = p
	return nil
}

// Get returns the stored document.
func (m *MemoryIndex) Get(_ context.Context, recordID id.RecordID) (Projection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.docs[recordID]
	return p, ok
}

// ByStatus lists record ids currently indexed under status.
func (m *MemoryIndex) ByStatus(_ context.Context, status models.State) []id.RecordID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []id.RecordID
	for rid, p := range m.docs {
		if p.Status == status {
			out = append(out, rid)
		}
	}
	return out
}

type staleEntry struct {
	markedAt time.Time
	cause    string
}

// MemoryStaleSet keeps stale ids in process. Lost on restart; use the
// PostgreSQL set when the record store is PostgreSQL.
type MemoryStaleSet struct {
	mu  sync.Mutex
	ids map[id.RecordID]staleEntry
}

func NewMemoryStaleSet() *MemoryStaleSet {
	return &MemoryStaleSet{ids: make(map[id.RecordID]staleEntry)}
}

func (s *MemoryStaleSet) Mark(_ context.Context, recordID id.RecordID, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := staleEntry{markedAt: time.Now()}
	if cause != nil {
		e.cause = cause.Error()
	}
	s.ids[recordID] = e
	return nil
}

func (s *MemoryStaleSet) Clear(_ context.Context, recordID id.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, recordID)
	return nil
}

// List returns up to limit ids, oldest mark first.
func (s *MemoryStaleSet) List(_ context.Context, limit int) ([]id.RecordID, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]id.RecordID, 0, len(s.ids))
	for rid := range s.ids {
		out = append(out, rid)
	}
	slices.SortFunc(out, func(a, b id.RecordID) int {
		return s.ids[a].markedAt.Compare(s.ids[b].markedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStaleSet) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids), nil
}
