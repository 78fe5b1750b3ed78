// Package store holds the record store implementations: an in-memory store
// for development and tests, and the PostgreSQL store.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	"crvs/pkg/platform/sentinel"
)

// InMemoryStore keeps record bundles in process. Records are cloned on the
// way in and out so callers never share entry slices with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.RecordID]*models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.RecordID]*models.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Load returns the record when its current status is in allowed. A nil
// allowed set matches any status.
func (s *InMemoryStore) Load(_ context.Context, recordID id.RecordID, allowed []models.State) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if allowed != nil && !slices.Contains(allowed, rec.Status()) {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// ApplyDelta writes the superseded entries and the appended entry when the
// stored version still equals the version observed at load.
func (s *InMemoryStore) ApplyDelta(_ context.Context, delta models.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[delta.RecordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.Version() != delta.ExpectedVersion {
		return sentinel.ErrConflict
	}

	next := rec.Clone()
	for _, e := range delta.Superseded {
		i := slices.IndexFunc(next.Entries, func(x models.LifecycleEntry) bool { return x.ID == e.ID })
		if i < 0 {
			return fmt.Errorf("superseded entry %s: %w", e.ID, sentinel.ErrInvalidState)
		}
		if !next.Entries[i].IsCurrent() {
			return fmt.Errorf("entry %s is already historical: %w", e.ID, sentinel.ErrConflict)
		}
		next.Entries[i] = e
	}
	next.Entries = append(next.Entries, delta.Appended)
	next.UpdatedAt = delta.UpdatedAt
	next.SortEntries()
	if _, err := next.Current(); err != nil {
		return fmt.Errorf("apply delta: %w", sentinel.ErrInvalidState)
	}

	s.records[delta.RecordID] = next.Clone()
	return nil
}

// ListIDs pages through record ids in ascending order, starting after after.
// Pass the zero id to start from the beginning.
func (s *InMemoryStore) ListIDs(_ context.Context, after id.RecordID, limit int) ([]id.RecordID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]id.RecordID, 0, len(s.records))
	for rid := range s.records {
		if after.IsNil() || rid.String() > after.String() {
			ids = append(ids, rid)
		}
	}
	slices.SortFunc(ids, func(a, b id.RecordID) int {
		return strings.Compare(a.String(), b.String())
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Count returns the number of stored records.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
