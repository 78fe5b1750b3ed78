package service

import (
	"context"

	"crvs/internal/search"
	"crvs/internal/workflow/lock"
	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	"crvs/pkg/platform/audit"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Store,Locker,AuditPublisher,Indexer

// Store is the authoritative record store. Implementations return sentinel
// errors (ErrNotFound, ErrConflict, ErrAlreadyExists, ErrUnavailable).
type Store interface {
	Create(ctx context.Context, rec *models.Record) error
	// Load returns the bundle only if its current status is in allowed; nil allows any.
	Load(ctx context.Context, recordID id.RecordID, allowed []models.State) (*models.Record, error)
	// ApplyDelta writes the delta only if the stored version equals delta.ExpectedVersion.
	ApplyDelta(ctx context.Context, delta models.Delta) error
	ListIDs(ctx context.Context, after id.RecordID, limit int) ([]id.RecordID, error)
}

// Locker serializes actions on one record.
type Locker interface {
	Lock(ctx context.Context, recordID id.RecordID) (lock.Unlock, error)
}

// AuditPublisher appends and reads audit events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, recordID id.RecordID) ([]audit.Event, error)
}

// Indexer upserts search projections.
type Indexer interface {
	Upsert(ctx context.Context, p search.Projection) error
}
