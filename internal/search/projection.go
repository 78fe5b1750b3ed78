// Package search maintains the search-index projection of records. The record
// store is the source of truth; everything here can be rebuilt from it.
package search

import (
	"context"
	"time"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
)

// ParticipantDoc is the searchable slice of a participant.
type ParticipantDoc struct {
	Role       string `json:"role"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// Projection is one upsert into the index. A nil Participants slice leaves the
// stored participant fields untouched; only DECLARE and full rebuilds send them.
type Projection struct {
	RecordID          id.RecordID      `json:"recordId"`
	EventType         string           `json:"eventType"`
	Status            models.State     `json:"status"`
	Version           int64            `json:"version"`
	LastAction        models.Action    `json:"lastAction"`
	LastActor         string           `json:"lastActor"`
	LastReason        string           `json:"lastReason,omitempty"`
	PendingCorrection bool             `json:"pendingCorrection"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	Participants      []ParticipantDoc `json:"participants,omitempty"`
}

// Full reports whether the projection carries participant fields.
func (p Projection) Full() bool { return p.Participants != nil }

// FromRecord builds a full projection for DECLARE and rebuilds.
func FromRecord(rec *models.Record) Projection {
	p := Projection{
		RecordID:          rec.ID,
		EventType:         rec.EventType.String(),
		Version:           rec.Version(),
		PendingCorrection: rec.HasPendingCorrection(),
		UpdatedAt:         rec.UpdatedAt,
		Participants:      make([]ParticipantDoc, 0, len(rec.Participants)),
	}
	if current, err := rec.Current(); err == nil {
		p.Status = current.Status
		p.LastAction = current.Action
		p.LastActor = current.Actor.String()
		p.LastReason = current.Reason
	}
	for _, part := range rec.Participants {
		p.Participants = append(p.Participants, ParticipantDoc{
			Role:       string(part.Role),
			GivenName:  part.GivenName,
			FamilyName: part.FamilyName,
		})
	}
	return p
}

// FromTransition builds the partial projection for a lifecycle transition.
func FromTransition(res models.TransitionResult) Projection {
	return Projection{
		RecordID:          res.Record.ID,
		EventType:         res.Record.EventType.String(),
		Status:            res.To,
		Version:           res.Current.Seq,
		LastAction:        res.Action,
		LastActor:         res.Actor.String(),
		LastReason:        res.Current.Reason,
		PendingCorrection: res.To == models.StateCorrectionRequested,
		UpdatedAt:         res.OccurredAt,
	}
}

// Indexer writes projections. Upserts must be idempotent and must not move a
// document backwards: a projection with a lower Version than the stored one is ignored.
type Indexer interface {
	Upsert(ctx context.Context, p Projection) error
}

// StaleSet tracks record ids whose projection may lag the store.
type StaleSet interface {
	Mark(ctx context.Context, recordID id.RecordID, cause error) error
	Clear(ctx context.Context, recordID id.RecordID) error
	List(ctx context.Context, limit int) ([]id.RecordID, error)
	Count(ctx context.Context) (int, error)
}
