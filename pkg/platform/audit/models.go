package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "crvs/pkg/domain"
)

// AuditEvent names the kind of lifecycle fact recorded.
type AuditEvent string

const (
	EventRecordDeclared     AuditEvent = "record_declared"
	EventRecordTransitioned AuditEvent = "record_transitioned"
	EventCorrectionRequest  AuditEvent = "correction_requested"
	EventCorrectionClosed   AuditEvent = "correction_closed"
)

// Event is an immutable description of one accepted lifecycle action.
// Keep it transport-agnostic so stores and the outbox relay can fan out.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       AuditEvent        `json:"type"`
	RecordID   id.RecordID       `json:"recordId"`
	EntryID    id.EntryID        `json:"entryId"`
	Seq        int64             `json:"seq"`
	Action     string            `json:"action"`
	ActorID    id.PractitionerID `json:"actorId"`
	FromStatus string            `json:"fromStatus,omitempty"`
	ToStatus   string            `json:"toStatus"`
	Reason     string            `json:"reason,omitempty"`
	Changes    json.RawMessage   `json:"changes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"requestId,omitempty"`
	ClientIP   string            `json:"clientIp,omitempty"`
	Client     string            `json:"client,omitempty"`
	// Integrity is a SHA-256 over the canonical fields; set by the publisher.
	Integrity string `json:"integrity,omitempty"`
	// Verified is set on read once Integrity has been recomputed. Never stored.
	Verified *bool `json:"verified,omitempty"`
}

// TimestampPrecision is the finest time resolution every store keeps.
// Timestamps are truncated to it before hashing.
const TimestampPrecision = time.Microsecond

// ComputeIntegrity hashes the fields that identify the fact. Integrity itself
// is excluded so the value can be recomputed and compared on read.
func ComputeIntegrity(e Event) (string, error) {
	type integrityInput struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		RecordID   string          `json:"record_id"`
		EntryID    string          `json:"entry_id"`
		Seq        int64           `json:"seq"`
		Action     string          `json:"action"`
		ActorID    string          `json:"actor_id"`
		FromStatus string          `json:"from_status,omitempty"`
		ToStatus   string          `json:"to_status"`
		Reason     string          `json:"reason,omitempty"`
		Changes    json.RawMessage `json:"changes,omitempty"`
		Timestamp  time.Time       `json:"timestamp"`
	}
	b, err := json.Marshal(integrityInput{
		ID:         e.ID.String(),
		Type:       string(e.Type),
		RecordID:   e.RecordID.String(),
		EntryID:    e.EntryID.String(),
		Seq:        e.Seq,
		Action:     e.Action,
		ActorID:    e.ActorID.String(),
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Reason:     e.Reason,
		Changes:    e.Changes,
		Timestamp:  e.Timestamp.UTC().Truncate(TimestampPrecision),
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the integrity hash and compares it with the stored one.
func Verify(e Event) bool {
	want, err := ComputeIntegrity(e)
	return err == nil && e.Integrity != "" && want == e.Integrity
}

// Store persists audit events. Append must be idempotent on Event.ID.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRecord(ctx context.Context, recordID id.RecordID) ([]Event, error)
}

// OutboxEntry is an audit event awaiting relay to the message broker.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// Outbox is the read side of the transactional outbox used by the relay worker.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
