package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "crvs/pkg/domain"
	audit "crvs/pkg/platform/audit"
	txcontext "crvs/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each Append writes the queryable audit_events row and an outbox row in one
// transaction; the relay worker publishes outbox rows to Kafka.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes the event and its outbox entry. Idempotent on event ID.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		res, err := q.ExecContext(ctx, `
			INSERT INTO audit_events (
				id, event_type, record_id, entry_id, seq, action, actor_id,
				from_status, to_status, reason, changes, occurred_at,
				request_id, client_ip, client, integrity_sha256
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING
		`,
			event.ID,
			string(event.Type),
			uuid.UUID(event.RecordID),
			uuid.UUID(event.EntryID),
			event.Seq,
			event.Action,
			uuid.UUID(event.ActorID),
			event.FromStatus,
			event.ToStatus,
			event.Reason,
			nullableJSON(event.Changes),
			event.Timestamp,
			event.RequestID,
			event.ClientIP,
			event.Client,
			event.Integrity,
		)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			uuid.New(),
			"record",
			event.RecordID.String(),
			string(event.Type),
			payload,
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

// ListByRecord returns a record's audit trail ordered by entry sequence.
func (s *Store) ListByRecord(ctx context.Context, recordID id.RecordID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, record_id, entry_id, seq, action, actor_id,
			   from_status, to_status, reason, changes, occurred_at,
			   request_id, client_ip, client, integrity_sha256
		FROM audit_events
		WHERE record_id = $1
		ORDER BY seq ASC, occurred_at ASC
	`, uuid.UUID(recordID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e                       audit.Event
			eventType               string
			recID, entryID, actorID uuid.UUID
			changes                 []byte
		)
		if err := rows.Scan(
			&e.ID, &eventType, &recID, &entryID, &e.Seq, &e.Action, &actorID,
			&e.FromStatus, &e.ToStatus, &e.Reason, &changes, &e.Timestamp,
			&e.RequestID, &e.ClientIP, &e.Client, &e.Integrity,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = audit.AuditEvent(eventType)
		e.RecordID = id.RecordID(recID)
		e.EntryID = id.EntryID(entryID)
		e.ActorID = id.PractitionerID(actorID)
		if len(changes) > 0 {
			e.Changes = json.RawMessage(changes)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// FetchPending returns unpublished outbox entries, oldest first. Rows are
// locked with SKIP LOCKED so several relays can run side by side.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	rows, err := txcontext.Querier(ctx, s.db).QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []audit.OutboxEntry
	for rows.Next() {
		var e audit.OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, v := range ids {
		raw[i] = v.String()
	}
	_, err := txcontext.Querier(ctx, s.db).ExecContext(ctx, `
		UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])
	`, at, pq.Array(raw))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// RunInTx scopes FetchPending and MarkPublished to a single transaction so
// row locks are held until the batch is marked.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
