package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	"crvs/pkg/platform/sentinel"
	txcontext "crvs/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// PostgresStore persists record bundles across three tables. Writes after
// DECLARE only ever touch records (version, status) and lifecycle_entries.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.Record) error {
	current, err := rec.Current()
	if err != nil {
		return fmt.Errorf("create record: %w", sentinel.ErrInvalidState)
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		_, err := q.ExecContext(ctx, `
			INSERT INTO records (id, event_type, declaration, current_status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			uuid.UUID(rec.ID),
			string(rec.EventType),
			[]byte(rec.Declaration.Content),
			string(current.Status),
			current.Seq,
			rec.CreatedAt,
			rec.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrAlreadyExists
			}
			return classify("insert record", err)
		}

		for i, p := range rec.Participants {
			_, err := q.ExecContext(ctx, `
				INSERT INTO participants (id, record_id, role, given_name, family_name, details, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`,
				uuid.UUID(p.ID),
				uuid.UUID(rec.ID),
				string(p.Role),
				p.GivenName,
				p.FamilyName,
				nullableJSON(p.Details),
				i,
			)
			if err != nil {
				return classify("insert participant", err)
			}
		}

		for _, e := range rec.Entries {
			if err := insertEntry(ctx, q, rec.ID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads the bundle in one repeatable-read snapshot. A nil allowed set
// matches any status; a record outside the set reads as not found.
func (s *PostgresStore) Load(ctx context.Context, recordID id.RecordID, allowed []models.State) (*models.Record, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, classify("begin load", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	var (
		rec         models.Record
		rid         uuid.UUID
		eventType   string
		declaration []byte
		status      string
		version     int64
	)
	var row *sql.Row
	if allowed == nil {
		row = sqlTx.QueryRowContext(ctx, `
			SELECT id, event_type, declaration, current_status, version, created_at, updated_at
			FROM records WHERE id = $1
		`, uuid.UUID(recordID))
	} else {
		row = sqlTx.QueryRowContext(ctx, `
			SELECT id, event_type, declaration, current_status, version, created_at, updated_at
			FROM records WHERE id = $1 AND current_status = ANY($2)
		`, uuid.UUID(recordID), pq.Array(statesToStrings(allowed)))
	}
	if err := row.Scan(&rid, &eventType, &declaration, &status, &version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify("load record", err)
	}
	rec.ID = id.RecordID(rid)
	rec.EventType = id.EventType(eventType)
	rec.Declaration = models.Declaration{Content: json.RawMessage(declaration)}

	if rec.Participants, err = loadParticipants(ctx, sqlTx, rec.ID); err != nil {
		return nil, err
	}
	if rec.Entries, err = loadEntries(ctx, sqlTx, rec.ID); err != nil {
		return nil, err
	}
	if rec.Version() != version {
		return nil, fmt.Errorf("record %s version %d does not match entries: %w", rec.ID, version, sentinel.ErrInvalidState)
	}
	return &rec, nil
}

// ApplyDelta performs the conditional write: the version bump succeeds only
// if the stored version equals delta.ExpectedVersion, and a superseded entry
// is only written while it is still active.
func (s *PostgresStore) ApplyDelta(ctx context.Context, delta models.Delta) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		q := txcontext.Querier(ctx, s.db)
		res, err := q.ExecContext(ctx, `
			UPDATE records SET current_status = $1, version = $2, updated_at = $3
			WHERE id = $4 AND version = $5
		`,
			string(delta.Status),
			delta.NewVersion,
			delta.UpdatedAt,
			uuid.UUID(delta.RecordID),
			delta.ExpectedVersion,
		)
		if err != nil {
			return classify("update record version", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return classify("update record version", err)
		} else if n == 0 {
			var exists bool
			if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE id = $1)`,
				uuid.UUID(delta.RecordID)).Scan(&exists); err != nil {
				return classify("check record", err)
			}
			if !exists {
				return sentinel.ErrNotFound
			}
			return sentinel.ErrConflict
		}

		for _, e := range delta.Superseded {
			res, err := q.ExecContext(ctx, `
				UPDATE lifecycle_entries
				SET entry_status = $1, rejection_reason = $2, superseded_at = $3, superseded_by = $4
				WHERE id = $5 AND record_id = $6 AND entry_status = 'active'
			`,
				string(e.EntryStatus),
				e.RejectionReason,
				nullableTime(e.SupersededAt),
				nullableEntryID(e.SupersededBy),
				uuid.UUID(e.ID),
				uuid.UUID(delta.RecordID),
			)
			if err != nil {
				return classify("supersede entry", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return classify("supersede entry", err)
			} else if n == 0 {
				return sentinel.ErrConflict
			}
		}

		if err := insertEntry(ctx, q, delta.RecordID, delta.Appended); err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return err
		}
		return nil
	})
}

func (s *PostgresStore) ListIDs(ctx context.Context, after id.RecordID, limit int) ([]id.RecordID, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM records WHERE id > $1 ORDER BY id LIMIT $2
	`, uuid.UUID(after), limit)
	if err != nil {
		return nil, classify("list record ids", err)
	}
	defer rows.Close()

	var out []id.RecordID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan record id: %w", err)
		}
		out = append(out, id.RecordID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list record ids", err)
	}
	return out, nil
}

func insertEntry(ctx context.Context, q txcontext.DBTX, recordID id.RecordID, e models.LifecycleEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO lifecycle_entries (
			id, record_id, seq, status, entry_status, preceding_status, action, actor_id,
			occurred_at, reason, requested_changes, applied_changes, rejection_reason,
			superseded_at, superseded_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		uuid.UUID(e.ID),
		uuid.UUID(recordID),
		e.Seq,
		string(e.Status),
		string(e.EntryStatus),
		string(e.PrecedingStatus),
		string(e.Action),
		uuid.UUID(e.Actor),
		e.Timestamp,
		e.Reason,
		nullableJSON(e.RequestedChanges),
		nullableJSON(e.AppliedChanges),
		e.RejectionReason,
		nullableTime(e.SupersededAt),
		nullableEntryID(e.SupersededBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return classify("insert lifecycle entry", err)
	}
	return nil
}

func loadParticipants(ctx context.Context, q txcontext.DBTX, recordID id.RecordID) ([]models.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, role, given_name, family_name, details
		FROM participants WHERE record_id = $1 ORDER BY position
	`, uuid.UUID(recordID))
	if err != nil {
		return nil, classify("load participants", err)
	}
	defer rows.Close()

	out := []models.Participant{}
	for rows.Next() {
		var (
			p       models.Participant
			pid     uuid.UUID
			role    string
			details []byte
		)
		if err := rows.Scan(&pid, &role, &p.GivenName, &p.FamilyName, &details); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.ID = id.ParticipantID(pid)
		p.Role = models.ParticipantRole(role)
		if len(details) > 0 {
			p.Details = json.RawMessage(details)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load participants", err)
	}
	return out, nil
}

func loadEntries(ctx context.Context, q txcontext.DBTX, recordID id.RecordID) ([]models.LifecycleEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, seq, status, entry_status, preceding_status, action, actor_id, occurred_at,
		       reason, requested_changes, applied_changes, rejection_reason, superseded_at, superseded_by
		FROM lifecycle_entries WHERE record_id = $1 ORDER BY seq
	`, uuid.UUID(recordID))
	if err != nil {
		return nil, classify("load lifecycle entries", err)
	}
	defer rows.Close()

	var out []models.LifecycleEntry
	for rows.Next() {
		var (
			e                   models.LifecycleEntry
			eid, actor          uuid.UUID
			status, entryStatus string
			preceding, action   string
			requested, applied  []byte
			supersededAt        sql.NullTime
			supersededBy        uuid.NullUUID
		)
		if err := rows.Scan(&eid, &e.Seq, &status, &entryStatus, &preceding, &action, &actor, &e.Timestamp,
			&e.Reason, &requested, &applied, &e.RejectionReason, &supersededAt, &supersededBy); err != nil {
			return nil, fmt.Errorf("scan lifecycle entry: %w", err)
		}
		e.ID = id.EntryID(eid)
		e.Actor = id.PractitionerID(actor)
		e.Status = models.State(status)
		e.EntryStatus = models.EntryStatus(entryStatus)
		e.PrecedingStatus = models.State(preceding)
		e.Action = models.Action(action)
		if len(requested) > 0 {
			e.RequestedChanges = json.RawMessage(requested)
		}
		if len(applied) > 0 {
			e.AppliedChanges = json.RawMessage(applied)
		}
		if supersededAt.Valid {
			t := supersededAt.Time
			e.SupersededAt = &t
		}
		if supersededBy.Valid {
			b := id.EntryID(supersededBy.UUID)
			e.SupersededBy = &b
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load lifecycle entries", err)
	}
	return out, nil
}

// classify keeps context and SQL errors as they are and treats everything
// else (connection refused, broken pipe, pool exhaustion) as unavailability.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, errors.Join(sentinel.ErrUnavailable, err))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func statesToStrings(states []models.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableEntryID(e *id.EntryID) any {
	if e == nil {
		return nil
	}
	return uuid.UUID(*e)
}
