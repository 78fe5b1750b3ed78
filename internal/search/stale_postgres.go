package search

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "crvs/pkg/domain"
)

// PostgresStaleSet persists stale ids next to the records so a separate
// reindex process can drain them.
type PostgresStaleSet struct {
	db *sql.DB
}

func NewPostgresStaleSet(db *sql.DB) *PostgresStaleSet {
	return &PostgresStaleSet{db: db}
}

func (s *PostgresStaleSet) Mark(ctx context.Context, recordID id.RecordID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_stale (record_id, marked_at, last_error)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id) DO UPDATE SET last_error = EXCLUDED.last_error
	`, uuid.UUID(recordID), time.Now(), msg)
	if err != nil {
		return fmt.Errorf("mark index stale: %w", err)
	}
	return nil
}

func (s *PostgresStaleSet) Clear(ctx context.Context, recordID id.RecordID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_stale WHERE record_id = $1`, uuid.UUID(recordID)); err != nil {
		return fmt.Errorf("clear index stale: %w", err)
	}
	return nil
}

func (s *PostgresStaleSet) List(ctx context.Context, limit int) ([]id.RecordID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id FROM index_stale ORDER BY marked_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list index stale: %w", err)
	}
	defer rows.Close()

	var out []id.RecordID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan index stale: %w", err)
		}
		out = append(out, id.RecordID(u))
	}
	return out, rows.Err()
}

func (s *PostgresStaleSet) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM index_stale`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count index stale: %w", err)
	}
	return n, nil
}
