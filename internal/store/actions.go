package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/johnwards/hubsync/internal/domain"
)

// StoredAction is one row of the local action sink.
type StoredAction struct {
	ID       int64
	Name     string
	Date     time.Time
	Identity string
	Payload  json.RawMessage
}

// SQLiteActionStore is an action sink that appends batches to the actions
// table.
type SQLiteActionStore struct {
	db *sql.DB
}

// NewSQLiteActionStore creates a new SQLiteActionStore.
func NewSQLiteActionStore(db *sql.DB) *SQLiteActionStore {
	return &SQLiteActionStore{db: db}
}

// Ingest inserts a batch of actions for d in a single transaction.
func (s *SQLiteActionStore) Ingest(ctx context.Context, d *domain.Domain, actions []domain.Action) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO actions (domain_id, action_name, action_date, identity, payload, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare ingest: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ts := nowMillis()
	for _, a := range actions {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal action: %w", err)
		}
		var identity sql.NullString
		if a.Identity != "" {
			identity = sql.NullString{String: a.Identity, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, d.ID, a.Name, a.Date.UnixMilli(), identity, string(payload), ts); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}
	return nil
}

// Count returns the number of stored actions for a domain.
func (s *SQLiteActionStore) Count(ctx context.Context, domainID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions WHERE domain_id = ?`, domainID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// List returns stored actions for a domain ordered by insertion.
func (s *SQLiteActionStore) List(ctx context.Context, domainID int64, limit int) ([]StoredAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_name, action_date, identity, payload FROM actions
		WHERE domain_id = ? ORDER BY id ASC LIMIT ?`, domainID, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredAction
	for rows.Next() {
		var (
			a        StoredAction
			date     int64
			identity sql.NullString
			payload  string
		)
		if err := rows.Scan(&a.ID, &a.Name, &date, &identity, &payload); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Date = time.UnixMilli(date).UTC()
		a.Identity = identity.String
		a.Payload = json.RawMessage(payload)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("action rows: %w", err)
	}
	return out, nil
}
