package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	txcontext "zonepilot/pkg/platform/tx"
)

// PostgresStore persists audit events in the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, domain, job_id, action,
			phase, outcome, reason, caller_id, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		event.Domain,
		event.JobID,
		event.Action,
		event.Phase,
		event.Outcome,
		event.Reason,
		event.CallerID,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByDomain(ctx context.Context, domain string) ([]Event, error) {
	query := `
		SELECT category, timestamp, domain, job_id, action,
			   phase, outcome, reason, caller_id, request_id
		FROM audit_events
		WHERE domain = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query, domain)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT category, timestamp, domain, job_id, action,
			   phase, outcome, reason, caller_id, request_id
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			category string
			event    Event
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&event.Domain,
			&event.JobID,
			&event.Action,
			&event.Phase,
			&event.Outcome,
			&event.Reason,
			&event.CallerID,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
