package zonequeue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/sentinel"
)

// PostgresStore persists queue entries in the zone_queue table, keyed by
// domain so a domain holds at most one live entry at a time.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = "domain, job_id, zone_id, nameservers, status, enqueued_at, activating_at, completed_at, reason"

// Enqueue inserts a queued entry. A settled entry for the same domain is
// replaced in place; a live one makes the upsert a no-op, surfaced as
// sentinel.ErrConflict.
func (s *PostgresStore) Enqueue(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO zone_queue (domain, job_id, zone_id, nameservers, status, enqueued_at, reason)
		VALUES ($1, $2, '', '[]', $3, $4, '')
		ON CONFLICT (domain) DO UPDATE
		SET job_id = EXCLUDED.job_id, zone_id = '', nameservers = '[]',
		    status = EXCLUDED.status, enqueued_at = EXCLUDED.enqueued_at,
		    activating_at = NULL, completed_at = NULL, reason = ''
		WHERE zone_queue.status IN ('active', 'failed')
	`
	res, err := s.db.ExecContext(ctx, query,
		entry.Domain,
		uuid.UUID(entry.JobID),
		string(entry.Status),
		entry.EnqueuedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("enqueue zone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Guarded upsert matched a live entry and left it alone.
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, domain string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM zone_queue WHERE domain = $1`
	return scanEntry(s.db.QueryRowContext(ctx, query, domain))
}

func (s *PostgresStore) ListActivating(ctx context.Context) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM zone_queue
		WHERE status = 'activating'
		ORDER BY enqueued_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list activating zones: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActivating(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM zone_queue WHERE status = 'activating'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activating zones: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) NextQueued(ctx context.Context) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM zone_queue
		WHERE status = 'queued'
		ORDER BY enqueued_at, domain
		LIMIT 1
	`
	return scanEntry(s.db.QueryRowContext(ctx, query))
}

func (s *PostgresStore) MarkActivating(ctx context.Context, domain string, zoneID id.ZoneID, nameservers []string, at time.Time) error {
	ns, err := json.Marshal(nameservers)
	if err != nil {
		return fmt.Errorf("encode nameservers: %w", err)
	}
	query := `
		UPDATE zone_queue
		SET status = 'activating', zone_id = $2, nameservers = $3, activating_at = $4
		WHERE domain = $1 AND status = 'queued'
	`
	res, err := s.db.ExecContext(ctx, query, domain, string(zoneID), ns, at)
	if err != nil {
		return fmt.Errorf("mark zone activating: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Complete(ctx context.Context, domain string, status Status, reason string, at time.Time) error {
	query := `
		UPDATE zone_queue
		SET status = $2, reason = $3, completed_at = $4
		WHERE domain = $1 AND status IN ('queued', 'activating')
	`
	res, err := s.db.ExecContext(ctx, query, domain, string(status), reason, at)
	if err != nil {
		return fmt.Errorf("complete zone: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry        Entry
		jobU         uuid.UUID
		zoneID       string
		ns           []byte
		status       string
		activatingAt sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(&entry.Domain, &jobU, &zoneID, &ns, &status,
		&entry.EnqueuedAt, &activatingAt, &completedAt, &entry.Reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan queue entry: %w", err)
	}
	entry.JobID = id.JobID(jobU)
	entry.ZoneID = id.ZoneID(zoneID)
	if err := json.Unmarshal(ns, &entry.Nameservers); err != nil {
		return nil, fmt.Errorf("decode nameservers: %w", err)
	}
	entry.Status = Status(status)
	if activatingAt.Valid {
		entry.ActivatingAt = &activatingAt.Time
	}
	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}
	return &entry, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
