package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/sentinel"
	"zonepilot/pkg/platform/tx"
)

// PostgresStore persists jobs in the migration_jobs table. Snapshot, email
// profile, rollback state, verify report and the error log are JSONB columns;
// a partial unique index on (domain) over non-terminal statuses enforces the
// one-active-job-per-domain invariant at the database.
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
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

const jobColumns = `id, batch_id, domain, phase, status, dry_run,
	created_at, updated_at, discovery_started_at, completed_at,
	snapshot, email_profile, zone_id, edge_nameservers, rollback, verify_result, error_log`

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO migration_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID id.JobID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE id = $1`
	return scanJob(s.db.QueryRowContext(ctx, query, uuid.UUID(jobID)))
}

func (s *PostgresStore) GetActiveByDomain(ctx context.Context, domain string) (*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM migration_jobs
		WHERE domain = $1 AND status NOT IN ('succeeded', 'failed', 'rolled_back', 'verify_failed')
		LIMIT 1
	`
	return scanJob(s.db.QueryRowContext(ctx, query, domain))
}

func (s *PostgresStore) Update(ctx context.Context, job *Job) error {
	query := `
		UPDATE migration_jobs
		SET batch_id = $2, domain = $3, phase = $4, status = $5, dry_run = $6,
			created_at = $7, updated_at = $8, discovery_started_at = $9, completed_at = $10,
			snapshot = $11, email_profile = $12, zone_id = $13, edge_nameservers = $14,
			rollback = $15, verify_result = $16, error_log = $17
		WHERE id = $1
	`
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	res, err := s.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE 1=1`
	var args []any
	if filter.Domain != "" {
		args = append(args, filter.Domain)
		query += ` AND domain = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.BatchID != nil {
		args = append(args, uuid.UUID(*filter.BatchID))
		query += ` AND batch_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func jobArgs(job *Job) ([]any, error) {
	snapshot, err := marshalNullable(job.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	profile, err := marshalNullable(job.EmailProfile)
	if err != nil {
		return nil, fmt.Errorf("encode email profile: %w", err)
	}
	rollback, err := marshalNullable(job.Rollback)
	if err != nil {
		return nil, fmt.Errorf("encode rollback state: %w", err)
	}
	verify, err := marshalNullable(job.VerifyResult)
	if err != nil {
		return nil, fmt.Errorf("encode verify report: %w", err)
	}
	errorLog, err := json.Marshal(job.Errors)
	if err != nil {
		return nil, fmt.Errorf("encode error log: %w", err)
	}
	nameservers, err := json.Marshal(job.EdgeNameservers)
	if err != nil {
		return nil, fmt.Errorf("encode nameservers: %w", err)
	}

	var batchID any
	if job.BatchID != nil {
		batchID = uuid.UUID(*job.BatchID)
	}

	return []any{
		uuid.UUID(job.ID),
		batchID,
		job.Domain,
		string(job.Phase),
		string(job.Status),
		job.DryRun,
		job.CreatedAt,
		job.UpdatedAt,
		job.DiscoveryStartedAt,
		job.CompletedAt,
		snapshot,
		profile,
		string(job.ZoneID),
		nameservers,
		rollback,
		verify,
		errorLog,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		jobU        uuid.UUID
		batchU      uuid.NullUUID
		phase       string
		status      string
		discovery   sql.NullTime
		completed   sql.NullTime
		snapshot    []byte
		profile     []byte
		zoneID      string
		nameservers []byte
		rollback    []byte
		verify      []byte
		errorLog    []byte
	)
	err := row.Scan(&jobU, &batchU, &job.Domain, &phase, &status, &job.DryRun,
		&job.CreatedAt, &job.UpdatedAt, &discovery, &completed,
		&snapshot, &profile, &zoneID, &nameservers, &rollback, &verify, &errorLog)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.ID = id.JobID(jobU)
	if batchU.Valid {
		batchID := id.BatchID(batchU.UUID)
		job.BatchID = &batchID
	}
	job.Phase = Phase(phase)
	job.Status = JobStatus(status)
	job.ZoneID = id.ZoneID(zoneID)
	if discovery.Valid {
		job.DiscoveryStartedAt = &discovery.Time
	}
	if completed.Valid {
		job.CompletedAt = &completed.Time
	}
	if err := unmarshalNullable(snapshot, &job.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := unmarshalNullable(profile, &job.EmailProfile); err != nil {
		return nil, fmt.Errorf("decode email profile: %w", err)
	}
	if err := unmarshalNullable(rollback, &job.Rollback); err != nil {
		return nil, fmt.Errorf("decode rollback state: %w", err)
	}
	if err := unmarshalNullable(verify, &job.VerifyResult); err != nil {
		return nil, fmt.Errorf("decode verify report: %w", err)
	}
	if len(nameservers) > 0 {
		if err := json.Unmarshal(nameservers, &job.EdgeNameservers); err != nil {
			return nil, fmt.Errorf("decode nameservers: %w", err)
		}
	}
	if len(errorLog) > 0 {
		if err := json.Unmarshal(errorLog, &job.Errors); err != nil {
			return nil, fmt.Errorf("decode error log: %w", err)
		}
	}
	return &job, nil
}

func marshalNullable(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Typed nil pointers encode as the JSON null literal; store SQL NULL.
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func unmarshalNullable[T any](data []byte, target **T) error {
	if len(data) == 0 {
		return nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*target = &out
	return nil
}
