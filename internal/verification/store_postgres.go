package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/sentinel"
)

// PostgresStore persists challenges in the verification_challenges table.
// A partial unique index on (domain) WHERE status = 'pending' enforces the
// single-active-challenge invariant at the database, so concurrent issuers
// cannot both win.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a pending challenge. A pending row whose expiry has passed
// no longer protects anything but still occupies the partial index, so it is
// flipped to expired in the same transaction before the insert; only a truly
// live pending row surfaces as sentinel.ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, challenge *Challenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create challenge: %w", err)
	}
	defer tx.Rollback()

	expire := `
		UPDATE verification_challenges
		SET status = 'expired'
		WHERE domain = $1 AND status = 'pending' AND expires_at <= $2
	`
	if _, err := tx.ExecContext(ctx, expire, challenge.Domain, challenge.IssuedAt); err != nil {
		return fmt.Errorf("expire stale challenges: %w", err)
	}

	insert := `
		INSERT INTO verification_challenges (id, domain, token, status, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, insert,
		uuid.UUID(challenge.ID),
		challenge.Domain,
		challenge.Token,
		string(challenge.Status),
		challenge.IssuedAt,
		challenge.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert challenge: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetActive(ctx context.Context, domain string, now time.Time) (*Challenge, error) {
	query := `
		SELECT id, domain, token, status, issued_at, expires_at, verified_at
		FROM verification_challenges
		WHERE domain = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY issued_at DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, domain, now))
}

func (s *PostgresStore) GetLatest(ctx context.Context, domain string) (*Challenge, error) {
	query := `
		SELECT id, domain, token, status, issued_at, expires_at, verified_at
		FROM verification_challenges
		WHERE domain = $1
		ORDER BY issued_at DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, domain))
}

func (s *PostgresStore) MarkVerified(ctx context.Context, challengeID id.ChallengeID, at time.Time) error {
	query := `
		UPDATE verification_challenges
		SET status = 'verified', verified_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(challengeID), at)
	if err != nil {
		return fmt.Errorf("mark challenge verified: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkExpired(ctx context.Context, challengeID id.ChallengeID) error {
	query := `
		UPDATE verification_challenges
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending'
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(challengeID))
	if err != nil {
		return fmt.Errorf("mark challenge expired: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) scanOne(row *sql.Row) (*Challenge, error) {
	var (
		challenge  Challenge
		challengeU uuid.UUID
		status     string
		verifiedAt sql.NullTime
	)
	err := row.Scan(&challengeU, &challenge.Domain, &challenge.Token, &status,
		&challenge.IssuedAt, &challenge.ExpiresAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	challenge.ID = id.ChallengeID(challengeU)
	challenge.Status = Status(status)
	if verifiedAt.Valid {
		challenge.VerifiedAt = &verifiedAt.Time
	}
	return &challenge, nil
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

// isUniqueViolation matches the Postgres unique_violation error class.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
