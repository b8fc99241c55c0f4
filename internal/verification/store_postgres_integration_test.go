//go:build integration

package verification

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/sentinel"
	"zonepilot/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "verification_challenges"))
}

func (s *PostgresStoreSuite) newChallenge(domain string, now time.Time) *Challenge {
	return &Challenge{
		ID:        id.NewChallengeID(),
		Domain:    domain,
		Token:     "zonepilot-verify-token",
		Status:    StatusPending,
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func (s *PostgresStoreSuite) TestCreateAndGetActive() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	challenge := s.newChallenge("example.com", now)
	s.Require().NoError(s.store.Create(ctx, challenge))

	got, err := s.store.GetActive(ctx, "example.com", now)
	s.Require().NoError(err)
	s.Equal(challenge.ID, got.ID)
	s.Equal(challenge.Token, got.Token)
	s.Equal(StatusPending, got.Status)
}

func (s *PostgresStoreSuite) TestSecondPendingChallengeConflicts() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.Require().NoError(s.store.Create(ctx, s.newChallenge("example.com", now)))

	err := s.store.Create(ctx, s.newChallenge("example.com", now))
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

// The partial unique index must hold under concurrency, not just in sequence.
func (s *PostgresStoreSuite) TestConcurrentIssueOneWinner() {
	ctx := context.Background()
	now := time.Now().UTC()
	const issuers = 20

	var wg sync.WaitGroup
	var created atomic.Int32
	for range issuers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Create(ctx, s.newChallenge("race.example", now)); err == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
}

func (s *PostgresStoreSuite) TestVerifiedChallengeFreesTheSlot() {
	ctx := context.Background()
	now := time.Now().UTC()

	first := s.newChallenge("example.com", now)
	s.Require().NoError(s.store.Create(ctx, first))
	s.Require().NoError(s.store.MarkVerified(ctx, first.ID, now))

	// A verified challenge no longer blocks a fresh one.
	s.Require().NoError(s.store.Create(ctx, s.newChallenge("example.com", now.Add(time.Second))))

	latest, err := s.store.GetLatest(ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(StatusPending, latest.Status)
}

func (s *PostgresStoreSuite) TestMarkVerifiedRequiresPending() {
	ctx := context.Background()
	now := time.Now().UTC()

	challenge := s.newChallenge("example.com", now)
	s.Require().NoError(s.store.Create(ctx, challenge))
	s.Require().NoError(s.store.MarkExpired(ctx, challenge.ID))

	err := s.store.MarkVerified(ctx, challenge.ID, now)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// A pending row past its expiry must not hold the slot: reissuing expires it
// in place and the fresh challenge wins.
func (s *PostgresStoreSuite) TestExpiredPendingChallengeDoesNotBlockReissue() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	stale := s.newChallenge("example.com", now.Add(-48*time.Hour))
	s.Require().NoError(s.store.Create(ctx, stale))

	fresh := s.newChallenge("example.com", now)
	s.Require().NoError(s.store.Create(ctx, fresh))

	latest, err := s.store.GetLatest(ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(fresh.ID, latest.ID)
	s.Equal(StatusPending, latest.Status)

	active, err := s.store.GetActive(ctx, "example.com", now)
	s.Require().NoError(err)
	s.Equal(fresh.ID, active.ID)
}

func (s *PostgresStoreSuite) TestGetActiveIgnoresExpired() {
	ctx := context.Background()
	now := time.Now().UTC()

	challenge := s.newChallenge("example.com", now)
	challenge.ExpiresAt = now.Add(-time.Minute)
	s.Require().NoError(s.store.Create(ctx, challenge))

	_, err := s.store.GetActive(ctx, "example.com", now)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
