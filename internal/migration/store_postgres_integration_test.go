//go:build integration

package migration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/dns"
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
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "migration_jobs"))
}

func (s *PostgresStoreSuite) newJob(domain string) *Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Job{
		ID:        id.NewJobID(),
		Domain:    domain,
		Phase:     PhaseNone,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *PostgresStoreSuite) TestRoundTripFullJob() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	batchID := id.NewBatchID()

	job := s.newJob("example.com")
	job.BatchID = &batchID
	job.Phase = PhaseExecute
	job.Status = StatusRunning
	job.DiscoveryStartedAt = &now
	job.Snapshot = &dns.RecordSnapshot{
		Domain: "example.com",
		Records: []dns.Record{
			{Type: dns.TypeA, Name: "@", Value: "192.0.2.10", TTL: 300},
			{Type: dns.TypeMX, Name: "@", Value: "mail.example.com", TTL: 3600, Priority: 10},
		},
		Nameservers: []string{"dns1.registrar.example"},
		ExportedAt:  now,
	}
	job.EmailProfile = &dns.EmailServiceProfile{Provider: dns.EmailSelfHosted}
	job.ZoneID = "zone-abc"
	job.EdgeNameservers = []string{"ns1.edge.example", "ns2.edge.example"}
	job.Rollback = &RollbackState{
		PreviousNameservers: []string{"dns1.registrar.example"},
		ZoneID:              "zone-abc",
		TakenAt:             now,
		CutoverDone:         true,
	}
	job.Errors = []ErrorEntry{{Phase: PhaseExport, Message: "transient export failure", At: now}}

	s.Require().NoError(s.store.Create(ctx, job))

	got, err := s.store.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(job.Domain, got.Domain)
	s.Equal(PhaseExecute, got.Phase)
	s.Require().NotNil(got.BatchID)
	s.Equal(batchID, *got.BatchID)
	s.Require().NotNil(got.Snapshot)
	s.Equal(job.Snapshot.Records, got.Snapshot.Records)
	s.Require().NotNil(got.Rollback)
	s.True(got.Rollback.CutoverDone)
	s.Equal(job.EdgeNameservers, got.EdgeNameservers)
	s.Len(got.Errors, 1)
}

func (s *PostgresStoreSuite) TestOneActiveJobPerDomain() {
	ctx := context.Background()

	s.Require().NoError(s.store.Create(ctx, s.newJob("example.com")))

	err := s.store.Create(ctx, s.newJob("example.com"))
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	// A different domain is unaffected.
	s.Require().NoError(s.store.Create(ctx, s.newJob("other.example")))
}

func (s *PostgresStoreSuite) TestTerminalJobFreesTheDomain() {
	ctx := context.Background()

	first := s.newJob("example.com")
	s.Require().NoError(s.store.Create(ctx, first))

	first.Status = StatusRolledBack
	s.Require().NoError(s.store.Update(ctx, first))

	s.Require().NoError(s.store.Create(ctx, s.newJob("example.com")))

	active, err := s.store.GetActiveByDomain(ctx, "example.com")
	s.Require().NoError(err)
	s.NotEqual(first.ID, active.ID)
}

func (s *PostgresStoreSuite) TestListFilters() {
	ctx := context.Background()
	batchID := id.NewBatchID()

	a := s.newJob("a.example")
	a.BatchID = &batchID
	b := s.newJob("b.example")
	b.BatchID = &batchID
	b.Status = StatusFailed
	c := s.newJob("c.example")

	for _, job := range []*Job{a, b, c} {
		s.Require().NoError(s.store.Create(ctx, job))
	}

	byBatch, err := s.store.List(ctx, ListFilter{BatchID: &batchID})
	s.Require().NoError(err)
	s.Len(byBatch, 2)

	byStatus, err := s.store.List(ctx, ListFilter{Status: StatusFailed})
	s.Require().NoError(err)
	s.Require().Len(byStatus, 1)
	s.Equal(b.ID, byStatus[0].ID)

	byDomain, err := s.store.List(ctx, ListFilter{Domain: "c.example"})
	s.Require().NoError(err)
	s.Require().Len(byDomain, 1)
	s.Equal(c.ID, byDomain[0].ID)
}

func (s *PostgresStoreSuite) TestUpdateMissingJob() {
	err := s.store.Update(context.Background(), s.newJob("ghost.example"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
