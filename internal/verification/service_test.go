package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "zonepilot/pkg/domainerrors"
)

// fakeResolver serves TXT records from a map and can simulate failures.
type fakeResolver struct {
	records map[string][]string
	err     error
}

func (r *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	values, ok := r.records[name]
	if !ok {
		return nil, ErrNXDomain
	}
	return values, nil
}

func newTestService(t *testing.T, resolver *fakeResolver, now func() time.Time) *Service {
	t.Helper()
	svc, err := New(NewMemoryStore(), resolver, "_zonepilot-verify", 24*time.Hour, WithClock(now))
	require.NoError(t, err)
	return svc
}

func TestIssueChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("issues token with required entropy", func(t *testing.T) {
		svc := newTestService(t, &fakeResolver{}, time.Now)
		instr, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)
		assert.Len(t, instr.TXTValue, 26)
		assert.Equal(t, "_zonepilot-verify.example.com", instr.TXTHost)
		assert.Equal(t, StatusPending, instr.Challenge.Status)
	})

	t.Run("reuses pending challenge", func(t *testing.T) {
		svc := newTestService(t, &fakeResolver{}, time.Now)
		first, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)
		second, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, first.TXTValue, second.TXTValue)
		assert.Equal(t, first.Challenge.ID, second.Challenge.ID)
	})

	t.Run("expired challenge gets a fresh token", func(t *testing.T) {
		current := time.Now()
		svc := newTestService(t, &fakeResolver{}, func() time.Time { return current })

		first, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)

		current = current.Add(25 * time.Hour)
		second, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)
		assert.NotEqual(t, first.TXTValue, second.TXTValue)
	})
}

func TestCheckChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("pending until TXT published, verified after", func(t *testing.T) {
		resolver := &fakeResolver{records: map[string][]string{}}
		svc := newTestService(t, resolver, time.Now)

		instr, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)

		status, err := svc.CheckChallenge(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)

		resolver.records["_zonepilot-verify.example.com"] = []string{"unrelated", instr.TXTValue}
		status, err = svc.CheckChallenge(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, status)

		// Stays verified on subsequent polls even if the record disappears.
		delete(resolver.records, "_zonepilot-verify.example.com")
		status, err = svc.CheckChallenge(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, status)
	})

	t.Run("wrong token stays pending", func(t *testing.T) {
		resolver := &fakeResolver{records: map[string][]string{
			"_zonepilot-verify.example.com": {"not-the-token"},
		}}
		svc := newTestService(t, resolver, time.Now)
		_, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)

		status, err := svc.CheckChallenge(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)
	})

	t.Run("expired challenge never verifies", func(t *testing.T) {
		current := time.Now()
		resolver := &fakeResolver{records: map[string][]string{}}
		svc := newTestService(t, resolver, func() time.Time { return current })

		instr, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)

		// Token gets published, but only after expiry.
		current = current.Add(25 * time.Hour)
		resolver.records["_zonepilot-verify.example.com"] = []string{instr.TXTValue}

		status, err := svc.CheckChallenge(ctx, "example.com")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeVerificationExpired))
		assert.Equal(t, StatusExpired, status)
	})

	t.Run("resolver failure is a dns query error, not success", func(t *testing.T) {
		resolver := &fakeResolver{err: errors.New("i/o timeout")}
		svc := newTestService(t, resolver, time.Now)
		_, err := svc.IssueChallenge(ctx, "example.com")
		require.NoError(t, err)

		_, err = svc.CheckChallenge(ctx, "example.com")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDNSQuery))
	})

	t.Run("no challenge issued", func(t *testing.T) {
		svc := newTestService(t, &fakeResolver{}, time.Now)
		_, err := svc.CheckChallenge(ctx, "example.com")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestVerifiedWithin(t *testing.T) {
	ctx := context.Background()
	current := time.Now()
	resolver := &fakeResolver{records: map[string][]string{}}
	svc := newTestService(t, resolver, func() time.Time { return current })

	instr, err := svc.IssueChallenge(ctx, "example.com")
	require.NoError(t, err)
	resolver.records["_zonepilot-verify.example.com"] = []string{instr.TXTValue}

	_, err = svc.CheckChallenge(ctx, "example.com")
	require.NoError(t, err)

	ok, err := svc.VerifiedWithin(ctx, "example.com", current.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// A cutoff after the verification timestamp means the verification is
	// stale for that caller.
	ok, err = svc.VerifiedWithin(ctx, "example.com", current.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.VerifiedWithin(ctx, "unverified.com", current)
	require.NoError(t, err)
	assert.False(t, ok)
}
