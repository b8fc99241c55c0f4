package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
	now   time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
	s.now = time.Now()
	s.store.now = func() time.Time { return s.now }
}

func (s *MemoryStoreSuite) TestAllowsUpToLimit() {
	for i := range 3 {
		result, err := s.store.Allow(s.ctx, "caller", 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed, "request %d", i)
		s.Equal(2-i, result.Remaining)
	}

	result, err := s.store.Allow(s.ctx, "caller", 3, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)
}

func (s *MemoryStoreSuite) TestWindowSlides() {
	for range 3 {
		_, err := s.store.Allow(s.ctx, "caller", 3, time.Minute)
		s.Require().NoError(err)
	}

	// Half a window later, still blocked.
	s.now = s.now.Add(30 * time.Second)
	result, err := s.store.Allow(s.ctx, "caller", 3, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)

	// Once the oldest entries age out the caller gets slots back.
	s.now = s.now.Add(31 * time.Second)
	result, err = s.store.Allow(s.ctx, "caller", 3, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *MemoryStoreSuite) TestKeysAreIndependent() {
	for range 3 {
		_, err := s.store.Allow(s.ctx, "alice", 3, time.Minute)
		s.Require().NoError(err)
	}
	result, err := s.store.Allow(s.ctx, "bob", 3, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *MemoryStoreSuite) TestReset() {
	for range 3 {
		_, err := s.store.Allow(s.ctx, "caller", 3, time.Minute)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "caller"))

	result, err := s.store.Allow(s.ctx, "caller", 3, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

// failingStore always errors, to exercise the fail-open path.
type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("store down")
}

func (failingStore) Reset(context.Context, string) error { return nil }

func TestServiceFailsOpen(t *testing.T) {
	svc, err := New(failingStore{}, 5, time.Minute)
	require.NoError(t, err)

	result, err := svc.Check(context.Background(), "caller")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMiddleware(t *testing.T) {
	newHandler := func(t *testing.T, limit int) http.Handler {
		t.Helper()
		svc, err := New(NewMemoryStore(), limit, time.Minute)
		require.NoError(t, err)
		return Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}

	t.Run("mutating requests throttled", func(t *testing.T) {
		handler := newHandler(t, 2)
		for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/migrations", nil)
			req.RemoteAddr = "198.51.100.1:4242"
			handler.ServeHTTP(rec, req)
			if rec.Code != want {
				t.Fatalf("request %d: status = %d, want %d", i, rec.Code, want)
			}
		}
	})

	t.Run("reads pass through", func(t *testing.T) {
		handler := newHandler(t, 1)
		for range 5 {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/migrations", nil)
			req.RemoteAddr = "198.51.100.1:4242"
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		}
	})

	t.Run("sets rate limit headers", func(t *testing.T) {
		handler := newHandler(t, 2)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/migrations", nil)
		req.RemoteAddr = "198.51.100.1:4242"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	})
}
