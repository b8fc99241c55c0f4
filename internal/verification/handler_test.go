package verification

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"zonepilot/pkg/testutil"
)

func newTestRouter(t *testing.T, resolver *fakeResolver) (chi.Router, *Service) {
	t.Helper()
	svc, err := New(NewMemoryStore(), resolver, "_zonepilot-verify", 24*time.Hour)
	require.NoError(t, err)
	r := chi.NewRouter()
	NewHandler(svc).Routes(r)
	return r, svc
}

func TestIssueEndpoint(t *testing.T) {
	t.Run("issues challenge", func(t *testing.T) {
		router, _ := newTestRouter(t, &fakeResolver{})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/challenges",
			map[string]string{"domain": "Example.com"})
		rec := testutil.DoRequest(router, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
		}
		body := testutil.UnmarshalResponse[challengeResponse](t, rec)
		if body.TXTHost != "_zonepilot-verify.example.com" {
			t.Fatalf("txt_host = %q", body.TXTHost)
		}
		if body.TXTValue == "" || body.Status != StatusPending {
			t.Fatalf("unexpected body: %+v", body)
		}
	})

	t.Run("empty domain rejected", func(t *testing.T) {
		router, _ := newTestRouter(t, &fakeResolver{})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/challenges",
			map[string]string{"domain": ""})
		rec := testutil.DoRequest(router, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		router, _ := newTestRouter(t, &fakeResolver{})
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/verification/challenges", `{`)
		rec := testutil.DoRequest(router, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestCheckEndpoint(t *testing.T) {
	t.Run("verified after TXT published", func(t *testing.T) {
		resolver := &fakeResolver{records: map[string][]string{}}
		router, svc := newTestRouter(t, resolver)

		instr, err := svc.IssueChallenge(context.Background(), "example.com")
		require.NoError(t, err)
		resolver.records["_zonepilot-verify.example.com"] = []string{instr.TXTValue}

		req := testutil.NewJSONRequest(t, http.MethodGet, "/verification/challenges/example.com", nil)
		rec := testutil.DoRequest(router, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		body := testutil.UnmarshalResponse[challengeResponse](t, rec)
		if body.Status != StatusVerified {
			t.Fatalf("status = %q, want %q", body.Status, StatusVerified)
		}
	})

	t.Run("no challenge is 404", func(t *testing.T) {
		router, _ := newTestRouter(t, &fakeResolver{})
		req := testutil.NewJSONRequest(t, http.MethodGet, "/verification/challenges/example.com", nil)
		rec := testutil.DoRequest(router, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}
