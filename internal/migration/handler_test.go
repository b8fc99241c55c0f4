package migration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, f *fixture) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(f.svc).Routes(r)
	return r
}

func TestCreateEndpoint(t *testing.T) {
	t.Run("creates job", func(t *testing.T) {
		f := newFixture(t)
		router := newTestRouter(t, f)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/migrations",
			strings.NewReader(`{"domain":"example.com","dry_run":true}`))
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
		}
		var job Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		if job.Domain != "example.com" || !job.DryRun {
			t.Fatalf("unexpected job: %+v", job)
		}
	})

	t.Run("duplicate domain is 409", func(t *testing.T) {
		f := newFixture(t)
		router := newTestRouter(t, f)

		for i, want := range []int{http.StatusCreated, http.StatusConflict} {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/migrations",
				strings.NewReader(`{"domain":"example.com"}`))
			router.ServeHTTP(rec, req)
			if rec.Code != want {
				t.Fatalf("request %d: status = %d, want %d", i, rec.Code, want)
			}
		}
	})

	t.Run("batch fans out one job per domain", func(t *testing.T) {
		f := newFixture(t)
		router := newTestRouter(t, f)

		// Occupy one domain so the batch reports a per-domain failure.
		_, err := f.svc.CreateJob(context.Background(), "taken.example", false, nil)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/migrations",
			strings.NewReader(`{"domains":["a.example","b.example","taken.example"]}`))
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
		}
		var body batchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		if len(body.Jobs) != 2 || len(body.Failures) != 1 {
			t.Fatalf("jobs = %d failures = %d: %s", len(body.Jobs), len(body.Failures), rec.Body)
		}
		if body.Failures[0].Domain != "taken.example" {
			t.Fatalf("failed domain = %q", body.Failures[0].Domain)
		}
		for _, job := range body.Jobs {
			require.NotNil(t, job.BatchID)
			require.Equal(t, body.BatchID, *job.BatchID)
		}
	})

	t.Run("batch with no viable domain is 400", func(t *testing.T) {
		f := newFixture(t)
		router := newTestRouter(t, f)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/migrations",
			strings.NewReader(`{"domains":["not-a-domain"]}`))
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body)
		}
	})

	t.Run("bad batch id is 400", func(t *testing.T) {
		f := newFixture(t)
		router := newTestRouter(t, f)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/migrations",
			strings.NewReader(`{"domain":"example.com","batch_id":"nope"}`))
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestTransitionEndpoints(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	job, err := f.svc.CreateJob(context.Background(), "example.com", false, nil)
	require.NoError(t, err)

	post := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post("/migrations/" + job.ID.String() + "/advance")
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: status = %d: %s", rec.Code, rec.Body)
	}
	var advanced Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &advanced))
	if advanced.Phase != PhaseDiscovery {
		t.Fatalf("phase = %q, want %q", advanced.Phase, PhaseDiscovery)
	}

	if rec := post("/migrations/" + job.ID.String() + "/pause"); rec.Code != http.StatusOK {
		t.Fatalf("pause: status = %d: %s", rec.Code, rec.Body)
	}

	// Advancing a paused job conflicts.
	if rec := post("/migrations/" + job.ID.String() + "/advance"); rec.Code != http.StatusConflict {
		t.Fatalf("advance paused: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	if rec := post("/migrations/" + job.ID.String() + "/resume"); rec.Code != http.StatusOK {
		t.Fatalf("resume: status = %d: %s", rec.Code, rec.Body)
	}

	rec = post("/migrations/" + job.ID.String() + "/rollback")
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback: status = %d: %s", rec.Code, rec.Body)
	}
	var rolled Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rolled))
	if rolled.Status != StatusRolledBack {
		t.Fatalf("status = %q, want %q", rolled.Status, StatusRolledBack)
	}
}

func TestGetAndListEndpoints(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	job, err := f.svc.CreateJob(context.Background(), "example.com", false, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migrations/"+job.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migrations?domain=example.com", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var body struct {
		Jobs []Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	if len(body.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(body.Jobs))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migrations/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
