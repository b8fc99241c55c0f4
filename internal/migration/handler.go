package migration

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "zonepilot/pkg/domain"
	dErrors "zonepilot/pkg/domainerrors"
	"zonepilot/pkg/platform/httputil"
)

// Handler exposes the migration pipeline over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the migration endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/migrations", h.create)
	r.Get("/migrations", h.list)
	r.Get("/migrations/{jobID}", h.get)
	r.Post("/migrations/{jobID}/advance", h.advance)
	r.Post("/migrations/{jobID}/pause", h.pause)
	r.Post("/migrations/{jobID}/resume", h.resume)
	r.Post("/migrations/{jobID}/rollback", h.rollback)
}

type createRequest struct {
	Domain string `json:"domain,omitempty"`
	// Domains fans out one independent job per entry, all sharing a batch ID.
	Domains []string `json:"domains,omitempty"`
	DryRun  bool     `json:"dry_run"`
	BatchID string   `json:"batch_id,omitempty"`
}

type batchFailure struct {
	Domain string `json:"domain"`
	Error  string `json:"error"`
}

type batchResponse struct {
	BatchID  id.BatchID     `json:"batch_id"`
	Jobs     []*Job         `json:"jobs"`
	Failures []batchFailure `json:"failures,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	var batchID *id.BatchID
	if req.BatchID != "" {
		parsed, err := id.ParseBatchID(req.BatchID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		batchID = &parsed
	}

	if len(req.Domains) > 0 {
		h.createBatch(w, r, req, batchID)
		return
	}

	job, err := h.svc.CreateJob(r.Context(), req.Domain, req.DryRun, batchID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, job)
}

// createBatch opens one job per domain. Jobs are independent; a domain that
// cannot start does not block the rest of the batch.
func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request, req createRequest, batchID *id.BatchID) {
	if batchID == nil {
		minted := id.NewBatchID()
		batchID = &minted
	}

	resp := batchResponse{BatchID: *batchID}
	for _, domain := range req.Domains {
		job, err := h.svc.CreateJob(r.Context(), domain, req.DryRun, batchID)
		if err != nil {
			resp.Failures = append(resp.Failures, batchFailure{Domain: domain, Error: err.Error()})
			continue
		}
		resp.Jobs = append(resp.Jobs, job)
	}

	if len(resp.Jobs) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "no jobs could be created for this batch"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	job, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Domain: r.URL.Query().Get("domain"),
		Status: JobStatus(r.URL.Query().Get("status")),
		Limit:  100,
	}
	if raw := r.URL.Query().Get("batch_id"); raw != "" {
		batchID, err := id.ParseBatchID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.BatchID = &batchID
	}

	jobs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Advance)
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Pause)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Resume)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req rollbackRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator requested"
	}

	job, err := h.svc.RollbackJob(r.Context(), jobID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, jobID id.JobID) (*Job, error)) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	job, err := op(r.Context(), jobID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}
