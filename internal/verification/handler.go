package verification

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "zonepilot/pkg/domainerrors"
	"zonepilot/pkg/dns"
	"zonepilot/pkg/platform/httputil"
)

// Handler exposes ownership challenges over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the verification endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/verification/challenges", h.issue)
	r.Get("/verification/challenges/{domain}", h.check)
}

type issueRequest struct {
	Domain string `json:"domain"`
}

type challengeResponse struct {
	Domain    string    `json:"domain"`
	Status    Status    `json:"status"`
	TXTHost   string    `json:"txt_host,omitempty"`
	TXTValue  string    `json:"txt_value,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	domain := dns.NormalizeHost(req.Domain)
	if domain == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "domain is required"))
		return
	}

	instr, err := h.svc.IssueChallenge(r.Context(), domain)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, challengeResponse{
		Domain:    domain,
		Status:    instr.Challenge.Status,
		TXTHost:   instr.TXTHost,
		TXTValue:  instr.TXTValue,
		ExpiresAt: instr.Challenge.ExpiresAt,
	})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	domain := dns.NormalizeHost(chi.URLParam(r, "domain"))
	status, err := h.svc.CheckChallenge(r.Context(), domain)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, challengeResponse{Domain: domain, Status: status})
}
