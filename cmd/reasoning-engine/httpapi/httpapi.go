// Package httpapi implements the ambient REST surface of SPEC_FULL.md §6.2:
// POST /v1/analysis (input analysis, a thin wrapper over the same
// query-preprocessing strategy the Orchestrator runs inline) and GET
// /healthz (liveness). Routing uses github.com/go-chi/chi/v5, grounded on
// kadirpekel-hector's chi-based HTTP transport.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/preprocess"
	"github.com/saketkr/reasoning-engine/internal/store"
	"github.com/saketkr/reasoning-engine/internal/telemetry"
)

// Deps wires the collaborators the REST surface needs. It is deliberately
// narrower than orchestrator.Options — these endpoints never touch the
// conversation lifecycle state machine.
type Deps struct {
	Store        store.Store
	Gateway      llm.Gateway
	Preprocessor preprocess.Preprocessor
	Logger       telemetry.Logger
}

// NewRouter builds the chi router exposing the ambient REST endpoints.
func NewRouter(deps Deps) http.Handler {
	if deps.Preprocessor == nil {
		deps.Preprocessor = preprocess.Passthrough{}
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NoopLogger{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handler{deps: deps}
	r.Get("/healthz", h.healthz)
	r.Post("/v1/analysis", h.analysis)
	return r
}

type handler struct {
	deps Deps
}

type analysisRequest struct {
	Message string          `json:"message"`
	History []convo.Message `json:"history,omitempty"`
	User    *convo.UserInfo `json:"user,omitempty"`
}

type analysisResponse struct {
	RefinedMessage string `json:"refined_message"`
}

func (h *handler) analysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", `missing required field "message"`)
		return
	}

	refined, err := h.deps.Preprocessor.Preprocess(r.Context(), req.Message, req.History, req.User)
	if err != nil {
		h.deps.Logger.Warn(r.Context(), "httpapi: analysis preprocess failed", "error", err)
		refined = req.Message
	}

	writeJSON(w, http.StatusOK, analysisResponse{RefinedMessage: refined})
}

type healthResponse struct {
	Status  string `json:"status"`
	Store   bool   `json:"store_reachable"`
	Gateway bool   `json:"gateway_configured"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Gateway: h.deps.Gateway != nil}

	if h.deps.Store != nil {
		if _, err := h.deps.Store.Exists(r.Context(), "healthz-probe"); err == nil {
			resp.Store = true
		}
	}

	status := http.StatusOK
	if !resp.Store || !resp.Gateway {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
