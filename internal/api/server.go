// Package api exposes the engine over HTTP. Every memory endpoint is
// scope-qualified through required X-Scope-* headers; engine error kinds map
// onto HTTP status codes.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/recallgraph/recalld/internal/engine"
	"github.com/recallgraph/recalld/internal/models"
)

// Server is an HTTP API server that exposes memory operations.
type Server struct {
	engine    *engine.Engine
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(eng *engine.Engine, logger *slog.Logger, authToken string) *Server {
	return &Server{
		engine:    eng,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and capability checks, no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	mux.HandleFunc("POST /v1/memories", s.auth(s.handleSave))
	mux.HandleFunc("POST /v1/memories/verified", s.auth(s.handleSaveVerified))
	mux.HandleFunc("POST /v1/milestones", s.auth(s.handleSaveMilestone))
	mux.HandleFunc("GET /v1/memories", s.auth(s.handleGetAll))
	mux.HandleFunc("GET /v1/memories/{id}", s.auth(s.handleGet))
	mux.HandleFunc("POST /v1/search", s.auth(s.handleSearch))
	mux.HandleFunc("POST /v1/context", s.auth(s.handleContext))
	mux.HandleFunc("POST /v1/conflicts/resolve", s.auth(s.handleResolve))
	mux.HandleFunc("POST /v1/sweep", s.auth(s.handleSweep))
	mux.HandleFunc("GET /v1/quality/audit", s.auth(s.handleAudit))
	mux.HandleFunc("GET /v1/quality/audit/all", s.auth(s.handleAuditAll))
	mux.HandleFunc("GET /v1/projects/{project}/validate", s.auth(s.handleValidate))
	mux.HandleFunc("GET /v1/projects/{project}/state", s.auth(s.handleProjectState))
	mux.HandleFunc("GET /v1/projects/{project}/evolution", s.auth(s.handleEvolution))
	mux.HandleFunc("GET /v1/entities/{entity}", s.auth(s.handleEntity))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next(w, r)
	}
}

// scopeFrom builds the request scope from the X-Scope-* headers. Tenant and
// user are required; the engine validates the rest.
func scopeFrom(r *http.Request) models.Scope {
	return models.Scope{
		Tenant:  r.Header.Get("X-Scope-Tenant"),
		User:    r.Header.Get("X-Scope-User"),
		Agent:   r.Header.Get("X-Scope-Agent"),
		Session: r.Header.Get("X-Scope-Session"),
		Project: r.Header.Get("X-Scope-Project"),
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"capabilities":         s.engine.Capabilities(),
		"compensation_backlog": s.engine.CompensationBacklog(),
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.save(w, r, s.engine.Save)
}

func (s *Server) handleSaveVerified(w http.ResponseWriter, r *http.Request) {
	s.save(w, r, s.engine.SaveVerified)
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, op func(context.Context, models.Scope, engine.SaveRequest) (*models.SaveResult, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req engine.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	result, err := op(r.Context(), scopeFrom(r), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleSaveMilestone(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req engine.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	record, err := s.engine.SaveMilestone(r.Context(), scopeFrom(r), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.engine.Get(r.Context(), scopeFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// getAllResponse is returned by GET /v1/memories.
type getAllResponse struct {
	Records []models.MemoryRecord `json:"records"`
	Cursor  string                `json:"cursor,omitempty"`
}

func (s *Server) handleGetAll(w http.ResponseWriter, r *http.Request) {
	filters := &models.SearchFilters{
		IncludeDeprecated: r.URL.Query().Get("include_deprecated") == "true",
		IncludeExpired:    r.URL.Query().Get("include_expired") == "true",
		IncludeConflicted: r.URL.Query().Get("include_conflicted") == "true",
		Category:          models.Category(r.URL.Query().Get("category")),
		Tag:               r.URL.Query().Get("tag"),
	}
	records, cursor, err := s.engine.GetAll(r.Context(), scopeFrom(r), filters, intQuery(r, "limit", 100), r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, getAllResponse{Records: records, Cursor: cursor})
}

// searchRequest is the body accepted by POST /v1/search.
type searchRequest struct {
	Query   string                `json:"query"`
	K       int                   `json:"k"`
	Filters *models.SearchFilters `json:"filters,omitempty"`
}

// searchResponse is returned by POST /v1/search and /v1/context.
type searchResponse struct {
	Results  []models.ScoredMemory `json:"results"`
	Degraded bool                  `json:"degraded"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	res, err := s.engine.Search(r.Context(), scopeFrom(r), req.Query, req.K, req.Filters)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: res.Results, Degraded: res.Degraded})
}

// contextRequest is the body accepted by POST /v1/context.
type contextRequest struct {
	Query         string `json:"query"`
	MinConfidence int    `json:"min_confidence"`
	K             int    `json:"k"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	res, err := s.engine.GetContext(r.Context(), scopeFrom(r), req.Query, req.MinConfidence, req.K)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: res.Results, Degraded: res.Degraded})
}

// resolveRequest is the body accepted by POST /v1/conflicts/resolve.
type resolveRequest struct {
	IDs            []string `json:"ids"`
	CorrectContent string   `json:"correct_content"`
	Reason         string   `json:"reason"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	record, err := s.engine.ResolveConflict(r.Context(), scopeFrom(r), req.IDs, req.CorrectContent, req.Reason)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	expired, err := s.engine.Sweep(r.Context(), scopeFrom(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.AuditQuality(r.Context(), scopeFrom(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleAuditAll serves the cross-scope audit. The caller identifies as an
// operator through the X-Operator header; without it the request is refused.
func (s *Server) handleAuditAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.AuditAllScopes(r.Context(), r.Header.Get("X-Operator"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ValidateProject(r.Context(), scopeFrom(r), r.PathValue("project"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleProjectState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.GetProjectState(r.Context(), scopeFrom(r), r.PathValue("project"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEvolution(w http.ResponseWriter, r *http.Request) {
	timeline, err := s.engine.TrackEvolution(r.Context(), scopeFrom(r), r.PathValue("project"), intQuery(r, "limit", 0))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.GetEntityRelationships(r.Context(), scopeFrom(r), r.PathValue("entity"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

// writeEngineError maps an engine error kind to an HTTP status.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var e *engine.Error
	if !errors.As(err, &e) {
		s.logger.Error("unclassified error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case engine.KindInvalidInput:
		status = http.StatusBadRequest
	case engine.KindNotFound:
		status = http.StatusNotFound
	case engine.KindContended:
		status = http.StatusConflict
	case engine.KindConflictUnresolved:
		status = http.StatusConflict
	case engine.KindTimeout:
		status = http.StatusGatewayTimeout
	case engine.KindEmbedderUnavailable, engine.KindExtractorUnavailable,
		engine.KindVectorStoreUnavailable, engine.KindGraphStoreUnavailable,
		engine.KindLockManagerUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "kind", string(e.Kind), "error", err)
	}
	s.writeError(w, status, e.Message, string(e.Kind))
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response with an optional stable kind.
func (s *Server) writeError(w http.ResponseWriter, status int, msg, kind string) {
	body := map[string]string{"error": msg}
	if kind != "" {
		body["kind"] = kind
	}
	s.writeJSON(w, status, body)
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
