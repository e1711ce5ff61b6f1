// Package api exposes the mirror over REST.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ysksm/jiramirror/internal/apperr"
	"github.com/ysksm/jiramirror/internal/fields"
	"github.com/ysksm/jiramirror/internal/gateway"
	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/report"
	"github.com/ysksm/jiramirror/internal/snapshot"
	"github.com/ysksm/jiramirror/internal/store"
	"github.com/ysksm/jiramirror/internal/sync"
)

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	source  jira.Source
	syncer  *sync.Syncer
	evolver *fields.Evolver
	gateway *gateway.Gateway
	reports *report.Builder
	snaps   *snapshot.Generator
	logger  *slog.Logger
}

// NewServer creates a new API server. The source may be nil when no
// remote credentials are configured; routes that need it return 503.
func NewServer(s store.Store, source jira.Source, syncCfg sync.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:   s,
		source:  source,
		gateway: gateway.New(s),
		reports: report.NewBuilder(s),
		snaps:   snapshot.NewGenerator(s),
		logger:  logger,
	}
	if source != nil {
		srv.syncer = sync.New(source, s, logger, syncCfg)
		srv.evolver = fields.NewEvolver(source, s, logger)
	}
	return srv
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects/refresh", s.refreshProjects)
	mux.HandleFunc("GET /api/v1/projects/{key}", s.getProject)
	mux.HandleFunc("GET /api/v1/projects/{key}/issues", s.listProjectIssues)
	mux.HandleFunc("GET /api/v1/projects/{key}/report", s.projectReport)

	mux.HandleFunc("POST /api/v1/projects/{key}/sync", s.syncProject)
	mux.HandleFunc("GET /api/v1/projects/{key}/sync/latest", s.latestSync)
	mux.HandleFunc("GET /api/v1/projects/{key}/sync/history", s.syncHistory)
	mux.HandleFunc("POST /api/v1/projects/{key}/snapshots", s.generateSnapshots)

	mux.HandleFunc("POST /api/v1/issues", s.createIssue)
	mux.HandleFunc("GET /api/v1/issues/{key}", s.getIssue)
	mux.HandleFunc("GET /api/v1/issues/{key}/history", s.issueHistory)
	mux.HandleFunc("GET /api/v1/issues/{key}/snapshots", s.issueSnapshots)
	mux.HandleFunc("GET /api/v1/issues/{key}/snapshot", s.issueSnapshotAt)
	mux.HandleFunc("GET /api/v1/issues/{key}/transitions", s.listTransitions)
	mux.HandleFunc("POST /api/v1/issues/{key}/transitions", s.doTransition)

	mux.HandleFunc("GET /api/v1/fields", s.listFields)
	mux.HandleFunc("POST /api/v1/fields/sync", s.syncFields)

	mux.HandleFunc("POST /api/v1/query", s.query)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps error kinds onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.ExternalService:
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

// requireSource guards routes that talk to the remote tracker.
func (s *Server) requireSource(w http.ResponseWriter) bool {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "remote source not configured")
		return false
	}
	return true
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) refreshProjects(w http.ResponseWriter, r *http.Request) {
	if !s.requireSource(w) {
		return
	}
	projects, err := s.source.GetProjects(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, p := range projects {
		if err := s.store.UpsertProject(r.Context(), p); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"projects_refreshed": len(projects)})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProjectByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) listProjectIssues(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProjectByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}

	filter := store.IssueListFilter{
		ProjectID: project.ID,
		Status:    r.URL.Query().Get("status"),
		Priority:  r.URL.Query().Get("priority"),
		Assignee:  r.URL.Query().Get("assignee"),
		IssueType: r.URL.Query().Get("type"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) projectReport(w http.ResponseWriter, r *http.Request) {
	data, err := s.reports.BuildProject(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// --- Sync ---

func (s *Server) syncProject(w http.ResponseWriter, r *http.Request) {
	if !s.requireSource(w) {
		return
	}

	syncType := models.SyncTypeIncremental
	if r.URL.Query().Get("type") == "full" {
		syncType = models.SyncTypeFull
	}

	result, err := s.syncer.Run(r.Context(), r.PathValue("key"), syncType)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) latestSync(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProjectByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	latest, err := s.store.FindLatestSyncHistory(r.Context(), project.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) syncHistory(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProjectByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListSyncHistory(r.Context(), project.ID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) generateSnapshots(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProjectByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	versions, err := s.snaps.RegenerateProject(r.Context(), project.ID, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"versions_generated": versions})
}

// --- Issues ---

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.store.GetIssueByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) issueHistory(w http.ResponseWriter, r *http.Request) {
	issue, err := s.store.GetIssueByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	items, err := s.store.ListIssueHistory(r.Context(), issue.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) issueSnapshots(w http.ResponseWriter, r *http.Request) {
	issue, err := s.store.GetIssueByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	snaps, err := s.store.ListIssueSnapshots(r.Context(), issue.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) issueSnapshotAt(w http.ResponseWriter, r *http.Request) {
	atParam := r.URL.Query().Get("at")
	if atParam == "" {
		writeError(w, http.StatusBadRequest, "missing at parameter (RFC3339)")
		return
	}
	at, err := time.Parse(time.RFC3339, atParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at parameter: "+err.Error())
		return
	}

	snap, err := s.store.GetSnapshotAt(r.Context(), r.PathValue("key"), at)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type createIssueRequest struct {
	ProjectKey  string   `json:"project_key"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	IssueType   string   `json:"issue_type"`
	Priority    string   `json:"priority"`
	Assignee    string   `json:"assignee"`
	Labels      []string `json:"labels"`
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	if !s.requireSource(w) {
		return
	}
	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := s.source.CreateIssue(r.Context(), jira.IssueInput{
		ProjectKey:  req.ProjectKey,
		Summary:     req.Summary,
		Description: req.Description,
		IssueType:   req.IssueType,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		Labels:      req.Labels,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if !s.requireSource(w) {
		return
	}
	transitions, err := s.source.GetTransitions(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

func (s *Server) doTransition(w http.ResponseWriter, r *http.Request) {
	if !s.requireSource(w) {
		return
	}
	var req struct {
		TransitionID string `json:"transition_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransitionID == "" {
		writeError(w, http.StatusBadRequest, "transition_id is required")
		return
	}
	if err := s.source.DoTransition(r.Context(), r.PathValue("key"), req.TransitionID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Fields ---

func (s *Server) listFields(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListFields(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) syncFields(w http.ResponseWriter, r *http.Request) {
	if !s.requireSource(w) {
		return
	}
	projectID := ""
	if key := r.URL.Query().Get("project"); key != "" {
		project, err := s.store.GetProjectByKey(r.Context(), key)
		if err != nil {
			writeErr(w, err)
			return
		}
		projectID = project.ID
	}

	result, err := s.evolver.Execute(r.Context(), projectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- SQL gateway ---

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.gateway.Execute(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
