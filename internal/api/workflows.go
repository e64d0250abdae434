package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/n8n"
)

const (
	defaultExecutionLimit = 10
	maxExecutionLimit     = 250
)

type createWorkflowRequest struct {
	Name        string         `json:"name"`
	Nodes       []n8n.Node     `json:"nodes"`
	Connections map[string]any `json:"connections"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.directory.ListWorkflows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := decodeJSON(r, &req, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(w, "name is required")
		return
	}
	wf, err := s.directory.CreateWorkflow(r.Context(), req.Name, req.Nodes, req.Connections)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.directory.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var changes map[string]any
	if err := decodeJSON(r, &changes, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	id := r.PathValue("id")
	wf, err := s.reconciler.Update(r.Context(), id, changes)
	if err != nil && wf == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		// Written, but left inactive.
		s.log.Warn("workflow updated with warning", zap.String("workflow_id", id), zap.Error(err))
		w.Header().Set("X-Warning", err.Error())
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if err := decodeJSON(r, &input, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	ex, err := s.reconciler.Execute(r.Context(), r.PathValue("id"), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxExecutionLimit)
	}
	execs, err := s.directory.ListExecutions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}
