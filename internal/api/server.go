// Package api serves the orchestrator's HTTP JSON routes.
package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/chat"
	"github.com/R0m1k3/n8ngest/internal/config"
	"github.com/R0m1k3/n8ngest/internal/llm"
	"github.com/R0m1k3/n8ngest/internal/logging"
	"github.com/R0m1k3/n8ngest/internal/n8n"
	"github.com/R0m1k3/n8ngest/internal/persona"
	"github.com/R0m1k3/n8ngest/internal/store"
)

type Directory interface {
	ListWorkflows(ctx context.Context) ([]n8n.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*n8n.Workflow, error)
	CreateWorkflow(ctx context.Context, name string, nodes []n8n.Node, connections map[string]any) (*n8n.Workflow, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]n8n.Execution, error)
}

type Reconciler interface {
	Update(ctx context.Context, id string, changes map[string]any) (*n8n.Workflow, error)
	Execute(ctx context.Context, id string, input map[string]any) (*n8n.Execution, error)
}

type Agents interface {
	List(ctx context.Context) ([]persona.Persona, error)
}

type Models interface {
	Models(ctx context.Context) ([]llm.Model, error)
	Invalidate()
}

type Settings interface {
	Describe(ctx context.Context) []config.Setting
}

type Options struct {
	Chat       *chat.Orchestrator
	Directory  Directory
	Reconciler Reconciler
	Agents     Agents
	Models     Models
	Settings   Settings
	Store      store.Store
	// MCP, when set, is mounted at /mcp.
	MCP    http.Handler
	Logger *zap.Logger
}

type Server struct {
	chat       *chat.Orchestrator
	directory  Directory
	reconciler Reconciler
	agents     Agents
	models     Models
	settings   Settings
	store      store.Store
	results    resultLog
	log        *zap.Logger
}

// NewServer returns the full handler including middleware.
func NewServer(opts Options) http.Handler {
	s := &Server{
		chat:       opts.Chat,
		directory:  opts.Directory,
		reconciler: opts.Reconciler,
		agents:     opts.Agents,
		models:     opts.Models,
		settings:   opts.Settings,
		store:      opts.Store,
		log:        logging.OrNop(opts.Logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/ai/models", s.handleModels)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSaveSettings)

	mux.HandleFunc("GET /api/chat/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/chat/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/chat/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/chat/sessions/{id}", s.handleRenameSession)
	mux.HandleFunc("DELETE /api/chat/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/chat/sessions/{id}/workflow-result", s.handleLastResult)

	mux.HandleFunc("GET /api/n8n/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/n8n/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/n8n/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PATCH /api/n8n/workflows/{id}", s.handleUpdateWorkflow)
	mux.HandleFunc("POST /api/n8n/workflows/{id}/execute", s.handleExecuteWorkflow)
	mux.HandleFunc("GET /api/n8n/workflows/{id}/executions", s.handleListExecutions)

	if opts.MCP != nil {
		mux.Handle("/mcp", opts.MCP)
	}

	return chainMiddlewares(mux,
		s.withRecover,
		s.withLogging,
		withCORS,
		withRequestID,
	)
}
