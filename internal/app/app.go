// Package app wires the orchestrator's components from a store DSN.
package app

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/api"
	"github.com/R0m1k3/n8ngest/internal/chat"
	"github.com/R0m1k3/n8ngest/internal/config"
	"github.com/R0m1k3/n8ngest/internal/llm"
	"github.com/R0m1k3/n8ngest/internal/logging"
	"github.com/R0m1k3/n8ngest/internal/mcp"
	"github.com/R0m1k3/n8ngest/internal/n8n"
	"github.com/R0m1k3/n8ngest/internal/persona"
	"github.com/R0m1k3/n8ngest/internal/store"
)

type Options struct {
	// DSN selects the store backend; empty means in-memory.
	DSN     string
	Getenv  func(string) string
	Version string
	Logger  *zap.Logger
}

type App struct {
	Store      store.Store
	Config     *config.Resolver
	N8N        *n8n.Client
	Reconciler *n8n.Reconciler
	Personas   *persona.Loader
	Models     *llm.Catalog
	Chat       *chat.Orchestrator
	MCP        *mcp.Server

	log *zap.Logger
}

func New(ctx context.Context, opts Options) (*App, error) {
	log := logging.OrNop(opts.Logger)

	st, err := store.Connect(ctx, opts.DSN)
	if err != nil {
		return nil, err
	}

	resolver := config.NewResolver(config.Options{Store: st, Getenv: opts.Getenv, Logger: log})
	client := n8n.NewClient(func(ctx context.Context) (n8n.Endpoint, error) {
		c, err := resolver.N8N(ctx)
		return n8n.Endpoint{BaseURL: c.BaseURL, APIKey: c.APIKey}, err
	}, log.Named("n8n"))
	reconciler := n8n.NewReconciler(client, log.Named("reconciler"))
	personas := persona.NewLoader(resolver.AgentsDir, log.Named("persona"))

	a := &App{
		Store:      st,
		Config:     resolver,
		N8N:        client,
		Reconciler: reconciler,
		Personas:   personas,
		Models:     llm.NewCatalog(resolver, nil, llm.DefaultCatalogTTL),
		log:        log,
	}
	a.Chat = chat.New(chat.Options{
		Directory: client,
		Workflows: reconciler,
		Personas:  personas,
		Providers: llm.NewFactory(resolver, nil),
		Sessions:  st,
		Logger:    log.Named("chat"),
	})
	a.MCP = mcp.NewServer(mcp.ServerOptions{
		Directory:  client,
		Reconciler: reconciler,
		Agents:     personas,
		Version:    opts.Version,
		Logger:     log.Named("mcp"),
	})
	return a, nil
}

// Handler is the complete HTTP surface: JSON API, /mcp and /healthz.
func (a *App) Handler() http.Handler {
	return api.NewServer(api.Options{
		Chat:       a.Chat,
		Directory:  a.N8N,
		Reconciler: a.Reconciler,
		Agents:     a.Personas,
		Models:     a.Models,
		Settings:   a.Config,
		Store:      a.Store,
		MCP:        a.MCP,
		Logger:     a.log.Named("http"),
	})
}

func (a *App) Close() { a.Store.Close() }
