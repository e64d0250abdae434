// Package llm streams chat completions from the configured model provider.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R0m1k3/n8ngest/internal/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one generation: a system prompt plus the conversation so far.
type Request struct {
	System   string
	Messages []Message
}

// DeltaFunc receives each text fragment as it arrives. Returning an error
// aborts the stream with that error.
type DeltaFunc func(delta string) error

// Provider streams a completion.
type Provider interface {
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) error
}

// Factory builds a provider for the configuration in effect right now.
type Factory func(ctx context.Context) (Provider, error)

// NewFactory resolves provider settings on every call.
func NewFactory(resolver *config.Resolver, httpClient *http.Client) Factory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return func(ctx context.Context) (Provider, error) {
		cfg, err := resolver.LLM(ctx)
		if err != nil {
			return nil, err
		}
		return FromConfig(cfg, httpClient)
	}
}

// FromConfig picks the provider implementation for cfg.Provider.
func FromConfig(cfg config.LLM, httpClient *http.Client) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openrouter", "openai", "ollama":
		return &OpenAI{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			SiteURL:     cfg.AppURL,
			SiteName:    "n8n AI Orchestrator",
			HTTP:        httpClient,
		}, nil
	case "gemini":
		return &Gemini{APIKey: cfg.APIKey, Model: cfg.Model, Temperature: cfg.Temperature}, nil
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", cfg.Provider)
	}
}
