// Package config resolves runtime settings. Every lookup goes stored value →
// environment variable → built-in default, so settings saved through the API
// take effect without a restart.
package config

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/apperr"
	"github.com/R0m1k3/n8ngest/internal/logging"
)

const (
	KeyN8NURL        = "N8N_API_URL"
	KeyN8NAPIKey     = "N8N_API_KEY"
	KeyAIProvider    = "AI_PROVIDER"
	KeyAIBaseURL     = "AI_BASE_URL"
	KeyAIAPIKey      = "AI_API_KEY"
	KeyAIModel       = "AI_MODEL"
	KeyAITemperature = "AI_TEMPERATURE"
	KeyBMADRoot      = "BMAD_ROOT"
	KeyAppURL        = "APP_URL"
)

var defaults = map[string]string{
	KeyN8NURL:        "http://localhost:5678",
	KeyAIProvider:    "openrouter",
	KeyAIBaseURL:     "https://openrouter.ai/api/v1",
	KeyAIModel:       "anthropic/claude-3-sonnet",
	KeyAITemperature: "0.7",
	KeyBMADRoot:      "_bmad",
	KeyAppURL:        "http://localhost:3000",
}

// Keys lists the settings exposed to the settings page, in display order.
var Keys = []string{
	KeyN8NURL, KeyN8NAPIKey,
	KeyAIProvider, KeyAIBaseURL, KeyAIAPIKey, KeyAIModel, KeyAITemperature,
	KeyBMADRoot, KeyAppURL,
}

var secretPattern = regexp.MustCompile(`(?i)KEY|SECRET|PASS|TOKEN`)

// IsSecret reports whether values stored under key should be treated as secrets.
func IsSecret(key string) bool { return secretPattern.MatchString(key) }

// Redact masks a secret value, keeping the last four characters.
func Redact(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// Lookup is the stored-configuration source.
type Lookup interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
}

type Resolver struct {
	store  Lookup
	getenv func(string) string
	log    *zap.Logger
}

type Options struct {
	Store  Lookup
	Getenv func(string) string
	Logger *zap.Logger
}

func NewResolver(opts Options) *Resolver {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Resolver{store: opts.Store, getenv: getenv, log: logging.OrNop(opts.Logger)}
}

// Get resolves key; the empty string means unset everywhere.
func (r *Resolver) Get(ctx context.Context, key string) string {
	v, _ := r.resolve(ctx, key)
	return v
}

func (r *Resolver) resolve(ctx context.Context, key string) (string, string) {
	if r.store != nil {
		v, ok, err := r.store.GetConfig(ctx, key)
		if err != nil {
			r.log.Warn("stored config lookup failed", zap.String("key", key), zap.Error(err))
		} else if ok && strings.TrimSpace(v) != "" {
			return v, SourceStored
		}
	}
	if v := r.getenv(key); v != "" {
		return v, SourceEnv
	}
	if v, ok := defaults[key]; ok {
		return v, SourceDefault
	}
	return "", SourceUnset
}

// N8N is the resolved workflow-server endpoint.
type N8N struct {
	BaseURL string
	APIKey  string
}

func (r *Resolver) N8N(ctx context.Context) (N8N, error) {
	c := N8N{
		BaseURL: strings.TrimRight(r.Get(ctx, KeyN8NURL), "/"),
		APIKey:  r.Get(ctx, KeyN8NAPIKey),
	}
	if c.APIKey == "" {
		return c, &apperr.ConfigurationError{Key: KeyN8NAPIKey}
	}
	return c, nil
}

// LLM is the resolved model-provider configuration.
type LLM struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	AppURL      string
}

func (r *Resolver) LLM(ctx context.Context) (LLM, error) {
	c := LLM{
		Provider: strings.ToLower(r.Get(ctx, KeyAIProvider)),
		BaseURL:  strings.TrimRight(r.Get(ctx, KeyAIBaseURL), "/"),
		APIKey:   r.Get(ctx, KeyAIAPIKey),
		Model:    r.Get(ctx, KeyAIModel),
		AppURL:   r.Get(ctx, KeyAppURL),
	}
	t, err := strconv.ParseFloat(r.Get(ctx, KeyAITemperature), 64)
	if err != nil {
		t, _ = strconv.ParseFloat(defaults[KeyAITemperature], 64)
	}
	c.Temperature = t
	if c.APIKey == "" && c.Provider != "ollama" {
		return c, &apperr.ConfigurationError{Key: KeyAIAPIKey}
	}
	return c, nil
}

// AgentsDir is where persona definitions are read from.
func (r *Resolver) AgentsDir(ctx context.Context) string {
	return filepath.Join(r.Get(ctx, KeyBMADRoot), "core", "agents")
}

// Setting is one resolved key as shown to operators.
type Setting struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret"`
	Source   string `json:"source"`
}

const (
	SourceStored  = "stored"
	SourceEnv     = "env"
	SourceDefault = "default"
	SourceUnset   = "unset"
)

// Describe resolves every key in Keys, redacting secret values.
func (r *Resolver) Describe(ctx context.Context) []Setting {
	out := make([]Setting, 0, len(Keys))
	for _, key := range Keys {
		v, src := r.resolve(ctx, key)
		s := Setting{Key: key, Value: v, IsSecret: IsSecret(key), Source: src}
		if s.IsSecret {
			s.Value = Redact(v)
		}
		out = append(out, s)
	}
	return out
}
