package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R0m1k3/n8ngest/internal/apperr"
)

type mapLookup struct {
	values map[string]string
	err    error
}

func (m mapLookup) GetConfig(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func envOf(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestResolverPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("stored value wins over env", func(t *testing.T) {
		r := NewResolver(Options{
			Store:  mapLookup{values: map[string]string{KeyN8NURL: "http://stored:5678"}},
			Getenv: envOf(map[string]string{KeyN8NURL: "http://env:5678"}),
		})
		assert.Equal(t, "http://stored:5678", r.Get(ctx, KeyN8NURL))
	})

	t.Run("env wins over default", func(t *testing.T) {
		r := NewResolver(Options{
			Store:  mapLookup{values: map[string]string{}},
			Getenv: envOf(map[string]string{KeyAIModel: "openai/gpt-4o"}),
		})
		assert.Equal(t, "openai/gpt-4o", r.Get(ctx, KeyAIModel))
	})

	t.Run("default when unset", func(t *testing.T) {
		r := NewResolver(Options{Getenv: envOf(nil)})
		assert.Equal(t, "anthropic/claude-3-sonnet", r.Get(ctx, KeyAIModel))
		assert.Equal(t, "", r.Get(ctx, KeyAIAPIKey))
	})

	t.Run("blank stored value falls through", func(t *testing.T) {
		r := NewResolver(Options{
			Store:  mapLookup{values: map[string]string{KeyAIModel: "  "}},
			Getenv: envOf(map[string]string{KeyAIModel: "env-model"}),
		})
		assert.Equal(t, "env-model", r.Get(ctx, KeyAIModel))
	})

	t.Run("store failure falls through to env", func(t *testing.T) {
		r := NewResolver(Options{
			Store:  mapLookup{err: errors.New("db down")},
			Getenv: envOf(map[string]string{KeyN8NAPIKey: "env-key"}),
		})
		assert.Equal(t, "env-key", r.Get(ctx, KeyN8NAPIKey))
	})
}

func TestResolverN8N(t *testing.T) {
	ctx := context.Background()

	r := NewResolver(Options{Getenv: envOf(map[string]string{
		KeyN8NURL:    "http://n8n.local:5678///",
		KeyN8NAPIKey: "k",
	})})
	c, err := r.N8N(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://n8n.local:5678", c.BaseURL)
	assert.Equal(t, "k", c.APIKey)

	r = NewResolver(Options{Getenv: envOf(nil)})
	_, err = r.N8N(ctx)
	ce, ok := apperr.IsConfiguration(err)
	require.True(t, ok)
	assert.Equal(t, KeyN8NAPIKey, ce.Key)
}

func TestResolverLLM(t *testing.T) {
	ctx := context.Background()

	r := NewResolver(Options{Getenv: envOf(nil)})
	_, err := r.LLM(ctx)
	_, ok := apperr.IsConfiguration(err)
	assert.True(t, ok, "missing AI_API_KEY must be a configuration error")

	r = NewResolver(Options{Getenv: envOf(map[string]string{
		KeyAIProvider:    "Ollama",
		KeyAIBaseURL:     "http://localhost:11434/v1/",
		KeyAITemperature: "not-a-number",
	})})
	c, err := r.LLM(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Provider)
	assert.Equal(t, "http://localhost:11434/v1", c.BaseURL)
	assert.InDelta(t, 0.7, c.Temperature, 1e-9)
}

func TestAgentsDir(t *testing.T) {
	r := NewResolver(Options{Getenv: envOf(map[string]string{KeyBMADRoot: "/app/_bmad"})})
	assert.Equal(t, filepath.Join("/app/_bmad", "core", "agents"), r.AgentsDir(context.Background()))
}

func TestSecretsAndRedaction(t *testing.T) {
	assert.True(t, IsSecret("N8N_API_KEY"))
	assert.True(t, IsSecret("db_password"))
	assert.True(t, IsSecret("GITHUB_TOKEN"))
	assert.False(t, IsSecret("AI_MODEL"))

	assert.Equal(t, "****cdef", Redact("sk-or-abcdef"))
	assert.Equal(t, "****", Redact("abc"))
	assert.Equal(t, "", Redact(""))
}

func TestDescribe(t *testing.T) {
	r := NewResolver(Options{
		Store:  mapLookup{values: map[string]string{KeyN8NAPIKey: "n8n_api_abcdef123456"}},
		Getenv: envOf(map[string]string{KeyAIModel: "openai/gpt-4o"}),
	})

	byKey := map[string]Setting{}
	for _, s := range r.Describe(context.Background()) {
		byKey[s.Key] = s
	}
	require.Len(t, byKey, len(Keys))

	assert.Equal(t, Setting{Key: KeyN8NAPIKey, Value: "****3456", IsSecret: true, Source: SourceStored}, byKey[KeyN8NAPIKey])
	assert.Equal(t, Setting{Key: KeyAIModel, Value: "openai/gpt-4o", Source: SourceEnv}, byKey[KeyAIModel])
	assert.Equal(t, SourceDefault, byKey[KeyN8NURL].Source)
	assert.Equal(t, Setting{Key: KeyAIAPIKey, IsSecret: true, Source: SourceUnset}, byKey[KeyAIAPIKey])
}
