package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/R0m1k3/n8ngest/internal/apperr"
	"github.com/R0m1k3/n8ngest/internal/config"
)

// DefaultCatalogTTL is how long a fetched model list is served before refetching.
const DefaultCatalogTTL = time.Hour

type Pricing struct {
	Prompt     string `json:"prompt,omitempty"`
	Completion string `json:"completion,omitempty"`
}

type Model struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	ContextLength int      `json:"context_length,omitempty"`
	Pricing       *Pricing `json:"pricing,omitempty"`
}

type catalogSnapshot struct {
	models  []Model
	fetched time.Time
}

// Catalog caches the provider's model list. Concurrent refreshes may both
// fetch; the last one to finish wins.
type Catalog struct {
	resolver *config.Resolver
	http     *http.Client
	ttl      time.Duration
	now      func() time.Time
	cached   atomic.Pointer[catalogSnapshot]
}

func NewCatalog(resolver *config.Resolver, httpClient *http.Client, ttl time.Duration) *Catalog {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{resolver: resolver, http: httpClient, ttl: ttl, now: time.Now}
}

// Models returns the cached list if it is fresh, otherwise refetches.
// Fetch errors are returned and leave any previous snapshot untouched.
func (c *Catalog) Models(ctx context.Context) ([]Model, error) {
	if snap := c.cached.Load(); snap != nil && c.now().Sub(snap.fetched) < c.ttl {
		return snap.models, nil
	}
	models, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.cached.Store(&catalogSnapshot{models: models, fetched: c.now()})
	return models, nil
}

// Invalidate drops the cached list.
func (c *Catalog) Invalidate() { c.cached.Store(nil) }

func (c *Catalog) fetch(ctx context.Context) ([]Model, error) {
	cfg, err := c.resolver.LLM(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(cfg.BaseURL, "/")+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, 20<<20))
	if err != nil {
		return nil, fmt.Errorf("read models: %w", err)
	}
	if res.StatusCode/100 != 2 {
		return nil, &apperr.UpstreamError{Service: service, StatusCode: res.StatusCode, Message: upstreamMessage(b, res.Status)}
	}

	var body struct {
		Data []Model `json:"data"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return nil, &apperr.UpstreamError{Service: service, StatusCode: res.StatusCode, Message: "malformed models response: " + err.Error()}
	}
	models := body.Data
	if models == nil {
		models = []Model{}
	}
	for i := range models {
		if models[i].Name == "" {
			models[i].Name = models[i].ID
		}
	}
	sort.SliceStable(models, func(i, j int) bool {
		return strings.ToLower(models[i].Name) < strings.ToLower(models[j].Name)
	})
	return models, nil
}
