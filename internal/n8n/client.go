// Package n8n talks to the workflow server's public REST API and reconciles
// partial workflow edits against its replace-only write endpoint.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/apperr"
	"github.com/R0m1k3/n8ngest/internal/logging"
)

const (
	service        = "n8n"
	apiPrefix      = "/api/v1"
	maxBodyBytes   = 10 << 20
	maxListPages   = 50
	htmlConfigHint = "server returned HTML instead of JSON; check N8N_API_URL points at the n8n instance and N8N_API_KEY is valid"
)

// Endpoint is the resolved server location and credential.
type Endpoint struct {
	BaseURL string
	APIKey  string
}

// EndpointFunc is called before every request so that reconfiguration takes
// effect without a restart.
type EndpointFunc func(ctx context.Context) (Endpoint, error)

// Fixed returns an EndpointFunc that always yields the same endpoint.
func Fixed(baseURL, apiKey string) EndpointFunc {
	return func(context.Context) (Endpoint, error) {
		return Endpoint{BaseURL: baseURL, APIKey: apiKey}, nil
	}
}

type Client struct {
	endpoint EndpointFunc
	HTTP     *http.Client
	log      *zap.Logger
}

func NewClient(endpoint EndpointFunc, log *zap.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		log:      logging.OrNop(log),
	}
}

func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var out []Workflow
	cursor := ""
	for page := 0; page < maxListPages; page++ {
		path := "/workflows"
		if cursor != "" {
			path += "?cursor=" + url.QueryEscape(cursor)
		}
		var resp listResponse[Workflow]
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return out, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	if err := c.do(ctx, http.MethodGet, workflowPath(id), nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// document fetches the raw workflow so no server field is lost before merge.
func (c *Client) document(ctx context.Context, id string) (map[string]any, error) {
	var doc map[string]any
	if err := c.do(ctx, http.MethodGet, workflowPath(id), nil, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &apperr.UpstreamError{Service: service, Message: "empty workflow document for " + id}
	}
	return doc, nil
}

func (c *Client) SetActive(ctx context.Context, id string, active bool) (*Workflow, error) {
	var wf Workflow
	body := map[string]any{"active": active}
	if err := c.do(ctx, http.MethodPost, workflowPath(id)+"/activate", body, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (c *Client) CreateWorkflow(ctx context.Context, name string, nodes []Node, connections map[string]any) (*Workflow, error) {
	if nodes == nil {
		nodes = []Node{}
	}
	if connections == nil {
		connections = map[string]any{}
	}
	body := map[string]any{
		"name":        name,
		"nodes":       nodes,
		"connections": connections,
		"settings":    map[string]any{},
	}
	var wf Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows", body, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// replace performs the whole-document PUT.
func (c *Client) replace(ctx context.Context, id string, payload map[string]any) (*Workflow, error) {
	var wf Workflow
	if err := c.do(ctx, http.MethodPut, workflowPath(id), payload, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Execute triggers a manual run. input may be nil.
func (c *Client) Execute(ctx context.Context, id string, input map[string]any) (*Execution, error) {
	if input == nil {
		input = map[string]any{}
	}
	var ex Execution
	if err := c.do(ctx, http.MethodPost, workflowPath(id)+"/run", input, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

// ListExecutions returns runs newest first, as ordered by the server.
func (c *Client) ListExecutions(ctx context.Context, workflowID string, limit int) ([]Execution, error) {
	q := url.Values{}
	if workflowID != "" {
		q.Set("workflowId", workflowID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp listResponse[Execution]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FindWorkflowByName returns the first workflow, in listing order, whose name
// contains fragment case-insensitively. Absence is (nil, nil).
func (c *Client) FindWorkflowByName(ctx context.Context, fragment string) (*Workflow, error) {
	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return nil, nil
	}
	all, err := c.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	return MatchName(all, needle), nil
}

// MatchName applies the FindWorkflowByName rule to an already fetched listing.
func MatchName(wfs []Workflow, fragment string) *Workflow {
	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return nil
	}
	for i := range wfs {
		if strings.Contains(strings.ToLower(wfs[i].Name), needle) {
			return &wfs[i]
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	ep, err := c.endpoint(ctx)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	u := apiBase(ep.BaseURL) + path
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("X-N8N-API-KEY", ep.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("n8n call", zap.String("method", method), zap.String("path", path), zap.Int("status", res.StatusCode))

	if looksLikeHTML(b) {
		return &apperr.UpstreamError{Service: service, StatusCode: res.StatusCode, Message: htmlConfigHint}
	}
	if res.StatusCode/100 != 2 {
		return &apperr.UpstreamError{Service: service, StatusCode: res.StatusCode, Message: errorMessage(res, b)}
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &apperr.UpstreamError{Service: service, StatusCode: res.StatusCode, Message: "malformed JSON response: " + err.Error()}
	}
	return nil
}

func apiBase(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, apiPrefix) {
		return base
	}
	return base + apiPrefix
}

func workflowPath(id string) string {
	return "/workflows/" + url.PathEscape(id)
}

func looksLikeHTML(b []byte) bool {
	head := bytes.TrimSpace(b)
	if len(head) > 16 {
		head = head[:16]
	}
	lower := strings.ToLower(string(head))
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

func errorMessage(res *http.Response, b []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &body) == nil && body.Message != "" {
		return body.Message
	}
	if text := strings.TrimSpace(string(b)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(res.StatusCode)
}
