// Package api implements the authenticated HTTP client for the backend's
// transaction, workflow and profile endpoints. It is RPC-shaped glue: no
// retries, no backoff — those belong to the sync engine.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"expenser/internal/core"
)

// APIError is returned for any non-2xx response, carrying the server-supplied
// message and status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenProvider
	logger  *slog.Logger

	mu     sync.Mutex
	cached string // last good token, fallback when the provider fails
}

func NewClient(baseURL string, tokens TokenProvider, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		tokens:  tokens,
		logger:  logger,
	}
}

// bearer returns a fresh token when the provider can supply one, falling back
// to the last token that worked.
func (c *Client) bearer(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.Token(ctx)
	if err != nil || token == "" {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.logger.WarnContext(ctx, "token refresh failed, using cached token", "error", err)
		}
		return c.cached
	}
	c.mu.Lock()
	c.cached = token
	c.mu.Unlock()
	return token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.bearer(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFrom(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFrom builds an APIError from a failed response. A malformed error body
// degrades to a generic message.
func (c *Client) errorFrom(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("request failed with status %d", resp.StatusCode),
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}

// === Transactions ===

func (c *Client) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	var out struct {
		Transactions []core.Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/transactions", nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *Client) CreateTransaction(ctx context.Context, payload core.CreateTransaction) (core.Transaction, error) {
	var out struct {
		Transaction core.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/transactions", payload, &out); err != nil {
		return core.Transaction{}, err
	}
	return out.Transaction, nil
}

func (c *Client) UpdateTransaction(ctx context.Context, id string, payload core.UpdateTransaction) (core.Transaction, error) {
	var out struct {
		Transaction core.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/transactions?id="+url.QueryEscape(id), payload, &out); err != nil {
		return core.Transaction{}, err
	}
	return out.Transaction, nil
}

func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/transactions?id="+url.QueryEscape(id), nil, nil)
}

// === Workflows ===

func (c *Client) ListWorkflows(ctx context.Context) ([]core.Workflow, error) {
	var out struct {
		Workflows []core.Workflow `json:"workflows"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

func (c *Client) CreateWorkflow(ctx context.Context, payload core.CreateWorkflow) (core.Workflow, error) {
	var out struct {
		Workflow core.Workflow `json:"workflow"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/workflows", payload, &out); err != nil {
		return core.Workflow{}, err
	}
	return out.Workflow, nil
}

func (c *Client) UpdateWorkflow(ctx context.Context, id string, payload core.CreateWorkflow) (core.Workflow, error) {
	var out struct {
		Workflow core.Workflow `json:"workflow"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/workflows?id="+url.QueryEscape(id), payload, &out); err != nil {
		return core.Workflow{}, err
	}
	return out.Workflow, nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/workflows?id="+url.QueryEscape(id), nil, nil)
}

// === Profile ===

func (c *Client) GetProfile(ctx context.Context) (core.Profile, error) {
	var out struct {
		Profile core.Profile `json:"profile"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/user/profile", nil, &out); err != nil {
		return core.Profile{}, err
	}
	return out.Profile, nil
}

func (c *Client) UpdateProfile(ctx context.Context, payload core.UpdateProfile) (core.Profile, error) {
	var out struct {
		Profile core.Profile `json:"profile"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/user/profile", payload, &out); err != nil {
		return core.Profile{}, err
	}
	return out.Profile, nil
}

var _ Remote = (*Client)(nil)
