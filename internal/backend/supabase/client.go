// Package supabase implements backend.Backend over the Supabase REST API
// (PostgREST): procedures are called through /rest/v1/rpc and audit rows are
// inserted through the table endpoint.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend"
)

const restPath = "/rest/v1"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client talks to a Supabase project.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client for the project at baseURL using apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecommendLifeInsurance implements backend.Backend.
func (c *Client) RecommendLifeInsurance(ctx context.Context, params backend.RecommendationParams) (json.RawMessage, error) {
	return c.rpc(ctx, backend.ProcRecommendation, params)
}

// ListUserRequests implements backend.Backend.
func (c *Client) ListUserRequests(ctx context.Context) (json.RawMessage, error) {
	return c.rpc(ctx, backend.ProcUserRequests, struct{}{})
}

// InsertUserInput implements backend.Backend.
func (c *Client) InsertUserInput(ctx context.Context, in backend.UserInput) error {
	_, err := c.do(ctx, backend.TableUserInputs, restPath+"/"+backend.TableUserInputs, in, map[string]string{
		"Prefer": "return=minimal",
	})
	return err
}

// Close implements backend.Backend.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) rpc(ctx context.Context, fn string, args any) (json.RawMessage, error) {
	body, err := c.do(ctx, fn, restPath+"/rpc/"+fn, args, nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, &backend.Error{Op: fn, Message: "invalid JSON in response"}
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, op, path string, payload any, headers map[string]string) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &backend.Error{Op: op, Message: "failed to marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &backend.Error{Op: op, Message: "failed to create request", Err: err}
	}

	c.setHeaders(httpReq)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &backend.Error{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &backend.Error{Op: op, Status: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(op, resp.StatusCode, respBody)
	}

	return respBody, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func parseError(op string, status int, body []byte) *backend.Error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return &backend.Error{
			Op:      op,
			Status:  status,
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
			Hint:    apiErr.Hint,
		}
	}
	return &backend.Error{
		Op:      op,
		Status:  status,
		Message: fmt.Sprintf("API error (status %d): %s", status, strings.TrimSpace(string(body))),
	}
}

var _ backend.Backend = (*Client)(nil)
