package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gpurelay/internal/model"

	"github.com/cenkalti/backoff/v5"
)

// ErrResultNotReady the coordinator has no result for the request yet.
// A dropped job looks the same, so callers bound their wait with ctx.
var ErrResultNotReady = errors.New("result not ready")

// DefaultPollInterval interval between result lookups in WaitResult
const DefaultPollInterval = 5 * time.Second

// APIError non-success response from the coordinator
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator returned %d: %s", e.StatusCode, e.Message)
}

// Client coordinator HTTP client
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for the coordinator at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register registers or renews a worker
func (c *Client) Register(ctx context.Context, req *model.RegisterRequest) (*model.RegisterResponse, error) {
	var resp model.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/register", req, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWorkers lists live workers
func (c *Client) ListWorkers(ctx context.Context) ([]*model.Worker, error) {
	var workers []*model.Worker
	if err := c.do(ctx, http.MethodGet, "/workers", nil, http.StatusOK, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// Submit dispatches an inference request and returns its request id
func (c *Client) Submit(ctx context.Context, req *model.InferenceRequest) (*model.InferenceResponse, error) {
	var resp model.InferenceResponse
	if err := c.do(ctx, http.MethodPost, "/inference", req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetResult fetches the result once; ErrResultNotReady when none is published yet
func (c *Client) GetResult(ctx context.Context, requestID string) (*model.InferenceResult, error) {
	var result model.InferenceResult
	err := c.do(ctx, http.MethodGet, "/result/"+url.PathEscape(requestID), nil, http.StatusOK, &result)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, ErrResultNotReady
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// WaitResult polls GetResult every interval until the result exists or ctx is done.
// Errors other than "not ready" stop the wait immediately.
func (c *Client) WaitResult(ctx context.Context, requestID string, interval time.Duration) (*model.InferenceResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	operation := func() (*model.InferenceResult, error) {
		result, err := c.GetResult(ctx, requestID)
		if errors.Is(err, ErrResultNotReady) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return result, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(0),
	)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, expected int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call coordinator: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != expected {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
