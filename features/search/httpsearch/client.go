// Package httpsearch holds the HTTP plumbing shared by the web search
// providers: a per-provider token bucket, request timeouts and the mapping of
// HTTP status codes onto the search error taxonomy.
package httpsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 15 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 8 << 20

type (
	// Client issues provider requests.
	Client struct {
		BaseURL string
		HTTP    *http.Client
		// Limiter throttles outgoing requests. Nil disables throttling.
		Limiter *rate.Limiter
		// Header is added to every request.
		Header http.Header
	}

	// StatusError reports a non-2xx provider response.
	StatusError struct {
		Provider string
		Status   int
		Body     string
	}
)

// New returns a Client for baseURL allowing qps requests per second.
// qps <= 0 disables throttling.
func New(baseURL string, qps float64) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		Header:  http.Header{},
	}
	if qps > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(qps), 1)
	}
	return c
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
}

// Unwrap maps 400 and 422 onto search.ErrMalformedQuery so the fetcher
// does not retry them.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return search.ErrMalformedQuery
	}
	return nil
}

// PostJSON posts body as JSON to path and decodes the JSON answer into out.
func (c *Client) PostJSON(ctx context.Context, provider, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.DoJSON(provider, req, out)
}

// DoJSON sends req and decodes the JSON answer into out.
func (c *Client) DoJSON(provider string, req *http.Request, out any) error {
	raw, err := c.Do(provider, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

// Do sends req after waiting for the limiter and returns the response body.
// Non-2xx answers yield a *StatusError.
func (c *Client) Do(provider string, req *http.Request) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("%s: %w", provider, err)
		}
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: provider, Status: resp.StatusCode, Body: search.Truncate(string(bytes.TrimSpace(raw)), 200)}
	}
	return raw, nil
}
