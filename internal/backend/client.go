package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tenantbill/internal/auth"
)

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues authenticated GET requests against the billing backend.
type Client struct {
	baseURL string
	http    HTTPDoer
	tokens  auth.TokenSource
}

// NewClient builds a backend client for the given base URL.
func NewClient(baseURL string, httpClient HTTPDoer, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

func (c *Client) buildURL(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Get performs an authenticated GET and returns status and body. A non-2xx
// status is not an error here; the resolver decides how each status is
// treated inside the fallback chain.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	target := c.buildURL(path, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}

	token, err := c.tokens.Token()
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// URL exposes the fully-qualified form of a path for diagnostics.
func (c *Client) URL(path string, query url.Values) string {
	return c.buildURL(path, query)
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
