// Package sandbox provides the HTTP client used to tear down sandbox
// execution environments.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client terminates sandboxes through the runner control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a sandbox client. An empty baseURL yields a client
// whose Terminate is a no-op.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Terminate stops the sandbox identified by handle. Terminating a sandbox
// that is already gone succeeds.
func (c *Client) Terminate(ctx context.Context, handle string) error {
	if c.baseURL == "" || handle == "" {
		return nil
	}

	endpoint := c.baseURL + "/sandboxes/" + url.PathEscape(handle) + "/terminate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to terminate sandbox %s: %w", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("sandbox api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
