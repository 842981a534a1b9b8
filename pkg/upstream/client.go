// Package upstream performs single forwarding attempts against providers.
//
// A Client knows how to send one buffered inbound request to exactly one
// provider and classify what came back. It never retries and never touches
// routing state; failover across providers is the executor's job
// (pkg/proxy). Successful responses are returned with their body unread so
// the caller can stream it to the client as it arrives.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

// DefaultAttemptTimeout bounds how long one attempt may take to produce
// response headers. Streaming bodies are not subject to it: once headers
// arrive the attempt is a success and the body streams on the request's own
// context.
const DefaultAttemptTimeout = 60 * time.Second

// errorSnippetLimit caps how much of an upstream error body is captured for
// diagnostics before the body is discarded.
const errorSnippetLimit = 2048

// ForwardRequest is the buffered inbound request replayed against providers.
// The body is held fully in memory so a second attempt sends byte-identical
// content after a failed first one.
type ForwardRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Result is a successful attempt: status, headers, and a lazy single-pass
// body stream. The caller owns Body and must close it.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client sends forwarding attempts. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a forwarding client with pooled connections.
//
// Transport-level compression negotiation is disabled so the upstream's
// Content-Encoding and body bytes reach the CLI untouched; the client's own
// Accept-Encoding header passes through and the upstream answers it
// directly.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		ForceAttemptHTTP2:   true,
	}
	c := &Client{
		// No client-level timeout: it would also cut off long streaming
		// bodies. The per-attempt deadline is managed in Do.
		httpClient: &http.Client{Transport: transport},
		timeout:    DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs exactly one forwarding attempt against the given provider.
//
// Outcomes:
//   - nil error: the upstream produced a deliverable response (any status
//     outside the retryable set). The caller must close Result.Body.
//   - *RetryableError: connection failure, attempt timeout, 5xx, or 429.
//     The provider is at fault and the caller may fail over.
//   - context.Canceled (wrapped): the inbound client went away; not a
//     provider failure.
func (c *Client) Do(ctx context.Context, svc registry.Service, provider registry.Provider, req *ForwardRequest) (*Result, error) {
	url := strings.TrimSuffix(provider.APIURL, "/") + req.Path

	// The attempt deadline covers dial + request write + response headers.
	// Once headers arrive the timer is stopped so streaming bodies are
	// bounded only by the inbound request's context.
	attemptCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(c.timeout, cancel)

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		timer.Stop()
		cancel()
		return nil, &RetryableError{Provider: provider.Label(), Cause: fmt.Errorf("building request: %w", err)}
	}
	httpReq.Header = outboundHeaders(svc, provider, req.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		timer.Stop()
		cancel()
		if ctx.Err() != nil {
			// The inbound client disconnected; do not blame the provider.
			return nil, fmt.Errorf("attempt aborted: %w", ctx.Err())
		}
		if attemptCtx.Err() != nil {
			return nil, &RetryableError{
				Provider: provider.Label(),
				Timeout:  true,
				Cause:    fmt.Errorf("attempt timed out after %s", c.timeout),
			}
		}
		return nil, &RetryableError{Provider: provider.Label(), Cause: err}
	}

	if isRetryableStatus(resp.StatusCode) {
		snippet := readErrorSnippet(resp.Body)
		resp.Body.Close()
		timer.Stop()
		cancel()
		slog.Warn("upstream returned retryable status",
			"provider", provider.Label(),
			"status", resp.StatusCode,
			"body", snippet,
		)
		return nil, &RetryableError{
			Provider: provider.Label(),
			Status:   resp.StatusCode,
			Cause:    fmt.Errorf("upstream status %d", resp.StatusCode),
		}
	}

	// Committed: from here the response belongs to the client, failures
	// included (a 4xx is the upstream's answer, not a routing problem).
	timer.Stop()
	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// isRetryableStatus reports whether a status code indicates a provider
// failure worth failing over: server errors and rate limiting.
func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// readErrorSnippet captures a bounded prefix of an error body for logs.
func readErrorSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, errorSnippetLimit))
	return strings.TrimSpace(string(b))
}

// cancelOnClose releases the attempt's context when the response body is
// closed, so abandoned streams do not leak the goroutine-pinned connection.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
