// Package client sends rendered request bodies to the test-run tracking backend.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/icnocop/pipelines-testlogger/internal/metrics"
	"github.com/icnocop/pipelines-testlogger/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Submitter performs one request against the runs API. endpoint is appended to
// the runs base URL, so "" addresses the collection and "/12/results" a run's results.
type Submitter interface {
	Submit(ctx context.Context, method, endpoint, apiVersion string, body []byte) ([]byte, error)
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client submits requests to one project's test runs endpoint.
type Client struct {
	baseURL    string
	authHeader string
	http       *http.Client
	logger     *slog.Logger
	verbose    bool
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithAccessToken authenticates with HTTP Basic using an empty user name and the token as password.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+token))
	}
}

// WithDefaultCredentials sends no Authorization header and leaves
// authentication to the transport.
func WithDefaultCredentials() Option {
	return func(c *Client) { c.authHeader = "" }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger; nil keeps slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithVerbose logs the body of every failing request.
func WithVerbose(v bool) Option {
	return func(c *Client) { c.verbose = v }
}

// New builds a client for the runs API of one team project.
func New(collectionURI, teamProject string, opts ...Option) (*Client, error) {
	collectionURI = strings.TrimSpace(collectionURI)
	teamProject = strings.TrimSpace(teamProject)
	if collectionURI == "" {
		return nil, fmt.Errorf("collection uri is required")
	}
	if teamProject == "" {
		return nil, fmt.Errorf("team project is required")
	}
	u, err := url.Parse(collectionURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid collection uri %q", collectionURI)
	}
	if !strings.HasSuffix(collectionURI, "/") {
		collectionURI += "/"
	}

	c := &Client{
		baseURL: collectionURI + url.PathEscape(teamProject) + "/_apis/test/runs",
		http:    &http.Client{Timeout: 100 * time.Second},
		logger:  slog.Default(),
		tracer:  tracing.Tracer("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL is the runs collection URL every endpoint is appended to.
func (c *Client) BaseURL() string { return c.baseURL }

// Submit sends body to endpoint under the runs base URL and returns the
// response body. Non-2xx statuses come back as *StatusError.
func (c *Client) Submit(ctx context.Context, method, endpoint, apiVersion string, body []byte) ([]byte, error) {
	target := c.baseURL + endpoint + "?api-version=" + url.QueryEscape(apiVersion)

	ctx, span := c.tracer.Start(ctx, "testruns "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", target),
			attribute.String("testruns.api_version", apiVersion),
			attribute.Int("testruns.body_bytes", len(body)),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := c.do(ctx, method, target, body)
	metrics.SubmissionLatencySeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(method, "failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.verbose {
			c.logger.Debug("submission failed", "method", method, "url", target, "body", string(body), "err", err)
		}
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues(method, "success").Inc()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, target, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: string(out)}
	}
	return out, nil
}
