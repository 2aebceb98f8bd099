// Package transport provides the resilient HTTP client pool used for all
// outbound calls to remote tool servers: one pooled, multiplexed client per
// base URL with automatic retry, exponential backoff, and request metrics.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/toolgate/toolgate/internal/common"
)

// maxResponseSize caps response bodies to prevent OOM from unexpectedly large responses.
const maxResponseSize = 50 << 20 // 50MB

// baseBackoff is the unit of the exponential backoff schedule:
// 100ms, 200ms, 400ms, ... between attempts.
const baseBackoff = 100 * time.Millisecond

// Options configures a Pool. Zero fields fall back to defaults.
type Options struct {
	Headers            map[string]string
	MaxConnections     int
	MaxIdleConnections int
	IdleTimeout        time.Duration
	RequestTimeout     time.Duration
	MaxAttempts        int
	EnableHTTP2        bool
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 100
	}
	if o.MaxIdleConnections <= 0 {
		o.MaxIdleConnections = 20
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// StatusError is returned by Pool.Do when the final attempt completed with a
// non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if msg == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, msg)
}

// Retryable reports whether the status would have been retried by the pool.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

// retryableStatus classifies a non-2xx status: client errors other than 429
// are fatal, everything else is retryable.
func retryableStatus(status int) bool {
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}

// Pool is a pooled, multiplexed HTTP client bound to one remote base URL.
// It prefers HTTP/2 and degrades to HTTP/1.1 when unavailable. Retry with
// exponential backoff lives in the pool's RoundTripper, so callers that
// borrow HTTPClient() (the MCP client adapter) get the same resilience as
// direct Do calls. Safe for concurrent use.
type Pool struct {
	baseURL     string
	headers     map[string]string
	client      *http.Client
	metrics     *Metrics
	maxAttempts int
	logger      *common.Logger
}

// NewPool creates a pool for the given base URL.
func NewPool(baseURL string, logger *common.Logger, opts Options) *Pool {
	opts = opts.withDefaults()

	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       opts.MaxConnections,
		MaxIdleConns:          opts.MaxConnections,
		MaxIdleConnsPerHost:   opts.MaxIdleConnections,
		IdleConnTimeout:       opts.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.RequestTimeout, // per-attempt timeout
		ForceAttemptHTTP2:     opts.EnableHTTP2,
	}
	if opts.EnableHTTP2 {
		if err := http2.ConfigureTransport(base); err != nil {
			// Degrade gracefully to HTTP/1.1
			logger.Warn().Str("base_url", baseURL).Str("error", err.Error()).Msg("HTTP/2 unavailable, using HTTP/1.1")
			base.ForceAttemptHTTP2 = false
		}
	}

	p := &Pool{
		baseURL:     strings.TrimRight(baseURL, "/"),
		headers:     opts.Headers,
		metrics:     &Metrics{},
		maxAttempts: opts.MaxAttempts,
		logger:      logger,
	}
	p.client = &http.Client{
		Transport: &retryRoundTripper{
			base:        base,
			maxAttempts: opts.MaxAttempts,
			metrics:     p.metrics,
			logger:      logger,
		},
	}

	logger.Debug().
		Str("base_url", p.baseURL).
		Int("max_connections", opts.MaxConnections).
		Int("max_attempts", opts.MaxAttempts).
		Msg("transport pool created")

	return p
}

// BaseURL returns the pool's base URL.
func (p *Pool) BaseURL() string {
	return p.baseURL
}

// HTTPClient returns the pooled retrying client for protocol libraries that
// manage their own requests against this pool's base URL.
func (p *Pool) HTTPClient() *http.Client {
	return p.client
}

// Metrics returns a derived snapshot of the pool's counters.
func (p *Pool) Metrics() Summary {
	return p.metrics.Summary()
}

// Get performs a GET request against the pool's base URL.
func (p *Pool) Get(ctx context.Context, path string) ([]byte, error) {
	return p.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body against the pool's base URL.
func (p *Pool) Post(ctx context.Context, path string, data any) ([]byte, error) {
	return p.Do(ctx, http.MethodPost, path, data)
}

// Do performs an HTTP request with an optional JSON body. Transient
// failures are retried by the pool's RoundTripper; only the final outcome
// surfaces. A non-2xx final status is returned as a *StatusError.
func (p *Pool) Do(ctx context.Context, method, path string, data any) ([]byte, error) {
	p.logger.Debug().Str("method", method).Str("path", path).Msg("pool request")

	var bodyReader io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, val := range p.headers {
		req.Header.Set(key, val)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		p.logger.Error().Str("method", method).Str("path", path).Int64("duration_ms", duration.Milliseconds()).Str("error", err.Error()).Msg("pool request failed")
		return nil, fmt.Errorf("request to %s failed: %w", p.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	p.logger.Debug().Int("status", resp.StatusCode).Str("proto", resp.Proto).Int64("duration_ms", duration.Milliseconds()).Msg("pool response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}

// Close releases idle connections and logs the final metrics summary.
func (p *Pool) Close() error {
	p.client.CloseIdleConnections()
	s := p.metrics.Summary()
	p.logger.Info().
		Str("base_url", p.baseURL).
		Int64("total_requests", s.TotalRequests).
		Int64("failed_requests", s.FailedRequests).
		Int64("retries", s.Retries).
		Msg("transport pool closed")
	return nil
}

// retryRoundTripper implements the attempt state machine:
// SEND -> success | fatal failure (4xx except 429) | retryable failure.
// Retryable failures back off 100ms * 2^attempt and re-enter SEND until
// attempts are exhausted, at which point the last observed failure surfaces.
type retryRoundTripper struct {
	base        http.RoundTripper
	maxAttempts int
	metrics     *Metrics
	logger      *common.Logger
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.metrics.begin()
	start := time.Now()

	// Clone so retries and header writes never mutate the caller's request.
	req = req.Clone(req.Context())

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt < rt.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := rewindBody(req); err != nil {
				// Non-replayable body: surface the previous failure.
				break
			}
			rt.metrics.recordRetry()
		}

		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			lastResp, lastErr = nil, err
			rt.logger.Warn().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("attempt", attempt+1).
				Int("max_attempts", rt.maxAttempts).
				Str("error", err.Error()).
				Msg("transport attempt failed")
		} else {
			rt.metrics.recordProto(resp.ProtoMajor)

			if resp.StatusCode < 400 {
				rt.metrics.endSuccess(time.Since(start))
				return resp, nil
			}

			if !retryableStatus(resp.StatusCode) {
				// Fatal client error: no retry, surfaces immediately.
				rt.metrics.endFailure()
				return resp, nil
			}

			rt.logger.Warn().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Int("max_attempts", rt.maxAttempts).
				Msg("retryable status")

			lastResp, lastErr = resp, nil
		}

		if attempt < rt.maxAttempts-1 {
			// Keep the final attempt's body intact for the caller.
			if lastResp != nil {
				drain(lastResp)
			}
			if err := sleepBackoff(req.Context(), attempt); err != nil {
				rt.metrics.endFailure()
				return nil, err
			}
		}
	}

	rt.metrics.endFailure()
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

// rewindBody restores the request body from GetBody for a retry attempt.
func rewindBody(req *http.Request) error {
	if req.Body == nil {
		return nil
	}
	if req.GetBody == nil {
		return errors.New("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// sleepBackoff waits 100ms * 2^attempt, honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	wait := baseBackoff << attempt
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drain consumes and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
