// Package transport performs the HTTP calls behind workflow steps.
package transport

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
	"time"

	"golang.org/x/time/rate"
)

// Defaults applied when an operation leaves the field unset.
const (
	DefaultMethod          = http.MethodGet
	DefaultTimeoutMs       = 30_000
	DefaultRetryCount      = 1
	DefaultRetryDelayMs    = 1_000
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// Client is the HTTP collaborator the invoker calls through.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request is one operation call. RetryCount is the number of extra attempts
// made after a retryable failure; it is independent of workflow retry actions.
type Request struct {
	URL          string
	Method       string
	Headers      map[string]string
	Query        map[string]string
	Body         any
	TimeoutMs    int
	RetryCount   int
	RetryDelayMs int
}

// Response is a completed call with a 2xx or 3xx status.
type Response struct {
	StatusCode int
	Status     string
	Headers    map[string]string
	Body       any
	Raw        []byte
}

// Config configures an HTTPClient.
type Config struct {
	MaxResponseBody int64
	// RateLimit caps outgoing requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	// Breaker enables per-host circuit breaking when set.
	Breaker *BreakerConfig
	Logger  *slog.Logger
}

// HTTPClient is the net/http implementation of Client.
type HTTPClient struct {
	cfg      Config
	client   *http.Client
	limiter  *rate.Limiter
	breakers *Breakers
	logger   *slog.Logger
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.Breaker != nil {
		c.breakers = NewBreakers(*cfg.Breaker)
	}
	return c
}

// Do sends req, retrying retryable failures up to req.RetryCount times.
// Non-2xx/3xx responses and network failures are returned as *Error.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	r := withDefaults(req)

	var lastErr error
	for attempt := 0; attempt <= r.RetryCount; attempt++ {
		if attempt > 0 {
			c.logger.DebugContext(ctx, "retrying request",
				"method", r.Method, "url", r.URL, "attempt", attempt, "error", lastErr)
			if err := waitForRetry(ctx, time.Duration(r.RetryDelayMs)*time.Millisecond); err != nil {
				return nil, networkError(r, err)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, networkError(r, err)
			}
		}

		host := hostOf(r.URL)
		if c.breakers != nil {
			if err := c.breakers.Allow(host); err != nil {
				requestsTotal.WithLabelValues("circuit_open").Inc()
				return nil, networkError(r, err)
			}
		}

		resp, err := c.do(ctx, r)
		if c.breakers != nil {
			c.breakers.Record(host, err)
		}
		if err == nil {
			requestsTotal.WithLabelValues("ok").Inc()
			return resp, nil
		}

		terr, _ := err.(*Error)
		requestsTotal.WithLabelValues(string(terr.Kind)).Inc()
		lastErr = err
		if ctx.Err() != nil || !terr.Retryable() {
			break
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) do(ctx context.Context, r Request) (*Response, error) {
	target, err := buildURL(r.URL, r.Query)
	if err != nil {
		return nil, networkError(r, err)
	}

	body, err := encodeBody(r.Body, r.Headers["Content-Type"])
	if err != nil {
		return nil, networkError(r, err)
	}

	// Create request with timeout context
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(r.TimeoutMs)*time.Millisecond)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, r.Method, target, body)
	if err != nil {
		return nil, networkError(r, err)
	}
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, networkError(r, err)
	}
	defer resp.Body.Close()

	// Read response body with size limit
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBody))
	if err != nil {
		return nil, networkError(r, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    flattenHeaders(resp.Header),
		Body:       parseBody(raw, resp.Header.Get("Content-Type")),
		Raw:        raw,
	}

	c.logger.DebugContext(ctx, "request completed",
		"method", r.Method, "url", target, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &Error{
			Kind:       KindProtocol,
			Method:     r.Method,
			URL:        r.URL,
			StatusCode: resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Headers:    out.Headers,
			Body:       out.Body,
		}
	}
	return out, nil
}

func withDefaults(req *Request) Request {
	r := *req
	if r.Method == "" {
		r.Method = DefaultMethod
	}
	r.Method = strings.ToUpper(r.Method)
	if r.TimeoutMs <= 0 {
		r.TimeoutMs = DefaultTimeoutMs
	}
	if r.RetryCount <= 0 {
		r.RetryCount = DefaultRetryCount
	}
	if r.RetryDelayMs <= 0 {
		r.RetryDelayMs = DefaultRetryDelayMs
	}
	return r
}

func buildURL(raw string, query map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// encodeBody serializes the request body by content type: form values for
// application/x-www-form-urlencoded, strings and bytes as is, JSON otherwise.
func encodeBody(body any, contentType string) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	switch b := body.(type) {
	case string:
		return strings.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	}
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		if m, ok := body.(map[string]any); ok {
			vals := url.Values{}
			for k, v := range m {
				vals.Set(k, fmt.Sprintf("%v", v))
			}
			return strings.NewReader(vals.Encode()), nil
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body as JSON: %w", err)
	}
	return bytes.NewReader(data), nil
}

func parseBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func waitForRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
