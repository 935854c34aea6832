// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package backend is the HTTP client for the support desk REST API: login
// endpoints, chat creation, message and file uploads, and leaving rooms.
//
// Every call passes through a token-bucket limiter and a circuit breaker.
// Transport failures and 5xx responses count against the breaker; 4xx
// responses are the caller's problem and do not.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/metrics"
)

// ErrCircuitOpen is returned while the circuit breaker rejects requests.
var ErrCircuitOpen = errors.New("backend: circuit open")

// maxErrorBodySize limits how much of an error response is kept.
const maxErrorBodySize = 64 * 1024

// APIError is a non-2xx response from the backend.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Endpoint, e.StatusCode, body)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. http://127.0.0.1/api/v1.
	BaseURL string

	// Timeout bounds JSON requests; UploadTimeout bounds multipart ones.
	Timeout       time.Duration
	UploadTimeout time.Duration

	// RequestsPerSecond and Burst pace outgoing requests.
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	HTTPClient *http.Client
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://127.0.0.1/api/v1",
		Timeout:           15 * time.Second,
		UploadTimeout:     30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

// Client talks to the backend REST API. It is safe for concurrent use.
type Client struct {
	base    string
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*http.Response]
	log     zerolog.Logger
}

// New creates a client. Zero fields in cfg take their defaults.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = def.UploadTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     logging.Component("backend"),
	}

	const cbName = "backend-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.base
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// request describes one call.
type request struct {
	endpoint    string // metrics label
	path        string
	contentType string
	body        []byte
	timeout     time.Duration
}

// do sends req and decodes a 2xx JSON body into out (which may be nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	started := time.Now()
	if req.timeout <= 0 {
		req.timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.ObserveBackend(req.endpoint, "rejected", started)
		return fmt.Errorf("backend %s: %w", req.endpoint, err)
	}

	resp, err := c.cb.Execute(func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+req.path, bytes.NewReader(req.body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", req.contentType)
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			return nil, &APIError{
				Endpoint:   req.endpoint,
				StatusCode: resp.StatusCode,
				Body:       readBodyForError(resp.Body),
			}
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ObserveBackend(req.endpoint, "rejected", started)
		return fmt.Errorf("%w: %s", ErrCircuitOpen, req.endpoint)
	case err != nil:
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			metrics.ObserveBackend(req.endpoint, "http_error", started)
			return apiErr
		}
		metrics.ObserveBackend(req.endpoint, "transport_error", started)
		return fmt.Errorf("backend %s: %w", req.endpoint, err)
	}
	defer resp.Body.Close()

	metrics.ObserveBackend(req.endpoint, "success", started)
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend %s: read response: %w", req.endpoint, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend %s: decode response: %w", req.endpoint, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("backend %s: encode request: %w", endpoint, err)
	}
	return c.do(ctx, request{
		endpoint:    endpoint,
		path:        path,
		contentType: "application/json",
		body:        body,
	}, out)
}

// readBodyForError reads at most maxErrorBodySize bytes of r.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}
