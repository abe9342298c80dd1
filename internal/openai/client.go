// Package openai is a small client for OpenAI-compatible embedding and chat completion
// endpoints, with rate limiting, bounded retries and tracing.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
)

// DefaultBaseURL is the public OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

const maxErrorBody = 512

var tracer = otel.Tracer("github.com/hyperjump/callscope/internal/openai")

// Config holds connection and budget settings for one external capability.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
}

// Client calls an OpenAI-compatible API. Every request waits on a shared rate limiter,
// runs under its own timeout and is retried with exponential backoff on transient
// failures (network errors, timeouts, 429 and 5xx).
type Client struct {
	http           *http.Client
	baseURL        string
	apiKey         string
	service        string
	limiter        *rate.Limiter
	timeout        time.Duration
	maxRetries     uint64
	initialBackoff time.Duration
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = utils.OrNop(l) }
}

// WithHTTPClient replaces the underlying HTTP client. Its transport is used as is.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithInitialBackoff sets the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) { c.initialBackoff = d }
}

// New creates a client. service names the capability ("embedding", "llm") in errors,
// logs and spans.
func New(service string, cfg Config, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		http:           &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		baseURL:        baseURL,
		apiKey:         cfg.APIKey,
		service:        service,
		limiter:        rate.NewLimiter(limit, burst),
		timeout:        timeout,
		maxRetries:     uint64(retries),
		initialBackoff: 500 * time.Millisecond,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// postJSON sends in to path and decodes the response into out. The HTTP call itself is
// detached from ctx cancellation so a call already paid for completes; ctx still stops
// rate-limit waits and further retries.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	ctx, span := tracer.Start(ctx, c.service+" "+path)
	defer span.End()
	span.SetAttributes(attribute.String("callscope.service", c.service))

	body, err := json.Marshal(in)
	if err != nil {
		return c.fail(span, path, err)
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return c.do(ctx, path, body, out)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Warn("Retrying external call",
			zap.String("service", c.service),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	span.SetAttributes(attribute.Int("callscope.attempts", attempt))
	if err != nil {
		return c.fail(span, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, body []byte, out any) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		if serr.Retryable() {
			return serr
		}
		return backoff.Permanent(serr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) fail(span trace.Span, path string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return &models.ExternalServiceError{Service: c.service, Op: path, Err: err}
}
