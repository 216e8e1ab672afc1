package fieldops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/garnizeh/fieldops/internal/config"
	"github.com/garnizeh/fieldops/pkg/models"
)

const apiPrefix = "api/v1/field-operations"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// TokenSource supplies the bearer token sent with every request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// Client talks to the field-operations REST API. Reads are retried on
// transport and 5xx failures; mutations are sent exactly once.
type Client struct {
	cfg    config.BackendConfig
	base   *url.URL
	client *http.Client
	tokens TokenSource

	// simple circuit breaker state
	failures  int32
	openUntil int64 // unix nano
	closed    int32
}

// NewClient creates a client. tokens may be nil for unauthenticated use.
func NewClient(cfg config.BackendConfig, httpClient *http.Client, tokens TokenSource) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		base:   u,
		client: httpClient,
		tokens: tokens,
	}
	logger.Info("fieldops: NewClient created", slog.String("base_url", cfg.BaseURL), slog.Duration("timeout", cfg.Timeout))
	return c, nil
}

// NewDefaultClient builds a client on a pooled transport instrumented with
// OpenTelemetry spans.
func NewDefaultClient(cfg config.BackendConfig, tokens TokenSource) (*Client, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 15 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	defaultClient := &http.Client{
		Transport: otelhttp.NewTransport(tr,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "fieldops " + r.Method + " " + r.URL.Path
			}),
		),
	}

	return NewClient(cfg, defaultClient, tokens)
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}

	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}

	// half-open: let one request through
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt32(&c.failures, 0)
}

// Close releases idle connections. It is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.client != nil {
		c.client.CloseIdleConnections()
		logger.Info("fieldops: client closed")
	}
	return nil
}

// package-level logger for pkg/fieldops; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/fieldops. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// endpoint joins path elements under the API prefix, escaping each one.
func (c *Client) endpoint(elem ...string) *url.URL {
	parts := make([]string, 0, len(elem)+1)
	parts = append(parts, apiPrefix)
	for _, e := range elem {
		parts = append(parts, url.PathEscape(e))
	}
	return c.base.JoinPath(parts...)
}

func locationQuery(loc *models.Location) url.Values {
	if loc == nil {
		return nil
	}
	q := url.Values{}
	q.Set("latitude", formatCoord(loc.Latitude))
	q.Set("longitude", formatCoord(loc.Longitude))
	return q
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// do sends one logical request. GETs are attempted 1+Retries times; every
// other method is attempted once.
func (c *Client) do(ctx context.Context, method string, u *url.URL, query url.Values, body, out any) error {
	if c.isCircuitOpen() {
		return ErrCircuitOpen
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.cfg.Retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.cfg.Backoff*time.Duration(attempt)); err != nil {
				return err
			}
			if c.isCircuitOpen() {
				return ErrCircuitOpen
			}
		}

		retry, err := c.attempt(ctx, method, u, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		logger.Warn("fieldops: request failed",
			slog.String("method", method),
			slog.String("path", u.Path),
			slog.Int("attempt", attempt+1),
			slog.Any("err", err),
		)
	}
	return lastErr
}

// attempt performs a single round trip and reports whether a failure is
// worth retrying.
func (c *Client) attempt(ctx context.Context, method string, u *url.URL, payload []byte, out any) (bool, error) {
	ctxReq, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctxReq, method, u.String(), rdr)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return false, fmt.Errorf("bearer token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		if ctx.Err() != nil {
			return false, &NetworkError{Method: method, URL: u.Path, Err: ctx.Err()}
		}
		return true, &NetworkError{Method: method, URL: u.Path, Err: err}
	}
	defer resp.Body.Close()

	logger.Debug("fieldops: response",
		slog.String("method", method),
		slog.String("path", u.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := decodeError(method, u.Path, resp.StatusCode, b)
		if resp.StatusCode >= 500 {
			c.recordFailure()
			return true, herr
		}
		// the server answered; it is healthy even if it said no
		c.recordSuccess()
		return false, herr
	}

	c.recordSuccess()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s %s response: %w", method, u.Path, err)
	}
	return false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
