package connector

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/telemetry"
)

const (
	DefaultTimeout    = 30 * time.Second
	defaultPageSize   = 100
	defaultMaxPages   = 50
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	maxErrorBody      = 2048
)

// Options carries the transport settings shared by every connector.
type Options struct {
	// BaseURL overrides the vendor default (used by tests and proxies).
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each upstream request.
	Timeout  time.Duration
	PageSize int
	MaxPages int
	// MaxRetries of zero means the default; negative disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	// AllowUnsignedWebhooks accepts webhooks when no secret is configured.
	AllowUnsignedWebhooks bool
	Logger                *zap.Logger
	Metrics               *telemetry.Metrics
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return o
}

// httpClient issues authenticated JSON GETs against one vendor API.
type httpClient struct {
	source  Source
	opts    Options
	auth    func(*http.Request)
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

func newHTTPClient(source Source, opts Options, auth func(*http.Request)) *httpClient {
	return &httpClient{
		source:  source,
		opts:    opts,
		auth:    auth,
		logger:  opts.Logger.With(zap.String("source", string(source))),
		metrics: opts.Metrics,
	}
}

// getJSON fetches path and decodes the body into out. Rate limits and
// gateway errors are retried with exponential backoff; timeouts are not.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		err := c.doGet(ctx, path, query, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		if attempt == c.opts.MaxRetries {
			break
		}

		backoff := time.Duration(float64(c.opts.BaseDelay) * math.Pow(2, float64(attempt)))
		c.logger.Debug("retrying upstream request",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return &ConnectorError{Source: c.source, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func (c *httpClient) doGet(ctx context.Context, path string, query url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	u := c.opts.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return &ConnectorError{Source: c.source, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	c.auth(req)

	start := time.Now()
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		cerr := c.transportError(ctx, reqCtx, err)
		c.observe(start, cerr)
		return cerr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cerr := &ConnectorError{
			Source:     c.source,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
		c.observe(start, cerr)
		return cerr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		cerr := c.transportError(ctx, reqCtx, fmt.Errorf("decoding response: %w", err))
		c.observe(start, cerr)
		return cerr
	}
	c.observe(start, nil)
	return nil
}

// postStream POSTs a JSON body and hands back the response body unread. The
// per-request timeout bounds the wait for response headers only; the stream
// lives until ctx ends or the caller closes it.
func (c *httpClient) postStream(ctx context.Context, path string, body []byte, accept string) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(c.opts.Timeout, cancel)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		timer.Stop()
		cancel()
		return nil, &ConnectorError{Source: c.source, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	c.auth(req)

	start := time.Now()
	resp, err := c.opts.HTTPClient.Do(req)
	expired := !timer.Stop()
	if err != nil {
		cancel()
		cerr := &ConnectorError{Source: c.source, Err: err}
		switch {
		case ctx.Err() != nil:
			cerr.Err = ctx.Err()
		case expired:
			cerr.Timeout = true
		}
		c.observe(start, cerr)
		return nil, cerr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		cerr := &ConnectorError{
			Source:     c.source,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
		c.observe(start, cerr)
		return nil, cerr
	}
	c.observe(start, nil)
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}

// transportError classifies a failure that happened before a full response
// was read. Expiry of the per-request deadline is a timeout; cancellation of
// the caller's context is passed through.
func (c *httpClient) transportError(parent, reqCtx context.Context, err error) *ConnectorError {
	if parent.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return &ConnectorError{Source: c.source, Timeout: true, Err: err}
	}
	if parent.Err() != nil {
		return &ConnectorError{Source: c.source, Err: parent.Err()}
	}
	return &ConnectorError{Source: c.source, Err: err}
}

func (c *httpClient) observe(start time.Time, err *ConnectorError) {
	outcome := "ok"
	switch {
	case err == nil:
	case err.Timeout:
		outcome = "timeout"
	case err.StatusCode != 0:
		outcome = fmt.Sprintf("http_%d", err.StatusCode)
	default:
		outcome = "error"
	}
	c.metrics.ObserveRequest(string(c.source), outcome, time.Since(start))
}

func retryable(err error) bool {
	var ce *ConnectorError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// webhookSecret verifies shared-secret webhook tokens.
type webhookSecret struct {
	secret        string
	allowUnsigned bool
}

func (w webhookSecret) verify(token string) bool {
	if w.secret == "" {
		return w.allowUnsigned
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(w.secret)) == 1
}

func formatSince(since time.Time) string {
	return since.UTC().Format(time.RFC3339)
}
