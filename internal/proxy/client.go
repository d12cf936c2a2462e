// Package proxy is a small client for an OpenAI-compatible chat completion
// API (OpenRouter by default) used by the dashboard assistant.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultModel     = "anthropic/claude-3.5-sonnet"
	DefaultMaxTokens = 4096

	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
	maxErrorBody     = 2048
)

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("llm api key not configured")

// Client talks to the chat completion endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a client for the default endpoint.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		backoff:    initialBackoff,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL. An
// empty baseURL keeps the default.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Chat sends a chat completion request and returns the response body. For
// streaming requests the body carries SSE events. The caller closes it.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	timeout := defaultTimeout
	if req.Stream {
		timeout = streamingTimeout
	}

	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.doChat(ctx, body, timeout)
		if err == nil {
			return rc, nil
		}

		var se *StatusError
		if !errors.As(err, &se) || !se.retryable() {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}

// StatusError is a non-200 response from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Code == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited (HTTP %d)", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) doChat(ctx context.Context, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Stream runs a streaming completion and calls onText with every content
// delta as it arrives. It returns the concatenated text once the stream ends
// with [DONE] or EOF. An error from onText stops the stream.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onText func(string) error) (string, error) {
	req.Stream = true
	rc, err := c.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var full strings.Builder
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Blank separators, comments and other SSE fields.
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return full.String(), nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return full.String(), fmt.Errorf("decoding stream event: %w", err)
		}
		if chunk.Error != nil {
			return full.String(), fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			text := choice.Delta.Content
			if text == "" {
				continue
			}
			full.WriteString(text)
			if err := onText(text); err != nil {
				return full.String(), err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return full.String(), fmt.Errorf("reading stream: %w", err)
	}
	return full.String(), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/greenworks/execdash")
	req.Header.Set("X-Title", "execdash")
}
