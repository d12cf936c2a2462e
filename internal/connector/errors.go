package connector

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectorError is returned for any failed upstream call: a non-2xx
// response, a transport failure, or the per-request timeout.
type ConnectorError struct {
	Source     Source
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *ConnectorError) Error() string {
	switch {
	case e.Timeout:
		return "timeout"
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "request failed"
	}
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// ConfigurationError means a connector was constructed without the
// credentials it needs.
type ConfigurationError struct {
	Source  Source
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("not configured: missing %s", strings.Join(e.Missing, ", "))
}

// WebhookAuthError is returned when a webhook token does not match.
type WebhookAuthError struct {
	Source Source
}

func (e *WebhookAuthError) Error() string {
	return fmt.Sprintf("invalid webhook token for %s", e.Source)
}

// ErrPageLimit is wrapped by the *ConnectorError a listing returns when it
// reached MaxPages while upstream still reported more pages. The records
// fetched so far are returned alongside it.
var ErrPageLimit = errors.New("page limit reached")

func pageLimitError(src Source, pages int) *ConnectorError {
	return &ConnectorError{Source: src, Err: fmt.Errorf("%w after %d pages", ErrPageLimit, pages)}
}

// IsPageLimit reports whether err is a truncated listing.
func IsPageLimit(err error) bool {
	return errors.Is(err, ErrPageLimit)
}

// IsTimeout reports whether err came from an upstream request timing out.
func IsTimeout(err error) bool {
	var ce *ConnectorError
	return errors.As(err, &ce) && ce.Timeout
}

// IsConfiguration reports whether err is a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
