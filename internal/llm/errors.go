package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TransientAPIError is a failure worth retrying: rate limits, timeouts and
// temporary server errors.
type TransientAPIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transient error (%d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transient error: %v", e.Provider, e.Err)
}

func (e *TransientAPIError) Unwrap() error { return e.Err }

// ContentPolicyError means the provider refused the request. Retrying will not help.
type ContentPolicyError struct {
	Provider string
	Reason   string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("%s rejected the request: %s", e.Provider, e.Reason)
}

// IsTransient reports whether err carries a TransientAPIError.
func IsTransient(err error) bool {
	var t *TransientAPIError
	return errors.As(err, &t)
}

// IsContentPolicy reports whether err carries a ContentPolicyError.
func IsContentPolicy(err error) bool {
	var p *ContentPolicyError
	return errors.As(err, &p)
}

var policyMarkers = []string{"content_policy", "content policy", "content_filter", "safety", "blocked"}

// classifyStatus turns a non-200 HTTP response into a typed error.
func classifyStatus(provider string, code int, body string) error {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientAPIError{Provider: provider, StatusCode: code, Err: errors.New(strings.TrimSpace(body))}
	case http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity:
		lower := strings.ToLower(body)
		for _, m := range policyMarkers {
			if strings.Contains(lower, m) {
				return &ContentPolicyError{Provider: provider, Reason: strings.TrimSpace(body)}
			}
		}
	}
	return fmt.Errorf("%s API returned %d: %s", provider, code, body)
}

// classifyTransport wraps errors from the HTTP round trip. Timeouts and
// connection failures are transient; cancellation by the caller is not.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TransientAPIError{Provider: provider, Err: err}
	}
	return &TransientAPIError{Provider: provider, Err: fmt.Errorf("request failed: %w", err)}
}
