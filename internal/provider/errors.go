package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for provider call failures. Auth and bad-request errors
// are permanent: retrying them cannot succeed and only burns the budget.
var (
	ErrAuth        = errors.New("provider auth error")
	ErrBadRequest  = errors.New("provider rejected request")
	ErrRateLimited = errors.New("provider rate limited")
	ErrUnavailable = errors.New("provider unavailable")
	ErrTimeout     = errors.New("provider call timeout")
)

// Retryable reports whether a provider error is worth another attempt.
func Retryable(err error) bool {
	return !errors.Is(err, ErrAuth) && !errors.Is(err, ErrBadRequest)
}

// classifyStatus maps a non-2xx response to a sentinel error.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, status, body)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, status)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, status, body)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
}

// classifyTransport maps transport-level errors to sentinel errors.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
