package whoop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// retryableStatus lists the response codes worth another attempt.
var retryableStatus = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// HTTPError describes a non-2xx vendor API response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("whoop api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whoop api error: status=%d message=%s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is in the retryable set.
func (e *HTTPError) Retryable() bool {
	_, ok := retryableStatus[e.StatusCode]
	return ok
}

// IsRetryable reports whether err is worth another attempt: a retryable HTTP status or
// a network-level failure (reset, timeout, truncated body). Cancellation is not. A
// transport timeout such as http.Client.Timeout counts as retryable even though it
// also matches context.DeadlineExceeded; callers must check their own ctx first.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return IsNetworkError(err)
}

// IsNetworkError reports whether err came from the transport rather than the API.
func IsNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
