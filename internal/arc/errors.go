package arc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	// ErrNotFound reports a conversation (or other record) that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAuthentication reports rejected or expired provider credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTimeout reports a provider call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrRateLimit reports an upstream rate-limit response (HTTP 429 or equivalent).
	ErrRateLimit = errors.New("rate limited")
)

// RateLimitError is returned by providers when the backend throttles them.
// After carries the remote retry-after hint, zero when none was given.
type RateLimitError struct {
	After   time.Duration
	Message string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limited"
	}
	if e.After > 0 {
		return fmt.Sprintf("%s (retry after %s)", msg, e.After)
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimit
}

// RetryAfter returns the remote retry-after hint.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.After
}

// IsRateLimit reports whether err is a rate-limit signal.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// IsTimeout reports whether err indicates a timed-out call. Providers wrap
// their errors inconsistently, so the message is checked as a last resort.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
