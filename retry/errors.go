package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
)

// ErrorClass represents whether an error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the operation should be retried (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the operation should not be retried (permanent errors).
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// UpstreamError is returned once every attempt allowed by a Policy failed with
// a retryable error. It wraps the last error seen.
type UpstreamError struct {
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Classify sorts an error into retryable vs fatal.
//
// Retryable:
//   - network faults: connection reset/refused, host or network unreachable,
//     DNS failures, timeouts (including http.Client timeouts)
//   - upstream status 429 or any 5xx
//
// Everything else (other 4xx, decode failures, auth failures) is fatal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassFatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
			return ErrorClassRetryable
		}
		return ErrorClassFatal
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrorClassRetryable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorClassRetryable
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return ErrorClassRetryable
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassRetryable
	}

	return ErrorClassFatal
}

// IsRetryable reports whether err should trigger another attempt.
func IsRetryable(err error) bool {
	return Classify(err) == ErrorClassRetryable
}
