package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/catalog-enricher/internal/faults"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx,
// network timeout) with an optional HTTP status code.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a retryable Fault, or matches common transient network
// patterns (timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// A tagged fault carries its own retryability verdict.
	var f *faults.Fault
	if errors.As(err, &f) {
		return faults.Classify(f.Reason).Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

// ReasonForError maps a call failure to its taxonomy reason code for
// classification by the retry layer.
func ReasonForError(err error, statusCode int) faults.Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return faults.ReasonCircuitOpen
	case errors.Is(err, ErrBudgetExhausted):
		return faults.ReasonBudgetExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return faults.ReasonTimeout
	}

	if r := faults.ReasonOf(err); r != faults.ReasonUnknown {
		return r
	}

	switch statusCode {
	case 401, 403:
		return faults.ReasonAuthInvalid
	case 408, 504:
		return faults.ReasonTimeout
	case 429:
		return faults.ReasonRateLimited
	case 500, 502:
		return faults.ReasonProviderError
	case 503:
		return faults.ReasonProviderOverload
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return faults.ReasonTimeout
		}
		return faults.ReasonNetworkFailure
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such host") {
		return faults.ReasonDNSFailure
	}
	if IsTransient(err) {
		return faults.ReasonNetworkFailure
	}
	return faults.ReasonProviderError
}
