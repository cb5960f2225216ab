package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPStatusError is a non-2xx answer from a downstream service. Body is kept
// verbatim.
type HTTPStatusError struct {
	Target     string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s status: %s", e.target(), e.Status)
	}
	return fmt.Sprintf("%s status: %s: %s", e.target(), e.Status, strings.TrimSpace(e.Body))
}

func (e *HTTPStatusError) target() string {
	if e.Target == "" {
		return "http"
	}
	return e.Target
}

// ConnectivityError means the request never produced a response: refused
// connection, DNS failure or a per-request client timeout.
type ConnectivityError struct {
	Target string
	URL    string
	Err    error
}

func (e *ConnectivityError) Error() string {
	if e == nil {
		return "service unreachable"
	}
	target := e.Target
	if target == "" {
		target = "service"
	}
	return fmt.Sprintf("%s unreachable at %s: %v", target, e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPClassifier classifies failures of calls that report HTTPStatusError and
// ConnectivityError. Callers return a bare context error only when their own
// context is done; a client timeout arrives as a ConnectivityError even though
// it unwraps to context.DeadlineExceeded.
type HTTPClassifier struct {
	// RetryStatus reports whether a status code is worth another attempt.
	// Nil retries every status.
	RetryStatus func(statusCode int) bool
	// RetryOther applies to errors that are neither HTTP nor context errors.
	RetryOther bool
}

func (c HTTPClassifier) Classify(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if c.RetryStatus != nil && !c.RetryStatus(statusErr.StatusCode) {
			return ErrorClassification{}
		}
		return ErrorClassification{
			Retryable:     true,
			RecordFailure: statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests,
		}
	}

	var connErr *ConnectivityError
	if errors.As(err, &connErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: c.RetryOther, RecordFailure: true}
}

// RetryableStatus is the usual set of transient HTTP statuses.
func RetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
