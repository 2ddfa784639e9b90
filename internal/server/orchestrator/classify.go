package orchestrator

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/switchyardai/switchyard/internal/llm"
	"github.com/switchyardai/switchyard/internal/pkg/httpclient"
	"github.com/switchyardai/switchyard/internal/pkg/xjson"
)

// ErrorClass buckets a dispatch failure by how the engine reacts to it.
type ErrorClass string

const (
	// ClassClientError is the caller's fault. The upstream pair stays
	// untouched: no health record, no affinity invalidation.
	ClassClientError ErrorClass = "client_error"

	// ClassAuthError is a rejected credential. 403 responses additionally
	// run the account-validation probe for OAuth credentials.
	ClassAuthError ErrorClass = "auth_error"

	// ClassRateLimitError is an upstream 429. The detector decides whether
	// it was a concurrency ceiling or a per-minute quota.
	ClassRateLimitError ErrorClass = "rate_limit_error"

	// ClassRetriableError is a transient upstream or transport failure.
	ClassRetriableError ErrorClass = "retriable_error"

	// ClassFatalError is a local failure. It is never attributed to the
	// upstream pair.
	ClassFatalError ErrorClass = "fatal_error"
)

// Classification is the outcome of classifying one dispatch failure.
// Headers and Body are carried along so the rate-limit detector and the
// account-validation probe never have to re-unwrap the error.
type Classification struct {
	Class      ErrorClass
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Classify maps a dispatch failure to its class. It is pure; side effects
// belong to ErrorHandler.
func Classify(err error) Classification {
	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) {
		return Classification{
			Class:      classForStatus(httpErr.StatusCode),
			StatusCode: httpErr.StatusCode,
			Headers:    httpErr.Headers,
			Body:       httpErr.Body,
		}
	}

	var llmErr *llm.ResponseError
	if errors.As(err, &llmErr) {
		return Classification{
			Class:      classForStatus(llmErr.StatusCode),
			StatusCode: llmErr.StatusCode,
			Body:       xjson.MustMarshal(llmErr),
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: ClassRetriableError}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Class: ClassRetriableError}
	}

	return Classification{Class: ClassFatalError}
}

func classForStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuthError
	case status == http.StatusTooManyRequests:
		return ClassRateLimitError
	case status == http.StatusRequestTimeout || status >= 500:
		return ClassRetriableError
	case status >= 400:
		return ClassClientError
	default:
		return ClassFatalError
	}
}
