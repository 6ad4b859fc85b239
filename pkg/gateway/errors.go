// Package gateway defines the closed set of failure kinds reported by the
// external collaborators (embedding providers and vector stores) and helpers
// to classify transport errors structurally.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Kind classifies a gateway failure.
type Kind int

const (
	// KindUnknown is any failure that could not be classified.
	KindUnknown Kind = iota

	// KindInvalidInput is a request the collaborator rejected as malformed.
	KindInvalidInput

	// KindNotConfigured means the collaborator is missing credentials or an endpoint.
	KindNotConfigured

	// KindUnauthorized means the collaborator rejected our credentials.
	KindUnauthorized

	// KindTimeout is a call that exceeded its deadline.
	KindTimeout

	// KindUnavailable means the collaborator could not be reached.
	KindUnavailable

	// KindRateLimited means the collaborator asked us to slow down.
	KindRateLimited

	// KindNotFound is a missing collection or resource.
	KindNotFound

	// KindConflict is a resource that already exists.
	KindConflict

	// KindServerError is a 5xx answer. The collaborator is reachable, so
	// the failure is scoped to the request that caused it.
	KindServerError
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindInvalidInput:  "invalid_input",
	KindNotConfigured: "not_configured",
	KindUnauthorized:  "unauthorized",
	KindTimeout:       "timeout",
	KindUnavailable:   "unavailable",
	KindRateLimited:   "rate_limited",
	KindNotFound:      "not_found",
	KindConflict:      "conflict",
	KindServerError:   "server_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Infrastructure reports whether the kind means the collaborator as a whole
// is unusable, as opposed to a failure scoped to one request.
func (k Kind) Infrastructure() bool {
	switch k {
	case KindNotConfigured, KindUnauthorized, KindUnavailable:
		return true
	default:
		return false
	}
}

// Error is a classified gateway failure.
type Error struct {
	// Op names the gateway operation, e.g. "qdrant.upsert".
	Op   string
	Kind Kind
	Err  error
}

// NewError creates a classified error for op.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain. Unclassified
// context errors are mapped as Classify would map them.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}

	return classifyKind(err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify wraps err in an *Error for op, inferring the kind from the error's
// type. Errors that are already classified are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *Error
	if errors.As(err, &gerr) {
		return err
	}

	return NewError(op, classifyKind(err), err)
}

func classifyKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindUnavailable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnavailable
	}

	return KindUnknown
}

// FromStatus maps an HTTP status code returned by a collaborator to a Kind.
func FromStatus(code int) Kind {
	switch {
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return KindInvalidInput
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindServerError
	default:
		return KindUnknown
	}
}
