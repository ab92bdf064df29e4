// Package autherr defines the closed set of failure kinds produced by key
// issuance, token validation and rate limiting, and their HTTP mapping.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an authentication failure.
type Kind int

const (
	Internal Kind = iota
	InvalidRequest
	InvalidFormat
	ChecksumMismatch
	KeyNotFound
	KeyInactive
	KeyExpired
	InvalidSignature
	TokenExpired
	TokenRevoked
	RateLimitExceeded
	StoreUnavailable
	NotFound
)

var kindNames = map[Kind]string{
	Internal:          "Internal",
	InvalidRequest:    "InvalidRequest",
	InvalidFormat:     "InvalidFormat",
	ChecksumMismatch:  "ChecksumMismatch",
	KeyNotFound:       "KeyNotFound",
	KeyInactive:       "KeyInactive",
	KeyExpired:        "KeyExpired",
	InvalidSignature:  "InvalidSignature",
	TokenExpired:      "TokenExpired",
	TokenRevoked:      "TokenRevoked",
	RateLimitExceeded: "RateLimitExceeded",
	StoreUnavailable:  "StoreUnavailable",
	NotFound:          "NotFound",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HTTPStatus returns the status code a transport should answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidRequest, InvalidFormat, ChecksumMismatch, InvalidSignature:
		return http.StatusBadRequest
	case KeyNotFound, KeyInactive, KeyExpired, TokenExpired, TokenRevoked:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case RateLimitExceeded:
		return http.StatusTooManyRequests
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type returned across the auth packages.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Populated for RateLimitExceeded only.
	Category  string
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, autherr.New(autherr.KeyExpired, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// RateLimited builds a RateLimitExceeded error carrying the quota details.
func RateLimited(category string, limit, remaining int, resetIn time.Duration) *Error {
	return &Error{
		Kind:      RateLimitExceeded,
		Message:   fmt.Sprintf("rate limit exceeded for %s", category),
		Category:  category,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// KindOf extracts the Kind of err. Errors that are not *Error report Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
