package meta

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed catalog call. The split between retryable
// and terminal kinds is the contract the processor's retry budget relies
// on: only retryable kinds ever consume backoff.
type ErrorKind string

const (
	KindConfig     ErrorKind = "CONFIG_ERROR"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindValidation ErrorKind = "VALIDATION_ERROR"
	KindAuth       ErrorKind = "AUTH_ERROR"
	KindRateLimit  ErrorKind = "RATE_LIMIT"
	KindNetwork    ErrorKind = "NETWORK_ERROR"
	KindUnknown    ErrorKind = "UNKNOWN"
)

// Retryable reports whether the kind is worth another attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimit
}

// Error is the typed failure surfaced to callers of the client.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	// Retries is the number of retry attempts consumed before giving up.
	// Zero for terminal errors that failed fast.
	Retries int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("meta %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Retries > 0 {
		msg += fmt.Sprintf(" after %d retries", e.Retries)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, defaulting to UNKNOWN for foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

// kindForStatus maps an HTTP status to an error kind.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 404:
		return KindNotFound
	case code == 429:
		return KindRateLimit
	case code == 400 || code == 422:
		return KindValidation
	case code == 408 || code == 500 || code == 502 || code == 503 || code == 504:
		return KindNetwork
	default:
		return KindUnknown
	}
}
