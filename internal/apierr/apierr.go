// Package apierr gives every component a common vocabulary for the
// tagged error kinds the control plane and job runtime both need to
// classify: which errors are retryable, which are terminal, and which
// HTTP status a kind maps to.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
	KindRestricted          Kind = "restricted"
	KindAlreadyRunning      Kind = "already_running"
	KindSkipped             Kind = "skipped"
	KindExternalUnavailable Kind = "external_unavailable"
	KindRateLimited         Kind = "rate_limited"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

// Error is a classified error. JobID is set for already_running; Reason
// is set for skipped.
type Error struct {
	Kind   Kind
	Msg    string
	JobID  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func AlreadyRunning(jobID string) *Error {
	return &Error{Kind: KindAlreadyRunning, Msg: "job already running", JobID: jobID}
}

func Skipped(reason string) *Error {
	return &Error{Kind: KindSkipped, Msg: "skipped", Reason: reason}
}

func Restricted(reason string) *Error {
	return &Error{Kind: KindRestricted, Msg: reason}
}

// KindOf extracts the classified kind from err, defaulting to internal
// for plain errors that were never tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether a job handler should retry (vs failing terminally).
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindExternalUnavailable, KindRateLimited, KindInternal:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the control plane's HTTP status, per the
// propagation policy: 400 invalid_input, 403 restricted, 404 not_found,
// 409 already_running, 503 external_unavailable/rate_limited after
// exhausted retries, 500 internal.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindRestricted:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyRunning:
		return http.StatusConflict
	case KindExternalUnavailable, KindRateLimited:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
