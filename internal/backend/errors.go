package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKind classifies a backend failure for the rest of the desk. Transient
// failures are retried automatically, conflicts force a re-fetch,
// authorization failures hide the offending action, validation failures are
// fixed locally before retry.
type ErrKind string

const (
	KindTransient     ErrKind = "transient"
	KindConflict      ErrKind = "conflict"
	KindAuthorization ErrKind = "authorization"
	KindValidation    ErrKind = "validation"
)

// Error is the only error shape that leaves this package for HTTP-level
// failures. Raw transport errors are wrapped as transient.
type Error struct {
	Kind    ErrKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Kind, e.Message)
}

// KindOf extracts the classification from any error returned by this
// package. Anything unclassified is treated as transient: network-level
// failures must never look fatal to callers.
func KindOf(err error) ErrKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindTransient
}

func classify(status int, message string) *Error {
	kind := KindTransient
	switch {
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuthorization
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity:
		kind = KindValidation
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Status: status, Message: message}
}

func transient(err error) *Error {
	return &Error{Kind: KindTransient, Message: err.Error()}
}
