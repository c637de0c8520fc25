package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
// Values are part of the HTTP contract; keep them stable.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindBelowFloorRate       Kind = "below_floor_rate"
	KindAlreadyImpersonating Kind = "already_impersonating"
	KindNotImpersonating     Kind = "not_impersonating"
	KindRateNotConfigured    Kind = "rate_not_configured"
	KindInsufficientContext  Kind = "insufficient_context"
	KindInvalidArgument      Kind = "invalid_argument"
	KindInsufficientCredits  Kind = "insufficient_credits"
)

// Sentinels for errors.Is matching against a kind.
var (
	NotFound             = &Error{Kind: KindNotFound}
	Forbidden            = &Error{Kind: KindForbidden}
	BelowFloorRate       = &Error{Kind: KindBelowFloorRate}
	AlreadyImpersonating = &Error{Kind: KindAlreadyImpersonating}
	NotImpersonating     = &Error{Kind: KindNotImpersonating}
	RateNotConfigured    = &Error{Kind: KindRateNotConfigured}
	InsufficientContext  = &Error{Kind: KindInsufficientContext}
	InvalidArgument      = &Error{Kind: KindInvalidArgument}
	InsufficientCredits  = &Error{Kind: KindInsufficientCredits}
)

// Error carries a Kind, a human-readable message naming the violated
// constraint, and optional structured details for the caller.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any *Error with the same Kind, so errors.Is(err, apperr.Forbidden)
// holds for every forbidden error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key, value string) *Error {
	out := &Error{Kind: e.Kind, Message: e.Message, Details: make(map[string]string, len(e.Details)+1)}
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return out
}

// KindOf extracts the Kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
