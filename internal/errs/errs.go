// Package errs defines the structured error taxonomy for the venue engine.
// Every error carries a machine-readable kind and a human message; callers
// branch on the kind, transports map it to a wire code. Nothing is silently
// swallowed: wrapped causes stay reachable through errors.Is/As.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one class of failure.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindNoActiveSignal   Kind = "NO_ACTIVE_SIGNAL"
	KindSettlement       Kind = "SETTLEMENT_CONSISTENCY_ERROR"
	KindConflict         Kind = "CONCURRENCY_CONFLICT"
	KindUnavailable      Kind = "TEMPORARILY_UNAVAILABLE"
	KindWalletExists     Kind = "WALLET_ALREADY_EXISTS"
	KindNotFound         Kind = "NOT_FOUND"
	KindUnauthorized     Kind = "UNAUTHORIZED"
	KindTradingDisabled  Kind = "TRADING_DISABLED"
	KindInternal         Kind = "INTERNAL"
)

// Error is a structured error: kind + human message + optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two structured errors by kind, so sentinel-style checks like
// errors.Is(err, errs.New(errs.KindInsufficientFunds, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a structured error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or KindInternal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
