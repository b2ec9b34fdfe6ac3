package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between deferring, recording and retrying.
type Kind string

const (
	KindDataUnavailable   Kind = "DataUnavailable"
	KindValidation        Kind = "ValidationFailure"
	KindRiskLimitExceeded Kind = "RiskLimitExceeded"
	KindExchange          Kind = "ExchangeError"
	KindAIService         Kind = "AIServiceFailure"
	KindStorage           Kind = "StorageError"
)

// Error is the typed error carried through the pipeline.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// New builds an error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller's retry loop should try again.
// Only exchange failures are transient; everything else is a decision.
func Retryable(err error) bool {
	return Is(err, KindExchange)
}
