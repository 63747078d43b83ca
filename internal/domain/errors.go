package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can decide whether a
// retry is safe and the HTTP layer can pick a status code.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindPreconditionFailed
	KindConcurrencyConflict
	KindNotFound
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    ErrorKind
	Code    string // stable machine-readable reason, e.g. "bid_too_low"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NewPrecondition(code, message string) *Error {
	return &Error{Kind: KindPreconditionFailed, Code: code, Message: message}
}

func NewConflict(code, message string, err error) *Error {
	return &Error{Kind: KindConcurrencyConflict, Code: code, Message: message, Err: err}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func NewUnauthorized(code, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message}
}

// KindOf returns the kind of err, or 0 when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// CodeOf returns the stable reason code of err, or "" for foreign errors.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
