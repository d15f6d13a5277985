package deploy

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestration failures for API mapping.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindQuota      ErrorKind = "quota_exceeded"
	KindConflict   ErrorKind = "conflict"
	KindDispatch   ErrorKind = "dispatch"
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
)

// Error is the structured failure creation and lifecycle calls return.
type Error struct {
	Kind    ErrorKind
	Message string
	// BlockingID names the active deployment causing a conflict.
	BlockingID string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func quotaError(err error) *Error {
	return &Error{Kind: KindQuota, Message: "deployment quota exceeded", Err: err}
}

func conflictError(blockingID string) *Error {
	return &Error{
		Kind:       KindConflict,
		Message:    fmt.Sprintf("an active deployment %s already exists for this environment", blockingID),
		BlockingID: blockingID,
	}
}

func dispatchError(err error) *Error {
	return &Error{Kind: KindDispatch, Message: "provider dispatch failed", Err: err}
}

func notFoundError(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func forbiddenError(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// AsError extracts a structured orchestration error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
