package models

import (
	"errors"
	"fmt"
)

var (
	ErrGestureNotActive        = errors.New("drag gesture is not active")
	ErrFlushInProgress         = errors.New("flush already in progress")
	ErrAppointmentsUnavailable = errors.New("appointments endpoint unavailable")
)

// ValidationError is returned for input rejected locally before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a queue entry or appointment that is not present.
type NotFoundError struct {
	Kind string
	ID   string
}

func NewNotFoundError(kind string, id any) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// SyncError wraps a failed flush. The pending log is left untouched.
type SyncError struct {
	Pending int
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %d pending changes: %v", e.Pending, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsSync(err error) bool {
	var target *SyncError
	return errors.As(err, &target)
}
