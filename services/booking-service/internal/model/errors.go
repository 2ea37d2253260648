package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotUnavailable is returned when a requested interval is no longer
	// free at confirmation time. Callers must fetch fresh slots.
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrNotFound        = errors.New("not found")
	// ErrInvalidTransition is returned for status changes the appointment
	// lifecycle does not allow (e.g. cancelling a completed appointment).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports malformed input. Nothing is applied when it is
// returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransientError wraps storage timeouts and unavailability. Reads may be
// retried by the caller; booking writes must be re-validated first.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var t *TransientError
	if errors.As(err, &t) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
