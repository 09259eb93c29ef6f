// Package services defines the business logic of the call archive: webhook
// ingestion, idempotent admission, email dispatch, alerting, and the admin
// read surface. This file centralizes the service-level error values so they
// can be returned consistently by service methods and checked by callers.
//
// Translation into HTTP status codes is performed at the handler layer:
//   - ErrValidation         → 400, no side effects
//   - ErrTransient          → 503, the event source is expected to retry
//   - ErrCallNotFound       → 404
//   - ErrUnknownTemplate    → 400 on the admin surface, audit row on dispatch
//   - ErrPermanentDispatch  → audit row only, never caller-facing
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks a storage failure the caller may retry.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrPermanentDispatch is returned when a dispatch cannot succeed on
	// retry (invalid recipient, rejected by the relay, broken template).
	ErrPermanentDispatch = errors.New("permanent dispatch failure")

	// ErrUnknownTemplate is returned for an email type outside the known set.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrCallNotFound indicates that no record exists for the call id.
	ErrCallNotFound = errors.New("call not found")
)

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// transient wraps a storage error so handlers report it as retryable.
func transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
