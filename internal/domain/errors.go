package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches any *ValidationError through errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound matches any *NotFoundError through errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an order status change would break
	// the order state machine.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrEscalationThresholdReached marks the cycle that crossed the error budget.
	ErrEscalationThresholdReached = errors.New("escalation threshold reached")
)

// ValidationError reports bad input to a registry operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown bot or order id.
type NotFoundError struct {
	Kind string // "bot" | "order"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ProtocolErrorKind classifies trading protocol failures.
type ProtocolErrorKind string

const (
	ProtocolTransient ProtocolErrorKind = "transient" // network, timeout, 5xx
	ProtocolRejection ProtocolErrorKind = "rejection" // remote refused the request
	ProtocolAuth      ProtocolErrorKind = "auth"
)

// ProtocolError wraps a failed trading client call.
type ProtocolError struct {
	Op   string
	Kind ProtocolErrorKind
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a transient protocol failure.
func IsTransient(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Kind == ProtocolTransient
}

// IsRejection reports whether err carries an explicit remote rejection.
func IsRejection(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Kind == ProtocolRejection
}

// IsAuth reports whether err carries an authentication failure.
func IsAuth(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Kind == ProtocolAuth
}
