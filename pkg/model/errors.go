package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the trace API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a VALIDATION_ERROR APIError.
func NewValidationError(msg string) *APIError {
	return &APIError{Code: ErrValidation, Message: msg}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// Resource exhaustion. Returned to the caller of Spawn, never fatal.
var (
	ErrNoMemory = errors.New("no memory for thread control block")
	ErrNoID     = errors.New("thread ids exhausted")
)

// Caller mistakes. Returned, never fatal.
var (
	ErrInvalidPriority = errors.New("priority out of range")
	ErrInvalidNice     = errors.New("nice out of range")
	ErrMLFQSActive     = errors.New("priority is computed by the feedback-queue scheduler")
)

// Invariant violations. These are carried by an InvariantError panic.
var (
	ErrStackOverflow     = errors.New("stack overflow: thread magic corrupted")
	ErrInvalidTransition = errors.New("invalid thread state transition")
	ErrNotBlocked        = errors.New("thread is not blocked")
	ErrInterruptsOn      = errors.New("interrupts must be disabled")
	ErrInterruptContext  = errors.New("operation not allowed in interrupt context")
	ErrQueueMembership   = errors.New("thread already linked into a queue")
	ErrDonationCycle     = errors.New("donation chain does not terminate")
	ErrHeldLocks         = errors.New("exiting thread still has donors")
	ErrLockNotHeld       = errors.New("lock not held by current thread")
	ErrLockRecursive     = errors.New("lock already held by current thread")
	ErrUnknownThread     = errors.New("thread not registered")
)

// InvariantError reports a violated kernel invariant. It is raised with
// panic; continuing would corrupt scheduler state.
type InvariantError struct {
	Op       string
	ThreadID int
	Err      error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("kernel panic in %s (thread %d): %v", e.Op, e.ThreadID, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
