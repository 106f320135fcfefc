// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// Commit errors
	ErrCommitFailed           = errors.New("durable commit failed")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "achievement", "ledger"
	Op      string // Operation that failed, e.g., "Award", "Revoke"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progression domain errors
var (
	ErrSubjectNotFound    = NewDomainError("progression", "Find", ErrNotFound, "subject not found")
	ErrInvalidSubjectID   = NewDomainError("progression", "Validate", ErrInvalidID, "invalid subject ID")
	ErrInvalidTaskID      = NewDomainError("progression", "Validate", ErrInvalidID, "invalid task ID")
	ErrInvalidItemType    = NewDomainError("progression", "Validate", ErrInvalidInput, "invalid item type")
	ErrInvalidXPAmount    = NewDomainError("progression", "Validate", ErrNegativeValue, "invalid XP amount")
	ErrInvalidEventReason = NewDomainError("progression", "Validate", ErrInvalidInput, "invalid event reason")
)

// Reward orchestration errors.
// DuplicateAward and RevokeNotFound are recognised conditions, not failures:
// the orchestrator treats both as silent no-ops.
var (
	ErrDuplicateAward = NewDomainError("reward", "Award", ErrAlreadyProcessed, "task already awarded")
	ErrRevokeNotFound = NewDomainError("reward", "Revoke", ErrNotFound, "no award found for task")
	ErrCommitFailure  = NewDomainError("reward", "Commit", ErrCommitFailed, "ledger commit rejected")
)

// Achievement domain errors
var (
	ErrAchievementNotFound        = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrAchievementAlreadyUnlocked = NewDomainError("achievement", "Unlock", ErrAlreadyExists, "achievement already unlocked")
	ErrUnknownAchievement         = NewDomainError("achievement", "Validate", ErrInvalidID, "unknown achievement id")
)

// Ledger store errors
var (
	ErrLedgerUnavailable = NewDomainError("ledger", "Commit", ErrServiceUnavailable, "ledger store is unavailable")
	ErrLedgerConflict    = NewDomainError("ledger", "Commit", ErrConcurrentModification, "ledger state changed underneath commit")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsCommitFailure checks if the error represents a rejected durable commit.
func IsCommitFailure(err error) bool {
	return errors.Is(err, ErrCommitFailed) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
