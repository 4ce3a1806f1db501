package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrNotFound        = "NOT_FOUND"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Progression error codes. Each guard produces exactly one of these.
const (
	ErrSnapshotMismatch = "SNAPSHOT_MISMATCH"
	ErrPolicyViolation  = "POLICY_VIOLATION"
	ErrTimeExpired      = "TIME_EXPIRED"
	ErrQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrOutcomeNotFound  = "OUTCOME_NOT_FOUND"
	ErrTerminalState    = "TERMINAL_STATE"
	ErrStorageFault     = "STORAGE_FAULT"
)

// ErrorEnvelope is the standard error response envelope.
// It implements the error interface.
type ErrorEnvelope struct {
	Code          string       `json:"code"`
	Message       string       `json:"message"`
	Details       []FieldError `json:"details,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	TraceID       string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewSnapshotMismatchError reports that the client acted on a stale status.
// Clients should refetch the current status and let the user retry.
func NewSnapshotMismatchError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSnapshotMismatch, Message: msg}
}

// NewPolicyViolationError returns a POLICY_VIOLATION error.
func NewPolicyViolationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPolicyViolation, Message: msg}
}

// NewTimeExpiredError returns a TIME_EXPIRED error.
func NewTimeExpiredError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTimeExpired,
		Message: "The discovery time for this exercise has expired",
	}
}

// NewQuotaExceededError returns a QUOTA_EXCEEDED error.
func NewQuotaExceededError(limit int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrQuotaExceeded,
		Message: fmt.Sprintf("The team has reached the limit of %d actions", limit),
	}
}

// NewOutcomeNotFoundError returns an OUTCOME_NOT_FOUND error.
func NewOutcomeNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrOutcomeNotFound, Message: msg}
}

// NewTerminalStateError returns a TERMINAL_STATE error.
func NewTerminalStateError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTerminalState,
		Message: "The problem is already solved; no further actions are accepted",
	}
}

// NewStorageFaultError returns a STORAGE_FAULT error. The details stay in the
// server log under correlationID; the caller only sees a generic message.
func NewStorageFaultError(correlationID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:          ErrStorageFault,
		Message:       "An unexpected error occurred",
		CorrelationID: correlationID,
	}
}

// IsCode reports whether err is an *ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	var ee *ErrorEnvelope
	return errors.As(err, &ee) && ee.Code == code
}
