// Package errors defines the typed error taxonomy shared by every store and
// pipeline component: a stable code, a one-line human message, and an
// optional wrapped cause.
package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-checkable error classification.
type Code string

const (
	CodeValidation            Code = "ValidationError"
	CodeNotFound              Code = "NotFound"
	CodeForeignKeyMissing     Code = "ForeignKeyMissing"
	CodeTypeConflict          Code = "TypeConflict"
	CodeDependencyUnavailable Code = "DependencyUnavailable"
	CodeQueueOverflow         Code = "QueueOverflow"
	CodeCircuitOpen           Code = "CircuitOpen"
	CodeTimeout               Code = "TimeoutError"
	CodeIntegrity             Code = "IntegrityError"
	CodeEmbeddingUnavailable  Code = "EmbeddingUnavailable"
	CodeRestoreTokenInvalid   Code = "RestoreTokenInvalid"
	CodeRestoreTokenExpired   Code = "RestoreTokenExpired"
	CodeRestoreTokenRequired  Code = "RestoreTokenRequired"
	CodeRestoreApprovalReq    Code = "RestoreApprovalRequired"
	CodeRestoreValidationFail Code = "RestoreValidationFailed"
	CodeRestoreIntegrityFail Code = "RestoreIntegrityFailed"
	CodeMaintenanceOperation Code = "MaintenanceOperationError"
)

// Error is the typed error carried across every public operation in the
// engine. Component/stage are optional orchestration hints consumed by
// MaintenanceOperationError wrapping.
type Error struct {
	Code      Code
	Message   string
	Component string
	Stage     string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Code sentinel created via New.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error wrapping an existing error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithComponent annotates the error with the component/stage it originated
// from, as required by MaintenanceOperationError's orchestration payload.
func (e *Error) WithComponent(component, stage string) *Error {
	cp := *e
	cp.Component = component
	cp.Stage = stage
	return &cp
}

// AsMaintenanceOperation wraps any typed error in a MaintenanceOperationError
// carrying {code, component, stage, cause} for orchestration callers.
func AsMaintenanceOperation(err error, component, stage string) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{
			Code:      CodeMaintenanceOperation,
			Message:   fmt.Sprintf("%s failed during %s", component, stage),
			Component: component,
			Stage:     stage,
			Cause:     inner,
		}
	}
	return &Error{
		Code:      CodeMaintenanceOperation,
		Message:   fmt.Sprintf("%s failed during %s", component, stage),
		Component: component,
		Stage:     stage,
		Cause:     err,
	}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
