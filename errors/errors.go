// Package errors provides error handling for nexus.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Error marks, so a wrapped error still answers errors.Is for its kind
//
// It also defines the error taxonomy shared by the ledger, the runner and the
// orchestrator API. Every error that crosses a package boundary is either one of
// the sentinels below or wraps one of them.
//
// Usage:
//
//	if err := store.UpdateEngineStatus(ctx, name, ledger.StatusActive); err != nil {
//	    return errors.Wrap(err, "activate engine")
//	}
//
//	if errors.Is(err, errors.ErrAlreadyRunning) {
//	    // someone else holds the engine
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Error taxonomy. Use these with errors.Is().
var (
	// ErrNotFound indicates the requested engine, action or record does not exist
	ErrNotFound = New("not found")

	// ErrUnknownAction is returned by the orchestrator for an action name outside
	// the closed action table. Also matches ErrNotFound.
	ErrUnknownAction = New("unknown action")

	// ErrUnknownEngine is returned when no capability is registered under a name.
	// Also matches ErrNotFound.
	ErrUnknownEngine = New("unknown engine")

	// ErrAlreadyRunning indicates the engine's execution slot is held
	ErrAlreadyRunning = New("engine already running")

	// ErrTimeout indicates a deadline was exceeded
	ErrTimeout = New("operation timed out")

	// ErrEngineExecution wraps any failure raised by a capability
	ErrEngineExecution = New("engine execution failed")

	// ErrEngineFailed indicates the engine is in failed status and must be reset
	ErrEngineFailed = New("engine is failed")

	// ErrValidation indicates malformed or missing input
	ErrValidation = New("validation failed")

	// ErrStorage indicates a persistence layer failure
	ErrStorage = New("storage failure")
)

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewUnknownEngineError reports an unregistered engine name
func NewUnknownEngineError(name string) error {
	return Mark(Wrapf(ErrUnknownEngine, "%q", name), ErrNotFound)
}

// NewUnknownActionError reports an action outside the action table, echoing its name
func NewUnknownActionError(action string) error {
	return Mark(Wrapf(ErrUnknownAction, "%q", action), ErrNotFound)
}

// NewValidationError creates a validation error naming the offending field
func NewValidationError(field, format string, args ...interface{}) error {
	msg := Newf(format, args...).Error()
	if field != "" {
		msg = field + ": " + msg
	}
	return Wrap(ErrValidation, msg)
}

// WrapStorage marks err as a storage failure, keeping the cause for logs
func WrapStorage(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrStorage)
}

// WrapEngineExecution marks a capability failure
func WrapEngineExecution(err error, engine string) error {
	return Mark(Wrapf(err, "engine %q", engine), ErrEngineExecution)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidationError checks if an error is or wraps ErrValidation
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsStorageError checks if an error is or wraps ErrStorage
func IsStorageError(err error) bool {
	return err != nil && Is(err, ErrStorage)
}
