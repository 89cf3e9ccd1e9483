// Package errors provides error handling for gbvm.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Error marks so domain failures survive wrapping
//
// Usage:
//
//	// Wrap with context
//	if err := readSource(path); err != nil {
//	    return errors.Wrapf(err, "failed to read %s", path)
//	}
//
//	// Classify a load failure without losing its cause
//	return errors.Mark(errors.Wrap(err, "include"), errors.ErrSourceResolution)
//
//	// Check errors
//	if errors.Is(err, errors.ErrResourceLimitExceeded) {
//	    // script too expensive, not a script bug
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

	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

// Stack traces
var (
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// Common sentinel errors for use across gbvm.
// Use these with errors.Is() for type-safe error checking.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// Script pipeline failure classes.
//
// Load-time classes (source resolution, compile, schedule) are isolated to
// the script that raised them. Execution-time classes are returned from
// the dispatcher as structured failures.
var (
	// ErrSourceResolution marks a missing include target or an unreadable source document
	ErrSourceResolution = New("source resolution failed")

	// ErrCompile marks a native compiler failure on an assembled script
	ErrCompile = New("compile failed")

	// ErrSchedule marks a malformed SET SCHEDULE directive
	ErrSchedule = New("malformed schedule directive")

	// ErrScriptRuntime is the single failure kind surfaced by script execution
	ErrScriptRuntime = New("script runtime error")

	// ErrResourceLimitExceeded is the runtime failure subtype for pooled quota breaches
	ErrResourceLimitExceeded = Wrap(ErrScriptRuntime, "resource limit exceeded")

	// ErrNoArtifact is the dispatcher precondition failure for unknown script names
	ErrNoArtifact = New("no compiled artifact")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsLoadError reports whether err belongs to one of the per-script load failure classes
func IsLoadError(err error) bool {
	return err != nil && IsAny(err, ErrSourceResolution, ErrCompile, ErrSchedule)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
