package sqlbulk

import (
	"errors"
	"fmt"

	"github.com/roach88/sqlbulk/internal/correlate"
	"github.com/roach88/sqlbulk/internal/schema"
)

// Error is returned by every bulk operation that fails.
//
// Error carries structured fields for diagnostics:
//   - Code: the failure category
//   - Op: the operation ("create", "create-and-return", "select", "update", "delete")
//   - Entity: the Go type name of the entity
//   - Err: the underlying cause, possibly joined with cleanup failures
type Error struct {
	Code   Code
	Op     string
	Entity string
	Err    error
}

// Code categorizes bulk operation failures.
type Code string

const (
	// CodeSchemaResolution indicates an entity, property or relation could not be resolved.
	CodeSchemaResolution Code = "SCHEMA_RESOLUTION"

	// CodeCorrelation indicates the match object shares no usable field with the entity.
	CodeCorrelation Code = "CORRELATION"

	// CodeTransientWriteConflict indicates the attempt budget was spent on deadlocks
	// or serialization failures.
	CodeTransientWriteConflict Code = "TRANSIENT_WRITE_CONFLICT"

	// CodeBulkOperation indicates any other store failure, including staging cleanup.
	CodeBulkOperation Code = "BULK_OPERATION"
)

type sentinel Code

func (s sentinel) Error() string { return string(s) }

// Sentinels for errors.Is.
var (
	ErrSchemaResolution       error = sentinel(CodeSchemaResolution)
	ErrCorrelation            error = sentinel(CodeCorrelation)
	ErrTransientWriteConflict error = sentinel(CodeTransientWriteConflict)
	ErrBulkOperation          error = sentinel(CodeBulkOperation)
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("bulk %s %s: %s: %v", e.Op, e.Entity, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's code.
func (e *Error) Is(target error) bool {
	s, ok := target.(sentinel)
	return ok && Code(s) == e.Code
}

// IsSchemaResolution returns true if err is a schema resolution failure.
// Uses errors.As to handle wrapped errors.
func IsSchemaResolution(err error) bool { return hasCode(err, CodeSchemaResolution) }

// IsCorrelation returns true if err is a correlation failure.
func IsCorrelation(err error) bool { return hasCode(err, CodeCorrelation) }

// IsTransientWriteConflict returns true if retries were exhausted on transient conflicts.
func IsTransientWriteConflict(err error) bool { return hasCode(err, CodeTransientWriteConflict) }

// IsBulkOperation returns true if err is a general bulk operation failure.
func IsBulkOperation(err error) bool { return hasCode(err, CodeBulkOperation) }

func hasCode(err error, code Code) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// classify picks the code for a primary failure.
func (r *Repository) classify(err error) Code {
	var re *schema.ResolutionError
	if errors.As(err, &re) {
		return CodeSchemaResolution
	}
	var ce *correlate.Error
	if errors.As(err, &ce) {
		return CodeCorrelation
	}
	if r.retry.Transient(err) {
		return CodeTransientWriteConflict
	}
	return CodeBulkOperation
}

// finish folds the primary error and any cleanup errors into one *Error.
// A clean run with failed cleanup is still a failure.
func (r *Repository) finish(op, entity string, primary error, cleanup ...error) error {
	cleanupErr := errors.Join(cleanup...)
	switch {
	case primary == nil && cleanupErr == nil:
		return nil
	case primary == nil:
		r.log.Error("staging cleanup failed", "op", op, "entity", entity, "err", cleanupErr)
		return &Error{Code: CodeBulkOperation, Op: op, Entity: entity, Err: cleanupErr}
	}

	code := r.classify(primary)
	if cleanupErr != nil {
		r.log.Error("staging cleanup failed", "op", op, "entity", entity, "err", cleanupErr)
		primary = errors.Join(primary, cleanupErr)
	}
	return &Error{Code: code, Op: op, Entity: entity, Err: primary}
}
