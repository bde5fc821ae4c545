package domain

import (
	"errors"
	"fmt"
)

// ErrKind is the closed set of failure classifications surfaced to callers.
// The HTTP layer maps each kind to a status code; nothing outside this set
// crosses the API boundary.
type ErrKind string

const (
	ErrKindInvalidRequest   ErrKind = "invalid_request"
	ErrKindNotFound         ErrKind = "not_found"
	ErrKindCapacityExceeded ErrKind = "capacity_exceeded"
	ErrKindTimeout          ErrKind = "timeout"
	ErrKindCompile          ErrKind = "compile_error"
	ErrKindRuntime          ErrKind = "runtime_error"
	ErrKindAborted          ErrKind = "aborted"
	ErrKindInternal         ErrKind = "internal"
)

// ExecError carries a classification plus human-readable detail.
// It supports errors.Is against the kind sentinels below, so call sites
// can branch without unwrapping.
type ExecError struct {
	Kind   ErrKind
	Detail string
}

func (e *ExecError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is reports kind equality so errors.Is(err, domain.ErrTimeout) works on
// any ExecError regardless of detail.
func (e *ExecError) Is(target error) bool {
	var other *ExecError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewExecError builds a classified error with formatted detail.
func NewExecError(kind ErrKind, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Kind sentinels for errors.Is matching.
var (
	ErrInvalidRequest   = &ExecError{Kind: ErrKindInvalidRequest}
	ErrNotFound         = &ExecError{Kind: ErrKindNotFound}
	ErrCapacityExceeded = &ExecError{Kind: ErrKindCapacityExceeded}
	ErrTimeout          = &ExecError{Kind: ErrKindTimeout}
	ErrCompile          = &ExecError{Kind: ErrKindCompile}
	ErrRuntime          = &ExecError{Kind: ErrKindRuntime}
	ErrAborted          = &ExecError{Kind: ErrKindAborted}
	ErrInternal         = &ExecError{Kind: ErrKindInternal}
)

// KindOf extracts the classification from err, or ErrKindInternal when err
// carries no ExecError in its chain.
func KindOf(err error) ErrKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrKindInternal
}
