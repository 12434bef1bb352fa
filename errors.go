package cask

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERROR CODES
// =============================================================================

const (
	// CodeUnresolvedService indicates a key has no registration and cannot be auto-wired
	CodeUnresolvedService = "UNRESOLVED_SERVICE"

	// CodeAmbiguousRegistration indicates multiple candidates and no rule to pick one
	CodeAmbiguousRegistration = "AMBIGUOUS_REGISTRATION"

	// CodeCyclicDependency indicates a dependency cycle was detected during planning
	CodeCyclicDependency = "CYCLIC_DEPENDENCY"

	// CodeScopeMismatch indicates a scoped service was requested outside a matching scope
	CodeScopeMismatch = "SCOPE_MISMATCH"

	// CodeClosedScope indicates an operation on a closed scope or container
	CodeClosedScope = "CLOSED_SCOPE"

	// CodeConstructorSelection indicates a usable factory or constructible type could not be determined
	CodeConstructorSelection = "CONSTRUCTOR_SELECTION"

	// CodeInvalidRegistration indicates a registration that can never be satisfied
	CodeInvalidRegistration = "INVALID_REGISTRATION"

	// CodeDisposal indicates a teardown callback failed during scope close
	CodeDisposal = "DISPOSAL"
)

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the structured error produced by every engine operation. It carries
// a stable machine-readable code, a human-readable message, an optional cause,
// and a context map with the offending key, chain, or candidate details.
type Error struct {
	Code    string
	Message string
	Cause   error

	context map[string]any
}

// NewError creates a structured error with the given code, message, and cause.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target shares this error's code, so sentinel values
// compare with errors.Is regardless of message or context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithContext attaches a key/value detail and returns the error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value

	return e
}

// Context returns the detail attached under key, if present.
func (e *Error) Context(key string) (any, bool) {
	v, ok := e.context[key]
	return v, ok
}

// CodeOf extracts the engine error code from err, or "" if err carries none.
func CodeOf(err error) string {
	var e *Error
	if AsError(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err (or any error it wraps) carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// AsError finds the first *Error in err's chain, including chains aggregated
// from multiple teardown failures.
func AsError(err error, target **Error) bool {
	return errors.As(err, target)
}

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

// ErrScopeClosed is returned when operations are attempted on a closed scope.
var ErrScopeClosed = NewError(CodeClosedScope, "scope is closed", nil)

// ErrContainerClosed is returned when operations are attempted on a closed container.
var ErrContainerClosed = NewError(CodeClosedScope, "container is closed", nil)

// ErrNilFactory is returned when a nil factory is registered.
var ErrNilFactory = NewError(CodeInvalidRegistration, "factory cannot be nil", nil)

// ErrNotFoundSentinel is a sentinel for unresolved-service checks with errors.Is.
var ErrNotFoundSentinel = NewError(CodeUnresolvedService, "service not resolved", nil)

// ErrCycleSentinel is a sentinel for cyclic-dependency checks with errors.Is.
var ErrCycleSentinel = NewError(CodeCyclicDependency, "cyclic dependency", nil)

// =============================================================================
// ERROR CONSTRUCTORS
// =============================================================================

// ErrUnresolvedService creates an error for a key with no usable registration.
func ErrUnresolvedService(key Key) *Error {
	return NewError(
		CodeUnresolvedService,
		fmt.Sprintf("no registration for %s", key),
		nil,
	).WithContext("key", key.String())
}

// ErrUnresolvedDependency creates an error for a missing nested dependency.
func ErrUnresolvedDependency(key, requiredBy Key) *Error {
	return NewError(
		CodeUnresolvedService,
		fmt.Sprintf("no registration for %s (required by %s)", key, requiredBy),
		nil,
	).WithContext("key", key.String()).
		WithContext("required_by", requiredBy.String())
}

// ErrAmbiguousRegistration creates an error for a key with multiple equally
// eligible candidates and no selection rule.
func ErrAmbiguousRegistration(key Key, candidates int) *Error {
	return NewError(
		CodeAmbiguousRegistration,
		fmt.Sprintf("%d candidates for %s and no selection rule", candidates, key),
		nil,
	).WithContext("key", key.String()).
		WithContext("candidates", candidates)
}

// ErrCyclicDependency creates an error naming the full dependency cycle.
func ErrCyclicDependency(chain []Key) *Error {
	names := make([]string, len(chain))
	for i, k := range chain {
		names[i] = k.String()
	}
	return NewError(
		CodeCyclicDependency,
		fmt.Sprintf("cyclic dependency: %s", strings.Join(names, " -> ")),
		nil,
	).WithContext("chain", names)
}

// ErrScopeMismatch creates an error for a scoped service resolved from a
// scope with no matching ancestor.
func ErrScopeMismatch(key Key, scopeName string) *Error {
	return NewError(
		CodeScopeMismatch,
		fmt.Sprintf("%s requires an ancestor scope named '%s'", key, scopeName),
		nil,
	).WithContext("key", key.String()).
		WithContext("scope", scopeName)
}

// ErrScopedOnRoot creates an error for a scope-bound service resolved from the root.
func ErrScopedOnRoot(key Key) *Error {
	return NewError(
		CodeScopeMismatch,
		fmt.Sprintf("%s is scope-bound and cannot be resolved from the root scope", key),
		nil,
	).WithContext("key", key.String())
}

// ErrConstructorSelection creates an error for a factory or type the engine
// cannot turn into a construction recipe.
func ErrConstructorSelection(key Key, reason string) *Error {
	return NewError(
		CodeConstructorSelection,
		fmt.Sprintf("cannot construct %s: %s", key, reason),
		nil,
	).WithContext("key", key.String()).
		WithContext("reason", reason)
}

// ErrInvalidRegistration creates an error for a registration rejected up front.
func ErrInvalidRegistration(reason string) *Error {
	return NewError(
		CodeInvalidRegistration,
		fmt.Sprintf("invalid registration: %s", reason),
		nil,
	).WithContext("reason", reason)
}

// ErrDisposal wraps a teardown failure with the key whose teardown failed.
func ErrDisposal(key Key, cause error) *Error {
	return NewError(
		CodeDisposal,
		fmt.Sprintf("disposing %s", key),
		cause,
	).WithContext("key", key.String())
}
