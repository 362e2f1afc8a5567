package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a lookup by key yields no visible row.
	ErrNotFound = errors.New("innkeeper: entity not found")

	// ErrConcurrencyConflict is returned when a write presents a stale concurrency token.
	ErrConcurrencyConflict = errors.New("innkeeper: entity was modified concurrently")

	// ErrIntegrity is returned when a foreign-key or flush-ordering rule is violated.
	ErrIntegrity = errors.New("innkeeper: integrity violation")

	// ErrValidation is returned when a value fails its construction rule.
	ErrValidation = errors.New("innkeeper: validation failed")

	// ErrConversion is returned when a stored primitive cannot be decoded.
	ErrConversion = errors.New("innkeeper: stored value cannot be converted")

	// ErrSessionClosed is returned by any session operation after Close.
	ErrSessionClosed = errors.New("innkeeper: session is closed")

	// ErrNotTracked is returned when an operation needs a tracked entity.
	ErrNotTracked = errors.New("innkeeper: entity is not tracked")

	// ErrAlreadyTracked is returned when adding an identity that is already tracked.
	ErrAlreadyTracked = errors.New("innkeeper: entity is already tracked")

	// ErrUnknownKind is returned when no descriptor matches a kind or Go type.
	ErrUnknownKind = errors.New("innkeeper: unknown entity kind")

	// ErrScopeUnsupported is returned by backends that cannot span several flushes in one transaction.
	ErrScopeUnsupported = errors.New("innkeeper: transactional scopes are not supported by this backend")

	// ErrScopeDone is returned when a scope is used after commit or rollback.
	ErrScopeDone = errors.New("innkeeper: scope already finished")
)

// ValidationError reports a value that violates its construction rule.
type ValidationError struct {
	Kind  string
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return withContext(causeOf(e.Err, "invalid value"), "kind", e.Kind, "field", e.Field)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(kind, field string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Value: value, Err: fmt.Errorf(format, args...)}
}

// ConversionError reports a stored primitive that cannot become a domain value.
type ConversionError struct {
	Kind   string
	Column string
	Value  any
	Err    error
}

func (e *ConversionError) Error() string {
	return withContext(causeOf(e.Err, "cannot convert"), "kind", e.Kind, "column", e.Column,
		"value", fmt.Sprint(e.Value))
}

func (e *ConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConversion}
	}
	return []error{ErrConversion, e.Err}
}

// ConflictError reports a write whose concurrency token no longer matched.
type ConflictError struct {
	Kind   string
	Key    any
	Entity any
}

func (e *ConflictError) Error() string {
	return withContext(ErrConcurrencyConflict.Error(), "kind", e.Kind, "key", fmt.Sprint(e.Key))
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// IntegrityError reports a referential or ordering violation during a flush.
type IntegrityError struct {
	Kind   string
	Key    any
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	msg := ErrIntegrity.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return withContext(msg, "kind", e.Kind, "key", keyString(e.Key))
}

func (e *IntegrityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIntegrity}
	}
	return []error{ErrIntegrity, e.Err}
}

// NotFoundError reports a lookup that yielded no visible row.
type NotFoundError struct {
	Kind string
	Key  any
}

func (e *NotFoundError) Error() string {
	return withContext(ErrNotFound.Error(), "kind", e.Kind, "key", keyString(e.Key))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func causeOf(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

func keyString(k any) string {
	if k == nil {
		return ""
	}
	return fmt.Sprint(k)
}

// withContext appends "(k=v k=v)" for the non-empty pairs.
func withContext(msg string, kv ...string) string {
	var parts []string
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			parts = append(parts, kv[i]+"="+kv[i+1])
		}
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + " (" + strings.Join(parts, " ") + ")"
}
