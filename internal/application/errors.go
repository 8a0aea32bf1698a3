package application

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a resource id is already registered.
	ErrAlreadyExists = errors.New("application: already exists")
)

// ValidationError maps request fields to the first problem found with each.
type ValidationError struct {
	FieldErrors map[string]string
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

// Error lists the offending fields in sorted order.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(v.Fields(), ", ")
}

// Fields returns the offending field names, sorted.
func (v *ValidationError) Fields() []string {
	if v == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(v.FieldErrors))
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// asError returns v as an error, or a true nil when nothing was recorded.
func (v *ValidationError) asError() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

// add records message for field unless the field already has one.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; !exists {
		v.FieldErrors[field] = message
	}
}

func (v *ValidationError) addf(field, format string, args ...any) {
	v.add(field, fmt.Sprintf(format, args...))
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if !other.HasErrors() {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}
