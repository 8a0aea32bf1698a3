package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidRequest is returned for malformed input. Never retried.
	ErrInvalidRequest = errors.New("scheduler: invalid request")
	// ErrResourceNotFound is returned when a request names an unknown resource.
	ErrResourceNotFound = errors.New("scheduler: resource not found")
	// ErrBookingNotFound is returned when a booking id is unknown.
	ErrBookingNotFound = errors.New("scheduler: booking not found")
	// ErrReservationNotFound is returned by IntervalIndex.Release for an absent entry.
	ErrReservationNotFound = errors.New("scheduler: reservation not found")
	// ErrAlreadyReserved is returned when a booking already occupies the resource.
	ErrAlreadyReserved = errors.New("scheduler: booking already reserved on resource")
	// ErrConflict marks an admission blocked by contention or availability.
	ErrConflict = errors.New("scheduler: conflict")
	// ErrLockTimeout is returned when resource locks cannot be acquired in time. Safe to retry.
	ErrLockTimeout = errors.New("scheduler: lock timeout")
	// ErrStaleVersion is returned when the caller's expected version is outdated.
	ErrStaleVersion = errors.New("scheduler: stale version")
	// ErrIllegalTransition is returned for a lifecycle move the state machine forbids.
	ErrIllegalTransition = errors.New("scheduler: illegal transition")
)

// ValidationError captures field level problems with a request.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return ErrInvalidRequest.Error()
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return ErrInvalidRequest.Error() + ": " + strings.Join(parts, "; ")
}

// Is matches ErrInvalidRequest.
func (v *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; exists {
		return
	}
	v.FieldErrors[field] = message
}

// ResourceNotFoundError names the unknown resource.
type ResourceNotFoundError struct {
	ResourceID string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrResourceNotFound, e.ResourceID)
}

// Is matches ErrResourceNotFound.
func (e *ResourceNotFoundError) Is(target error) bool {
	return target == ErrResourceNotFound
}

// ConflictError carries the report explaining a refused reservation.
type ConflictError struct {
	Report ConflictReport
}

func (e *ConflictError) Error() string {
	if e == nil || e.Report.Clear() {
		return ErrConflict.Error()
	}
	parts := make([]string, 0, len(e.Report.Conflicts))
	for _, c := range e.Report.Conflicts {
		parts = append(parts, fmt.Sprintf("%s %s", c.ResourceID, c.Kind))
	}
	return ErrConflict.Error() + ": " + strings.Join(parts, ", ")
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StaleVersionError reports an optimistic concurrency mismatch.
type StaleVersionError struct {
	BookingID string
	Expected  int64
	Current   int64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("%s: booking %s expected version %d, current %d", ErrStaleVersion, e.BookingID, e.Expected, e.Current)
}

// Is matches ErrStaleVersion.
func (e *StaleVersionError) Is(target error) bool {
	return target == ErrStaleVersion
}

// IllegalTransitionError reports a forbidden lifecycle move. Reason, when
// set, is the guard error that blocked an otherwise legal transition.
type IllegalTransitionError struct {
	BookingID string
	From      Status
	To        Status
	Action    string
	Reason    error
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("%s: booking %s", ErrIllegalTransition, e.BookingID)
	if e.Action != "" {
		msg += fmt.Sprintf(" cannot %s while %s", e.Action, e.From)
	} else {
		msg += fmt.Sprintf(" cannot move from %s to %s", e.From, e.To)
	}
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

// Is matches ErrIllegalTransition.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Unwrap exposes the guard error, if any.
func (e *IllegalTransitionError) Unwrap() error {
	return e.Reason
}
