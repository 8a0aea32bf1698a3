package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a record with the same key already exists.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrVersionConflict is returned by compare-and-set updates whose expected
	// version no longer matches the stored row.
	ErrVersionConflict = errors.New("persistence: version conflict")
	// ErrConstraintViolation is returned when a write violates a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
)
