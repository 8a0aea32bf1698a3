package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/logging"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	return logging.Scoped(ctx, base, "service", serviceName, operation, attrs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
// The same labels are used for metrics.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound), errors.Is(err, scheduler.ErrBookingNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, checklist.ErrIncomplete):
		return "checklist_incomplete"
	case errors.Is(err, checklist.ErrOutOfOrder):
		return "checklist_out_of_order"
	case errors.Is(err, checklist.ErrInvalidPhase):
		return "invalid_request"
	case errors.Is(err, scheduler.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, scheduler.ErrResourceNotFound):
		return "resource_not_found"
	case errors.Is(err, scheduler.ErrConflict):
		return "conflict"
	case errors.Is(err, scheduler.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, scheduler.ErrStaleVersion):
		return "stale_version"
	case errors.Is(err, scheduler.ErrIllegalTransition):
		return "illegal_transition"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
