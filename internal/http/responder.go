package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jashmhtaaa/theatre-scheduler/internal/application"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

var (
	errBadRequestBody    = errors.New("request body is not valid JSON")
	errInvalidBookingID  = errors.New("booking id is required")
	errInvalidResourceID = errors.New("resource id is required")
	errMissingUserID     = errors.New("X-User-ID header is required")
	errRateLimited       = errors.New("too many requests")
)

// lockRetryAfter is the Retry-After hint, in seconds, sent on lock timeouts.
const lockRetryAfter = 1

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps the service and core error taxonomy onto HTTP
// status codes. The error_code field carries the stable error kind.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := application.ErrorKind(err)
	code := strings.ToUpper(kind)
	logger := r.loggerFor(ctx)

	var (
		appValidation  *application.ValidationError
		coreValidation *scheduler.ValidationError
		conflict       *scheduler.ConflictError
		stale          *scheduler.StaleVersionError
	)

	switch {
	case errors.Is(err, application.ErrUnauthorized):
		status := http.StatusForbidden
		if principal, ok := PrincipalFromContext(ctx); !ok || principal.UserID == "" {
			status = http.StatusUnauthorized
		}
		r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: http.StatusText(status)})
	case errors.As(err, &appValidation):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: code,
			Message:   "request has invalid fields",
			Errors:    appValidation.FieldErrors,
		})
	case errors.As(err, &coreValidation):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: code,
			Message:   "request has invalid fields",
			Errors:    coreValidation.FieldErrors,
		})
	case kind == "invalid_request":
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{ErrorCode: code, Message: err.Error()})
	case kind == "not_found", kind == "resource_not_found":
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: code, Message: err.Error()})
	case errors.As(err, &conflict):
		r.writeJSON(ctx, w, http.StatusConflict, decisionResponse{
			Admitted: false,
			Report:   toReportDTO(conflict.Report),
		})
	case kind == "already_exists", kind == "conflict":
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: code, Message: err.Error()})
	case kind == "lock_timeout":
		logger.WarnContext(ctx, "lock acquisition timed out", "error", err)
		w.Header().Set("Retry-After", strconv.Itoa(lockRetryAfter))
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: code, Message: "resources are busy, retry shortly"})
	case errors.As(err, &stale):
		r.writeJSON(ctx, w, http.StatusPreconditionFailed, staleVersionResponse{
			ErrorCode:       code,
			Message:         err.Error(),
			ExpectedVersion: stale.Expected,
			CurrentVersion:  stale.Current,
		})
	case kind == "illegal_transition", kind == "checklist_incomplete", kind == "checklist_out_of_order":
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: code, Message: err.Error()})
	default:
		logger.ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: "UNEXPECTED", Message: http.StatusText(http.StatusInternalServerError)})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type staleVersionResponse struct {
	ErrorCode       string `json:"error_code"`
	Message         string `json:"message"`
	ExpectedVersion int64  `json:"expected_version"`
	CurrentVersion  int64  `json:"current_version"`
}
