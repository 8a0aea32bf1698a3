package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"":                     nil,
		"unauthorized":         ErrUnauthorized,
		"not_found":            fmt.Errorf("%w: b-1", scheduler.ErrBookingNotFound),
		"validation":           &ValidationError{FieldErrors: map[string]string{"name": "required"}},
		"invalid_request":      &scheduler.ValidationError{FieldErrors: map[string]string{"start": "required"}},
		"resource_not_found":   &scheduler.ResourceNotFoundError{ResourceID: "t1"},
		"conflict":             &scheduler.ConflictError{},
		"lock_timeout":         fmt.Errorf("%w: resource t1", scheduler.ErrLockTimeout),
		"stale_version":        &scheduler.StaleVersionError{BookingID: "b", Expected: 1, Current: 2},
		"illegal_transition":   &scheduler.IllegalTransitionError{BookingID: "b", From: scheduler.StatusInProgress, To: scheduler.StatusCancelled},
		"checklist_incomplete": &scheduler.IllegalTransitionError{BookingID: "b", Reason: checklist.ErrIncomplete},
		"unexpected":           errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
