package scheduler

import (
	"context"
	"time"
)

// transitions lists the legal moves of the booking state machine. Only
// Requested and Confirmed may be cancelled; InProgress can only complete.
var transitions = map[Status][]Status{
	StatusRequested:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionGuard may veto a legal transition, e.g. when a checklist is not
// signed off. A returned error is surfaced as an IllegalTransitionError.
type TransitionGuard interface {
	CheckTransition(ctx context.Context, booking Booking, to Status) error
}

// checkVersion enforces the optimistic concurrency guard.
func checkVersion(b Booking, expected int64) error {
	if b.Version != expected {
		return &StaleVersionError{BookingID: b.ID, Expected: expected, Current: b.Version}
	}
	return nil
}

// advance returns b moved to status `to` with its version bumped.
func advance(b Booking, to Status, at time.Time) (Booking, error) {
	if !CanTransition(b.Status, to) {
		return Booking{}, &IllegalTransitionError{BookingID: b.ID, From: b.Status, To: to}
	}
	next := b.Clone()
	next.Status = to
	next.Version++
	next.LastTransitionAt = at
	return next, nil
}

// retime returns b moved to a new window and resource set. Rescheduling is
// a mutation, not a state change, but it still bumps the version.
func retime(b Booking, resourceIDs []string, window TimeWindow, at time.Time) Booking {
	next := b.Clone()
	next.ResourceIDs = append([]string(nil), resourceIDs...)
	next.Window = window
	next.Version++
	next.LastTransitionAt = at
	return next
}
