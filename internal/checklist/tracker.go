// Package checklist records surgical safety sign-offs per booking and gates
// lifecycle transitions on them.
package checklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// Phase is one checkpoint of the surgical safety checklist.
type Phase string

const (
	PhasePreOp   Phase = "pre_op"
	PhaseIntraOp Phase = "intra_op"
	PhasePostOp  Phase = "post_op"
)

var order = []Phase{PhasePreOp, PhaseIntraOp, PhasePostOp}

var (
	// ErrInvalidPhase is returned for an unknown phase name.
	ErrInvalidPhase = errors.New("checklist: invalid phase")
	// ErrOutOfOrder is returned when a phase is signed before its predecessor.
	ErrOutOfOrder = errors.New("checklist: phase signed out of order")
	// ErrIncomplete is returned by the guard when a required phase is unsigned.
	ErrIncomplete = errors.New("checklist: required phase not signed")
)

// ParsePhase converts user input into a Phase.
func ParsePhase(value string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range order {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhase, value)
}

// SignOff records who completed a phase and when.
type SignOff struct {
	Phase    Phase
	SignedBy string
	SignedAt time.Time
}

// Store persists sign-offs. SaveSignOff must fail with
// persistence.ErrDuplicate when the phase is already recorded for the
// booking, so concurrent signers agree on the first record.
type Store interface {
	SaveSignOff(ctx context.Context, bookingID string, record SignOff) error
	ListSignOffs(ctx context.Context, bookingID string) ([]SignOff, error)
}

// Tracker enforces phase order over a Store. It holds no state of its own,
// so trackers in other processes sharing the store see the same sign-offs.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker returns a tracker over store. A nil now uses time.Now.
func NewTracker(store Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Sign records phase for bookingID. Phases must be signed in order; signing
// an already signed phase keeps the first record.
func (t *Tracker) Sign(ctx context.Context, bookingID string, phase Phase, signedBy string) (SignOff, error) {
	idx := phaseIndex(phase)
	if idx < 0 {
		return SignOff{}, fmt.Errorf("%w: %q", ErrInvalidPhase, phase)
	}

	signed, err := t.signed(ctx, bookingID)
	if err != nil {
		return SignOff{}, err
	}
	if existing, ok := signed[phase]; ok {
		return existing, nil
	}
	if idx > 0 {
		if _, ok := signed[order[idx-1]]; !ok {
			return SignOff{}, fmt.Errorf("%w: %s requires %s", ErrOutOfOrder, phase, order[idx-1])
		}
	}

	record := SignOff{Phase: phase, SignedBy: strings.TrimSpace(signedBy), SignedAt: t.now().UTC()}
	err = t.store.SaveSignOff(ctx, bookingID, record)
	if errors.Is(err, persistence.ErrDuplicate) {
		if signed, err = t.signed(ctx, bookingID); err != nil {
			return SignOff{}, err
		}
		if existing, ok := signed[phase]; ok {
			return existing, nil
		}
	}
	if err != nil {
		return SignOff{}, fmt.Errorf("save %s sign-off for %s: %w", phase, bookingID, err)
	}
	return record, nil
}

// Status returns the recorded sign-offs for bookingID in phase order.
func (t *Tracker) Status(ctx context.Context, bookingID string) ([]SignOff, error) {
	signed, err := t.signed(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	var out []SignOff
	for _, phase := range order {
		if record, ok := signed[phase]; ok {
			out = append(out, record)
		}
	}
	return out, nil
}

// Signed reports whether phase is signed for bookingID.
func (t *Tracker) Signed(ctx context.Context, bookingID string, phase Phase) (bool, error) {
	signed, err := t.signed(ctx, bookingID)
	if err != nil {
		return false, err
	}
	_, ok := signed[phase]
	return ok, nil
}

// CheckTransition requires the pre-op sign-off before a booking starts.
func (t *Tracker) CheckTransition(ctx context.Context, booking scheduler.Booking, to scheduler.Status) error {
	if to != scheduler.StatusInProgress {
		return nil
	}
	ok, err := t.Signed(ctx, booking.ID, PhasePreOp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncomplete, PhasePreOp)
	}
	return nil
}

func (t *Tracker) signed(ctx context.Context, bookingID string) (map[Phase]SignOff, error) {
	records, err := t.store.ListSignOffs(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load sign-offs for %s: %w", bookingID, err)
	}
	signed := make(map[Phase]SignOff, len(records))
	for _, r := range records {
		signed[r.Phase] = r
	}
	return signed, nil
}

func phaseIndex(p Phase) int {
	for i, known := range order {
		if known == p {
			return i
		}
	}
	return -1
}

var _ scheduler.TransitionGuard = (*Tracker)(nil)
