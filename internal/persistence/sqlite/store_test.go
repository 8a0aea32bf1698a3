package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

var base = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func setupStoreTest(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scheduler.db")
	store, err := Open(context.Background(), DefaultConfig(path), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func theatre(id string) scheduler.Resource {
	until := base.AddDate(0, 1, 0)
	return scheduler.Resource{
		ID:       id,
		Name:     "Theatre " + id,
		Type:     scheduler.ResourceTheatre,
		Capacity: 1,
		Availability: []recurrence.Window{{
			Start: base,
			End:   base.Add(10 * time.Hour),
			Rule: recurrence.Rule{
				Frequency: recurrence.FrequencyWeekly,
				Weekdays:  []time.Weekday{time.Monday, time.Tuesday},
				Until:     &until,
			},
		}},
		Granularity: 30 * time.Minute,
		Active:      true,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupStoreTest(t)

	applied, err := store.pool.Migrate(context.Background(), nil)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected no pending migrations, applied %d", applied)
	}
}

func TestResourceRepository(t *testing.T) {
	store := setupStoreTest(t)
	ctx := context.Background()

	resource := theatre("t1")
	if err := store.CreateResource(ctx, resource); err != nil {
		t.Fatalf("CreateResource failed: %v", err)
	}
	if err := store.CreateResource(ctx, resource); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	invalid := theatre("t0")
	invalid.Capacity = 0
	if err := store.CreateResource(ctx, invalid); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for zero capacity, got %v", err)
	}

	got, err := store.GetResource(ctx, "t1")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	if got.Granularity != 30*time.Minute || !got.Active || got.Type != scheduler.ResourceTheatre {
		t.Fatalf("unexpected resource %+v", got)
	}
	if len(got.Availability) != 1 || got.Availability[0].Rule.Frequency != recurrence.FrequencyWeekly {
		t.Fatalf("availability did not round trip: %+v", got.Availability)
	}
	if got.Availability[0].Rule.Until == nil || !got.Availability[0].Rule.Until.Equal(base.AddDate(0, 1, 0)) {
		t.Fatalf("until did not round trip: %+v", got.Availability[0].Rule)
	}
	if got.Blackouts != nil {
		t.Fatalf("expected no blackouts, got %+v", got.Blackouts)
	}

	got.Active = false
	got.Blackouts = []recurrence.Window{{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}}
	if err := store.UpdateResource(ctx, got); err != nil {
		t.Fatalf("UpdateResource failed: %v", err)
	}
	updated, _ := store.GetResource(ctx, "t1")
	if updated.Active || len(updated.Blackouts) != 1 {
		t.Fatalf("update did not persist: %+v", updated)
	}

	if _, err := store.GetResource(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateResource(ctx, theatre("missing")); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBookingRepository(t *testing.T) {
	store := setupStoreTest(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		if err := store.CreateResource(ctx, theatre(id)); err != nil {
			t.Fatalf("CreateResource(%s) failed: %v", id, err)
		}
	}

	booking := scheduler.Booking{
		ID:               "b1",
		ResourceIDs:      []string{"t2", "t1"},
		Window:           scheduler.TimeWindow{Start: base.Add(time.Hour), End: base.Add(3 * time.Hour)},
		Status:           scheduler.StatusConfirmed,
		Priority:         scheduler.PriorityUrgent,
		Version:          1,
		RequestedBy:      "dr-who",
		CreatedAt:        base,
		LastTransitionAt: base,
	}
	if err := store.CreateBooking(ctx, booking); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if err := store.CreateBooking(ctx, booking); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	orphan := booking
	orphan.ID = "b-orphan"
	orphan.ResourceIDs = []string{"ghost"}
	if err := store.CreateBooking(ctx, orphan); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if _, err := store.GetBooking(ctx, "b-orphan"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("failed insert must roll back, got %v", err)
	}

	got, err := store.GetBooking(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if len(got.ResourceIDs) != 2 || got.ResourceIDs[0] != "t2" || got.ResourceIDs[1] != "t1" {
		t.Fatalf("resource order not preserved: %v", got.ResourceIDs)
	}
	if !got.Window.Start.Equal(booking.Window.Start) || got.Priority != scheduler.PriorityUrgent {
		t.Fatalf("unexpected booking %+v", got)
	}

	next := got
	next.Status = scheduler.StatusInProgress
	next.Version = 2
	next.ResourceIDs = []string{"t1"}
	if err := store.UpdateBooking(ctx, next, 0); !errors.Is(err, persistence.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := store.UpdateBooking(ctx, scheduler.Booking{ID: "nope"}, 0); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateBooking(ctx, next, 1); err != nil {
		t.Fatalf("UpdateBooking failed: %v", err)
	}

	active, err := store.ListActiveBookings(ctx)
	if err != nil {
		t.Fatalf("ListActiveBookings failed: %v", err)
	}
	if len(active) != 1 || active[0].Version != 2 || len(active[0].ResourceIDs) != 1 {
		t.Fatalf("unexpected active bookings %+v", active)
	}

	locked, err := store.ListActiveBookingsForResources(ctx, []string{"t1", "t9"})
	if err != nil {
		t.Fatalf("ListActiveBookingsForResources failed: %v", err)
	}
	if len(locked) != 1 || locked[0].ID != next.ID {
		t.Fatalf("unexpected active t1 bookings %+v", locked)
	}
	if unlinked, _ := store.ListActiveBookingsForResources(ctx, []string{"t2"}); len(unlinked) != 0 {
		t.Fatalf("expected no active bookings on t2, got %+v", unlinked)
	}

	onT1, err := store.ListBookingsByResource(ctx, "t1", base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListBookingsByResource failed: %v", err)
	}
	if len(onT1) != 1 {
		t.Fatalf("expected one booking on t1, got %d", len(onT1))
	}
	onT2, _ := store.ListBookingsByResource(ctx, "t2", base, base.Add(24*time.Hour))
	if len(onT2) != 0 {
		t.Fatalf("expected t2 to be unlinked after update, got %+v", onT2)
	}
	adjacent, _ := store.ListBookingsByResource(ctx, "t1", base.Add(3*time.Hour), base.Add(4*time.Hour))
	if len(adjacent) != 0 {
		t.Fatalf("adjacent window must not overlap, got %+v", adjacent)
	}
}

func TestChecklistRepository(t *testing.T) {
	store := setupStoreTest(t)
	ctx := context.Background()

	if err := store.CreateResource(ctx, theatre("t1")); err != nil {
		t.Fatalf("CreateResource failed: %v", err)
	}
	if err := store.CreateBooking(ctx, scheduler.Booking{
		ID: "b1", ResourceIDs: []string{"t1"},
		Window: scheduler.TimeWindow{Start: base, End: base.Add(time.Hour)},
		Status: scheduler.StatusConfirmed, Priority: scheduler.PriorityElective, Version: 1,
		CreatedAt: base, LastTransitionAt: base,
	}); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	preOp := checklist.SignOff{Phase: checklist.PhasePreOp, SignedBy: "nurse", SignedAt: base.Add(time.Minute)}
	if err := store.SaveSignOff(ctx, "ghost", preOp); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for unknown booking, got %v", err)
	}
	if err := store.SaveSignOff(ctx, "b1", preOp); err != nil {
		t.Fatalf("SaveSignOff failed: %v", err)
	}
	if err := store.SaveSignOff(ctx, "b1", preOp); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// A tracker opened later over the same database sees the sign-off.
	tracker := checklist.NewTracker(store, nil)
	ok, err := tracker.Signed(ctx, "b1", checklist.PhasePreOp)
	if err != nil || !ok {
		t.Fatalf("Signed = %v, %v", ok, err)
	}
	status, err := tracker.Status(ctx, "b1")
	if err != nil || len(status) != 1 || status[0].SignedBy != "nurse" || !status[0].SignedAt.Equal(preOp.SignedAt) {
		t.Fatalf("Status = %+v, %v", status, err)
	}
}
