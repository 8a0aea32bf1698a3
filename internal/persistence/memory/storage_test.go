package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

var base = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func seedResource(t *testing.T, s *Storage, id, name string) {
	t.Helper()
	if err := s.CreateResource(context.Background(), scheduler.Resource{
		ID: id, Name: name, Type: scheduler.ResourceTheatre, Capacity: 1, Active: true,
	}); err != nil {
		t.Fatalf("CreateResource(%s) failed: %v", id, err)
	}
}

func booking(id string, status scheduler.Status, version int64, start time.Time, resources ...string) scheduler.Booking {
	return scheduler.Booking{
		ID:          id,
		ResourceIDs: resources,
		Window:      scheduler.TimeWindow{Start: start, End: start.Add(time.Hour)},
		Status:      status,
		Priority:    scheduler.PriorityElective,
		Version:     version,
	}
}

func TestStorageResources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	seedResource(t, s, "t2", "Theatre B")
	seedResource(t, s, "t1", "Theatre A")

	if err := s.CreateResource(ctx, scheduler.Resource{ID: "t1"}); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	listed, err := s.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "t1" {
		t.Fatalf("unexpected order: %+v", listed)
	}

	got, err := s.GetResource(ctx, "t1")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	got.Active = false
	if err := s.UpdateResource(ctx, got); err != nil {
		t.Fatalf("UpdateResource failed: %v", err)
	}
	again, _ := s.GetResource(ctx, "t1")
	if again.Active {
		t.Fatal("expected update to persist")
	}

	if _, err := s.GetResource(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateResource(ctx, scheduler.Resource{ID: "missing"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorageBookingVersioning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	seedResource(t, s, "t1", "Theatre A")

	b := booking("b1", scheduler.StatusConfirmed, 1, base, "t1")
	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if err := s.CreateBooking(ctx, b); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.CreateBooking(ctx, booking("b2", scheduler.StatusConfirmed, 1, base, "ghost")); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}

	next := b
	next.Status = scheduler.StatusInProgress
	next.Version = 2
	if err := s.UpdateBooking(ctx, next, 0); !errors.Is(err, persistence.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := s.UpdateBooking(ctx, next, 1); err != nil {
		t.Fatalf("UpdateBooking failed: %v", err)
	}
	stored, err := s.GetBooking(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if stored.Version != 2 || stored.Status != scheduler.StatusInProgress {
		t.Fatalf("unexpected stored booking %+v", stored)
	}

	stored.ResourceIDs[0] = "mutated"
	fresh, _ := s.GetBooking(ctx, "b1")
	if fresh.ResourceIDs[0] != "t1" {
		t.Fatal("GetBooking must return a copy")
	}
}

func TestStorageListings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	seedResource(t, s, "t1", "Theatre A")
	seedResource(t, s, "t2", "Theatre B")

	fixtures := []scheduler.Booking{
		booking("late", scheduler.StatusConfirmed, 1, base.Add(4*time.Hour), "t1"),
		booking("early", scheduler.StatusInProgress, 2, base, "t1", "t2"),
		booking("held", scheduler.StatusRequested, 0, base.Add(time.Hour), "t1"),
		booking("gone", scheduler.StatusCancelled, 2, base.Add(2*time.Hour), "t2"),
	}
	for _, b := range fixtures {
		if err := s.CreateBooking(ctx, b); err != nil {
			t.Fatalf("CreateBooking(%s) failed: %v", b.ID, err)
		}
	}

	active, err := s.ListActiveBookings(ctx)
	if err != nil {
		t.Fatalf("ListActiveBookings failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "early" || active[1].ID != "late" {
		t.Fatalf("unexpected active bookings %+v", active)
	}

	onT2, err := s.ListActiveBookingsForResources(ctx, []string{"t2", "t9"})
	if err != nil {
		t.Fatalf("ListActiveBookingsForResources failed: %v", err)
	}
	if len(onT2) != 1 || onT2[0].ID != "early" {
		t.Fatalf("unexpected active t2 bookings %+v", onT2)
	}

	onT1, err := s.ListBookingsByResource(ctx, "t1", base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListBookingsByResource failed: %v", err)
	}
	if len(onT1) != 2 || onT1[0].ID != "early" || onT1[1].ID != "held" {
		t.Fatalf("unexpected t1 bookings %+v", onT1)
	}
}

func TestStorageSignOffs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	seedResource(t, s, "t1", "Theatre A")
	if err := s.CreateBooking(ctx, booking("b1", scheduler.StatusConfirmed, 1, base, "t1")); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	preOp := checklist.SignOff{Phase: checklist.PhasePreOp, SignedBy: "nurse", SignedAt: base}
	if err := s.SaveSignOff(ctx, "missing", preOp); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for unknown booking, got %v", err)
	}
	if err := s.SaveSignOff(ctx, "b1", preOp); err != nil {
		t.Fatalf("SaveSignOff failed: %v", err)
	}
	if err := s.SaveSignOff(ctx, "b1", checklist.SignOff{Phase: checklist.PhasePreOp, SignedBy: "other"}); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.ListSignOffs(ctx, "b1")
	if err != nil || len(got) != 1 || got[0].SignedBy != "nurse" {
		t.Fatalf("ListSignOffs = %+v, %v", got, err)
	}
	got[0].SignedBy = "mutated"
	if again, _ := s.ListSignOffs(ctx, "b1"); again[0].SignedBy != "nurse" {
		t.Fatal("ListSignOffs must return a copy")
	}
}
