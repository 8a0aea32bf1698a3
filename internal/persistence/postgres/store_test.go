package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// setupStore connects to SCHEDULER_TEST_DATABASE_URL or skips.
func setupStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("SCHEDULER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SCHEDULER_TEST_DATABASE_URL not set; skipping PostgreSQL integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, 4, 1, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrationsLoad(t *testing.T) {
	t.Parallel()

	migrations, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}
	if len(migrations) < 2 || migrations[0].Version != 1 {
		t.Fatalf("unexpected migrations %+v", migrations)
	}
}

func TestBookingQueryUsesDollarPlaceholders(t *testing.T) {
	t.Parallel()

	query, args, err := bookingQuery().Where("b.id = ?", "x").ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	if len(args) != 1 {
		t.Fatalf("expected one arg, got %v", args)
	}
	if want := "b.id = $1"; !strings.Contains(query, want) {
		t.Fatalf("expected %q in %s", want, query)
	}
}

func TestActiveForResourcesQueryBindsIDsAsArray(t *testing.T) {
	t.Parallel()

	query, args, err := activeForResourcesQuery([]string{"t1", "t2"}).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	if !strings.Contains(query, "f.resource_id = ANY($3)") {
		t.Fatalf("expected resource filter on $3 in %s", query)
	}
	if ids, ok := args[2].([]string); !ok || len(ids) != 2 {
		t.Fatalf("expected resource ids bound as one slice, got %#v", args)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)

	resourceID := "pg-" + uuid.NewString()
	resource := scheduler.Resource{
		ID: resourceID, Name: "PG Theatre", Type: scheduler.ResourceTheatre, Capacity: 1,
		Granularity: 15 * time.Minute, Active: true, CreatedAt: base, UpdatedAt: base,
	}
	if err := store.CreateResource(ctx, resource); err != nil {
		t.Fatalf("CreateResource failed: %v", err)
	}
	if err := store.CreateResource(ctx, resource); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	booking := scheduler.Booking{
		ID: uuid.NewString(), ResourceIDs: []string{resourceID},
		Window: scheduler.TimeWindow{Start: base, End: base.Add(time.Hour)},
		Status: scheduler.StatusConfirmed, Priority: scheduler.PriorityElective, Version: 1,
		CreatedAt: base, LastTransitionAt: base,
	}
	if err := store.CreateBooking(ctx, booking); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	active, err := store.ListActiveBookingsForResources(ctx, []string{resourceID})
	if err != nil {
		t.Fatalf("ListActiveBookingsForResources failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != booking.ID {
		t.Fatalf("unexpected active bookings %+v", active)
	}

	next := booking
	next.Status = scheduler.StatusCancelled
	next.Version = 2
	if err := store.UpdateBooking(ctx, next, 5); !errors.Is(err, persistence.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := store.UpdateBooking(ctx, next, 1); err != nil {
		t.Fatalf("UpdateBooking failed: %v", err)
	}

	got, err := store.GetBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if got.Status != scheduler.StatusCancelled || len(got.ResourceIDs) != 1 || got.ResourceIDs[0] != resourceID {
		t.Fatalf("unexpected booking %+v", got)
	}

	if active, _ := store.ListActiveBookingsForResources(ctx, []string{resourceID}); len(active) != 0 {
		t.Fatalf("cancelled booking still listed as active: %+v", active)
	}

	signOff := checklist.SignOff{Phase: checklist.PhasePreOp, SignedBy: "nurse", SignedAt: base}
	if err := store.SaveSignOff(ctx, booking.ID, signOff); err != nil {
		t.Fatalf("SaveSignOff failed: %v", err)
	}
	if err := store.SaveSignOff(ctx, booking.ID, signOff); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if signed, err := store.ListSignOffs(ctx, booking.ID); err != nil || len(signed) != 1 || !signed[0].SignedAt.Equal(base) {
		t.Fatalf("ListSignOffs = %+v, %v", signed, err)
	}

	listed, err := store.ListBookingsByResource(ctx, resourceID, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListBookingsByResource failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one booking, got %d", len(listed))
	}
}
