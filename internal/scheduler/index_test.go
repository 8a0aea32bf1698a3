package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func res(resource, booking string, start, end time.Time) Reservation {
	return Reservation{ResourceID: resource, BookingID: booking, Start: start, End: end}
}

func TestIntervalIndexReserveAndRelease(t *testing.T) {
	t.Parallel()

	ix := NewIntervalIndex()
	if err := ix.Reserve(res("t1", "a", clock(10, 0), clock(11, 0)), 1); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	err := ix.Reserve(res("t1", "b", clock(10, 59), clock(12, 0)), 1)
	var cErr *ConflictError
	if !errors.As(err, &cErr) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if got := cErr.Report.Conflicts[0]; got.Kind != ConflictDoubleBooked || got.BookingIDs[0] != "a" {
		t.Fatalf("unexpected conflict: %+v", got)
	}

	if err := ix.Reserve(res("t1", "c", clock(11, 0), clock(12, 0)), 1); err != nil {
		t.Fatalf("adjacent reservation rejected: %v", err)
	}
	if err := ix.Reserve(res("t1", "c", clock(13, 0), clock(14, 0)), 1); !errors.Is(err, ErrAlreadyReserved) {
		t.Fatalf("expected ErrAlreadyReserved, got %v", err)
	}
	if err := ix.Reserve(res("t1", "d", clock(13, 0), clock(13, 0)), 1); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty window, got %v", err)
	}

	if err := ix.Release("t1", "a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := ix.Release("t1", "a"); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
	if err := ix.Release("unknown", "a"); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound for unknown resource, got %v", err)
	}
	if got := ix.Overlaps("t1", clock(0, 0), clock(23, 0)); len(got) != 1 || got[0].BookingID != "c" {
		t.Fatalf("unexpected reservations after release: %+v", got)
	}
}

func TestIntervalIndexOverlapsFindsLongRunningEntries(t *testing.T) {
	t.Parallel()

	ix := NewIntervalIndex()
	ix.Restore(res("t1", "long", clock(6, 0), clock(18, 0)))
	for h := 7; h < 12; h++ {
		ix.Restore(res("t1", fmt.Sprintf("short-%d", h), clock(h, 0), clock(h, 30)))
	}

	got := ix.Overlaps("t1", clock(15, 0), clock(16, 0))
	if len(got) != 1 || got[0].BookingID != "long" {
		t.Fatalf("expected only the long reservation, got %+v", got)
	}

	got = ix.Overlaps("t1", clock(9, 15), clock(10, 15))
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.BookingID)
	}
	want := []string{"long", "short-9", "short-10"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("overlaps = %v, want %v", ids, want)
	}

	all := ix.Reservations("t1")
	for i := 1; i < len(all); i++ {
		if all[i].Start.Before(all[i-1].Start) {
			t.Fatalf("reservations not sorted at %d: %+v", i, all)
		}
	}
}

func TestIntervalIndexRestoreIsIdempotent(t *testing.T) {
	t.Parallel()

	ix := NewIntervalIndex()
	r := res("t1", "a", clock(10, 0), clock(11, 0))
	ix.Restore(r)
	ix.Restore(r)
	if got := ix.Reservations("t1"); len(got) != 1 {
		t.Fatalf("expected one reservation, got %d", len(got))
	}
}

func TestIntervalIndexConcurrentReserveAdmitsOne(t *testing.T) {
	t.Parallel()

	ix := NewIntervalIndex()
	const callers = 32

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		conflict int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := ix.Reserve(res("t1", fmt.Sprintf("b%d", i), clock(10, 0), clock(11, 0)), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrConflict):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 || conflict != callers-1 {
		t.Fatalf("winners=%d conflicts=%d", winners, conflict)
	}
}

func TestIntervalIndexCapacity(t *testing.T) {
	t.Parallel()

	ix := NewIntervalIndex()
	for _, id := range []string{"a", "b", "c"} {
		if err := ix.Reserve(res("pump", id, clock(10, 0), clock(12, 0)), 3); err != nil {
			t.Fatalf("Reserve %s failed: %v", id, err)
		}
	}
	err := ix.Reserve(res("pump", "d", clock(11, 0), clock(11, 30)), 3)
	var cErr *ConflictError
	if !errors.As(err, &cErr) || cErr.Report.Conflicts[0].Kind != ConflictCapacityExceeded {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
}
