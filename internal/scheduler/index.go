package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// IntervalIndex keeps, per resource, the committed reservations sorted by
// start. Each resource has its own lock so reserve/release on one resource
// never waits for another.
type IntervalIndex struct {
	mu     sync.Mutex
	shards map[string]*shard
}

type shard struct {
	mu      sync.RWMutex
	items   []Reservation
	maxSpan time.Duration
}

// NewIntervalIndex returns an empty index.
func NewIntervalIndex() *IntervalIndex {
	return &IntervalIndex{shards: make(map[string]*shard)}
}

func (ix *IntervalIndex) shard(resourceID string, create bool) *shard {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	s, ok := ix.shards[resourceID]
	if !ok && create {
		s = &shard{}
		ix.shards[resourceID] = s
	}
	return s
}

// Reserve inserts r if fewer than capacity reservations overlap it. The
// check and the insert happen under the resource lock; the loser of a race
// gets a *ConflictError, never an overwrite.
func (ix *IntervalIndex) Reserve(r Reservation, capacity int) error {
	if !r.End.After(r.Start) {
		return fmt.Errorf("%w: reservation end must be after start", ErrInvalidRequest)
	}
	if capacity < 1 {
		capacity = 1
	}

	s := ix.shard(r.ResourceID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(r.BookingID) >= 0 {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyReserved, r.BookingID, r.ResourceID)
	}

	overlapping := s.overlapping(r.Start, r.End, "")
	if len(overlapping) >= capacity {
		return &ConflictError{Report: ConflictReport{Conflicts: []Conflict{
			occupancyConflict(r.ResourceID, capacity, overlapping),
		}}}
	}

	s.insert(r)
	return nil
}

// Restore inserts r without a capacity check. It is used to rebuild the
// index from stored bookings and to put back provisionally released entries.
func (ix *IntervalIndex) Restore(r Reservation) {
	s := ix.shard(r.ResourceID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(r.BookingID) >= 0 {
		return
	}
	s.insert(r)
}

// Replace swaps the reservations held on resourceID for items. Entries for
// other resources are ignored.
func (ix *IntervalIndex) Replace(resourceID string, items []Reservation) {
	s := ix.shard(resourceID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]
	s.maxSpan = 0
	for _, r := range items {
		if r.ResourceID == resourceID && s.indexOf(r.BookingID) < 0 {
			s.insert(r)
		}
	}
}

// Release removes the booking's reservation on the resource.
func (ix *IntervalIndex) Release(resourceID, bookingID string) error {
	s := ix.shard(resourceID, false)
	if s == nil {
		return fmt.Errorf("%w: %s on %s", ErrReservationNotFound, bookingID, resourceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(bookingID)
	if i < 0 {
		return fmt.Errorf("%w: %s on %s", ErrReservationNotFound, bookingID, resourceID)
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

// Overlaps returns a snapshot of the reservations on resourceID that
// intersect [start, end).
func (ix *IntervalIndex) Overlaps(resourceID string, start, end time.Time) []Reservation {
	return ix.overlapsExcluding(resourceID, start, end, "")
}

func (ix *IntervalIndex) overlapsExcluding(resourceID string, start, end time.Time, ignore string) []Reservation {
	s := ix.shard(resourceID, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlapping(start, end, ignore)
}

// Reservations returns every reservation held on resourceID in start order.
func (ix *IntervalIndex) Reservations(resourceID string) []Reservation {
	s := ix.shard(resourceID, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reservation, len(s.items))
	copy(out, s.items)
	return out
}

// overlapping scans from the first item that could still be running at
// start. Items are sorted by start and none is longer than maxSpan, so the
// scan touches O(log n + k) entries. Caller holds the shard lock.
func (s *shard) overlapping(start, end time.Time, ignore string) []Reservation {
	lo := start.Add(-s.maxSpan)
	i := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].Start.After(lo)
	})

	var out []Reservation
	for ; i < len(s.items); i++ {
		item := s.items[i]
		if !item.Start.Before(end) {
			break
		}
		if item.BookingID == ignore || !item.End.After(start) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *shard) insert(r Reservation) {
	i := sort.Search(len(s.items), func(i int) bool {
		if s.items[i].Start.Equal(r.Start) {
			return s.items[i].BookingID > r.BookingID
		}
		return s.items[i].Start.After(r.Start)
	})
	s.items = append(s.items, Reservation{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = r
	if span := r.End.Sub(r.Start); span > s.maxSpan {
		s.maxSpan = span
	}
}

func (s *shard) indexOf(bookingID string) int {
	for i, item := range s.items {
		if item.BookingID == bookingID {
			return i
		}
	}
	return -1
}

// occupancyConflict builds the conflict entry for a full resource. Exclusive
// resources report DoubleBooked; shared ones report CapacityExceeded.
func occupancyConflict(resourceID string, capacity int, overlapping []Reservation) Conflict {
	kind := ConflictCapacityExceeded
	if capacity == 1 {
		kind = ConflictDoubleBooked
	}
	ids := make([]string, 0, len(overlapping))
	for _, r := range overlapping {
		ids = append(ids, r.BookingID)
	}
	return Conflict{ResourceID: resourceID, Kind: kind, BookingIDs: ids}
}
