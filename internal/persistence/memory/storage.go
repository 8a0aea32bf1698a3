package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// Storage is a process-local store for resources and bookings. It backs the
// default deployment and the test harnesses.
type Storage struct {
	mu        sync.RWMutex
	resources map[string]scheduler.Resource
	bookings  map[string]scheduler.Booking
	signOffs  map[string][]checklist.SignOff
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		resources: make(map[string]scheduler.Resource),
		bookings:  make(map[string]scheduler.Booking),
		signOffs:  make(map[string][]checklist.SignOff),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Ping reports storage health. Always healthy.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// --- resources ---

// CreateResource stores a new resource.
func (s *Storage) CreateResource(_ context.Context, resource scheduler.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resource.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.resources[resource.ID]; ok {
		return fmt.Errorf("resource %s: %w", resource.ID, persistence.ErrDuplicate)
	}
	s.resources[resource.ID] = resource.Clone()
	return nil
}

// UpdateResource replaces an existing resource.
func (s *Storage) UpdateResource(_ context.Context, resource scheduler.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[resource.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.resources[resource.ID] = resource.Clone()
	return nil
}

// GetResource retrieves a resource by ID.
func (s *Storage) GetResource(_ context.Context, id string) (scheduler.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resource, ok := s.resources[id]
	if !ok {
		return scheduler.Resource{}, persistence.ErrNotFound
	}
	return resource.Clone(), nil
}

// ListResources returns all resources ordered by name then ID.
func (s *Storage) ListResources(_ context.Context) ([]scheduler.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]scheduler.Resource, 0, len(s.resources))
	for _, resource := range s.resources {
		resources = append(resources, resource.Clone())
	}
	sort.Slice(resources, func(i, j int) bool {
		if resources[i].Name == resources[j].Name {
			return resources[i].ID < resources[j].ID
		}
		return resources[i].Name < resources[j].Name
	})
	return resources, nil
}

// --- bookings ---

// CreateBooking stores a new booking.
func (s *Storage) CreateBooking(_ context.Context, booking scheduler.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if booking.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.bookings[booking.ID]; ok {
		return fmt.Errorf("booking %s: %w", booking.ID, persistence.ErrDuplicate)
	}
	for _, id := range booking.ResourceIDs {
		if _, ok := s.resources[id]; !ok {
			return fmt.Errorf("booking %s references resource %s: %w", booking.ID, id, persistence.ErrConstraintViolation)
		}
	}
	s.bookings[booking.ID] = booking.Clone()
	return nil
}

// UpdateBooking replaces a booking if its stored version equals expectedVersion.
func (s *Storage) UpdateBooking(_ context.Context, booking scheduler.Booking, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.bookings[booking.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return persistence.ErrVersionConflict
	}
	s.bookings[booking.ID] = booking.Clone()
	return nil
}

// GetBooking retrieves a booking by ID.
func (s *Storage) GetBooking(_ context.Context, id string) (scheduler.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, ok := s.bookings[id]
	if !ok {
		return scheduler.Booking{}, persistence.ErrNotFound
	}
	return booking.Clone(), nil
}

// ListActiveBookings returns bookings that hold reservations, ordered by start.
func (s *Storage) ListActiveBookings(_ context.Context) ([]scheduler.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bookings []scheduler.Booking
	for _, booking := range s.bookings {
		if booking.Status.HoldsReservations() {
			bookings = append(bookings, booking.Clone())
		}
	}
	sortBookings(bookings)
	return bookings, nil
}

// ListActiveBookingsForResources returns the active bookings that use any
// of resourceIDs, ordered by start.
func (s *Storage) ListActiveBookingsForResources(_ context.Context, resourceIDs []string) ([]scheduler.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bookings []scheduler.Booking
	for _, booking := range s.bookings {
		if !booking.Status.HoldsReservations() {
			continue
		}
		if slices.ContainsFunc(booking.ResourceIDs, func(id string) bool { return slices.Contains(resourceIDs, id) }) {
			bookings = append(bookings, booking.Clone())
		}
	}
	sortBookings(bookings)
	return bookings, nil
}

// ListBookingsByResource returns bookings on resourceID that overlap
// [from, to), in any status, ordered by start.
func (s *Storage) ListBookingsByResource(_ context.Context, resourceID string, from, to time.Time) ([]scheduler.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := scheduler.TimeWindow{Start: from, End: to}
	var bookings []scheduler.Booking
	for _, booking := range s.bookings {
		if !booking.Window.Overlaps(window) {
			continue
		}
		for _, id := range booking.ResourceIDs {
			if id == resourceID {
				bookings = append(bookings, booking.Clone())
				break
			}
		}
	}
	sortBookings(bookings)
	return bookings, nil
}

// --- checklist ---

// SaveSignOff records a checklist phase for an existing booking.
func (s *Storage) SaveSignOff(_ context.Context, bookingID string, record checklist.SignOff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[bookingID]; !ok {
		return fmt.Errorf("sign-off for booking %s: %w", bookingID, persistence.ErrConstraintViolation)
	}
	for _, existing := range s.signOffs[bookingID] {
		if existing.Phase == record.Phase {
			return fmt.Errorf("sign-off %s/%s: %w", bookingID, record.Phase, persistence.ErrDuplicate)
		}
	}
	s.signOffs[bookingID] = append(s.signOffs[bookingID], record)
	return nil
}

// ListSignOffs returns the sign-offs recorded for bookingID in signing order.
func (s *Storage) ListSignOffs(_ context.Context, bookingID string) ([]checklist.SignOff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.signOffs[bookingID]), nil
}

func sortBookings(bookings []scheduler.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].Window.Start.Equal(bookings[j].Window.Start) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].Window.Start.Before(bookings[j].Window.Start)
	})
}
