package scheduler

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
)

// ResourceType classifies bookable resources.
type ResourceType string

const (
	ResourceTheatre   ResourceType = "theatre"
	ResourceStaff     ResourceType = "staff"
	ResourceEquipment ResourceType = "equipment"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTheatre, ResourceStaff, ResourceEquipment:
		return true
	}
	return false
}

// ExclusiveUse reports whether the type is limited to one booking at a time.
func (t ResourceType) ExclusiveUse() bool {
	return t == ResourceTheatre || t == ResourceStaff
}

// Resource is a bookable entity with a concurrent-use capacity and standing
// availability. Blackouts subtract from availability.
type Resource struct {
	ID           string
	Name         string
	Type         ResourceType
	Capacity     int
	Availability []recurrence.Window
	Blackouts    []recurrence.Window
	// Granularity is the slot step used when searching alternatives; zero
	// falls back to the scheduler policy.
	Granularity time.Duration
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy of the resource.
func (r Resource) Clone() Resource {
	r.Availability = slices.Clone(r.Availability)
	r.Blackouts = slices.Clone(r.Blackouts)
	return r
}

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HoldsReservations reports whether bookings in this state occupy the index.
func (s Status) HoldsReservations() bool {
	return s == StatusConfirmed || s == StatusInProgress
}

// Priority orders competing requests; emergency outranks elective.
type Priority string

const (
	PriorityElective  Priority = "elective"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

// ParsePriority converts user input into a Priority. Empty input yields elective.
func ParsePriority(value string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return PriorityElective, nil
	case PriorityElective, PriorityUrgent, PriorityEmergency:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, value)
	}
}

// Rank returns a comparable weight, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 2
	case PriorityUrgent:
		return 1
	default:
		return 0
	}
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether two half-open windows intersect.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Booking is a request to occupy one or more resources over a window.
type Booking struct {
	ID               string
	ResourceIDs      []string
	Window           TimeWindow
	Status           Status
	Priority         Priority
	Version          int64
	RequestedBy      string
	Notes            string
	CreatedAt        time.Time
	LastTransitionAt time.Time
}

// Clone returns a copy that shares no slices with b.
func (b Booking) Clone() Booking {
	b.ResourceIDs = slices.Clone(b.ResourceIDs)
	return b
}

// Reservations materializes the index entries a confirmed booking occupies.
func (b Booking) Reservations() []Reservation {
	out := make([]Reservation, 0, len(b.ResourceIDs))
	for _, id := range b.ResourceIDs {
		out = append(out, Reservation{ResourceID: id, BookingID: b.ID, Start: b.Window.Start, End: b.Window.End})
	}
	return out
}

// Reservation is the occupancy of one resource by one booking.
type Reservation struct {
	ResourceID string
	BookingID  string
	Start      time.Time
	End        time.Time
}

// BookingRequest is the inbound shape accepted by Submit and Hold.
type BookingRequest struct {
	RequestedBy string
	ResourceIDs []string
	Start       time.Time
	End         time.Time
	Priority    Priority
	Notes       string
}

// RescheduleRequest moves a booking. A nil ResourceIDs keeps the current set.
type RescheduleRequest struct {
	ResourceIDs []string
	Start       time.Time
	End         time.Time
}

// Slot is a candidate window produced by the slot finder.
type Slot struct {
	Start time.Time
	End   time.Time
}

// ConflictKind names why a resource cannot take a booking.
type ConflictKind string

const (
	ConflictDoubleBooked        ConflictKind = "double_booked"
	ConflictOutsideAvailability ConflictKind = "outside_availability"
	ConflictCapacityExceeded    ConflictKind = "capacity_exceeded"
)

// Conflict describes one resource that blocks admission.
type Conflict struct {
	ResourceID string
	Kind       ConflictKind
	BookingIDs []string
}

// ConflictReport is Clear when it holds no conflicts.
type ConflictReport struct {
	Conflicts []Conflict
}

// Clear reports whether the report allows admission.
func (r ConflictReport) Clear() bool {
	return len(r.Conflicts) == 0
}

// Kinds lists the distinct conflict kinds in report order.
func (r ConflictReport) Kinds() []ConflictKind {
	var kinds []ConflictKind
	for _, c := range r.Conflicts {
		if !slices.Contains(kinds, c.Kind) {
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// Decision is the outcome of an admission attempt. When Admitted is false,
// Booking holds the unchanged current state (zero for Submit) and Report
// explains why.
type Decision struct {
	Admitted    bool
	Booking     Booking
	Report      ConflictReport
	Suggestions []Slot
}
