package application

import (
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// Principal represents the user invoking a service method. Authentication
// happens upstream; the service only checks presence and role.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// ResourceInput captures caller provided resource fields.
type ResourceInput struct {
	Name         string
	Type         scheduler.ResourceType
	Capacity     int
	Availability []recurrence.Window
	Blackouts    []recurrence.Window
	Granularity  time.Duration
}

// CreateResourceParams wraps the data required to register a resource.
type CreateResourceParams struct {
	Principal Principal
	// ResourceID is optional; an id is generated when blank.
	ResourceID string
	Input      ResourceInput
}

// UpdateResourceParams wraps the data required to change a resource.
type UpdateResourceParams struct {
	Principal  Principal
	ResourceID string
	Input      ResourceInput
}

// CalendarParams selects bookings touching a resource.
type CalendarParams struct {
	Principal  Principal
	ResourceID string
	From       time.Time
	To         time.Time
}

// SlotQuery asks for free windows across a resource set.
type SlotQuery struct {
	ResourceIDs   []string
	Duration      time.Duration
	EarliestStart time.Time
	Horizon       time.Duration
	Limit         int
}

// TransitionParams identifies a lifecycle move on a booking.
type TransitionParams struct {
	Principal Principal
	BookingID string
	Version   int64
}

// RescheduleParams moves a booking to a new window or resource set.
type RescheduleParams struct {
	Principal Principal
	BookingID string
	Version   int64
	Request   scheduler.RescheduleRequest
}
