package scheduler

import (
	"context"
	"time"
)

// EventType names a booking lifecycle event.
type EventType string

const (
	EventBookingRequested   EventType = "BookingRequested"
	EventBookingConfirmed   EventType = "BookingConfirmed"
	EventBookingStarted     EventType = "BookingStarted"
	EventBookingCompleted   EventType = "BookingCompleted"
	EventBookingCancelled   EventType = "BookingCancelled"
	EventBookingRescheduled EventType = "BookingRescheduled"
)

var statusEvents = map[Status]EventType{
	StatusRequested:  EventBookingRequested,
	StatusConfirmed:  EventBookingConfirmed,
	StatusInProgress: EventBookingStarted,
	StatusCompleted:  EventBookingCompleted,
	StatusCancelled:  EventBookingCancelled,
}

// Event is emitted after every committed booking mutation.
type Event struct {
	Type        EventType
	BookingID   string
	Status      Status
	Version     int64
	ResourceIDs []string
	Window      TimeWindow
	Priority    Priority
	RequestedBy string
	OccurredAt  time.Time
}

// Publisher receives events. Publish must not block the caller on delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, Event) {}

func newEvent(kind EventType, b Booking, at time.Time) Event {
	return Event{
		Type:        kind,
		BookingID:   b.ID,
		Status:      b.Status,
		Version:     b.Version,
		ResourceIDs: append([]string(nil), b.ResourceIDs...),
		Window:      b.Window,
		Priority:    b.Priority,
		RequestedBy: b.RequestedBy,
		OccurredAt:  at,
	}
}
