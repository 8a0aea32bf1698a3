package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

var resourceCounter uint64

// referenceTime is a Monday morning before theatres open.
var referenceTime = time.Date(2025, time.March, 3, 7, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns the reference day at the given wall-clock time, shifted by
// days.
func At(days, hour, minute int) time.Time {
	y, m, d := referenceTime.Date()
	return time.Date(y, m, d+days, hour, minute, 0, 0, time.UTC)
}

// --------------------------- Resource fixtures ---------------------------

// ResourceOption configures the generated resource.
type ResourceOption func(*scheduler.Resource)

// NewResource returns an active capacity-1 theatre open 09:00-17:00 every
// day from the reference day on.
func NewResource(opts ...ResourceOption) scheduler.Resource {
	idx := atomic.AddUint64(&resourceCounter, 1)
	resource := scheduler.Resource{
		ID:           fmt.Sprintf("theatre-%03d", idx),
		Name:         fmt.Sprintf("Theatre %03d", idx),
		Type:         scheduler.ResourceTheatre,
		Capacity:     1,
		Availability: []recurrence.Window{DailyWindow(9, 17)},
		Active:       true,
		CreatedAt:    referenceTime,
		UpdatedAt:    referenceTime,
	}
	for _, opt := range opts {
		opt(&resource)
	}
	return resource
}

// DailyWindow repeats [from:00, to:00) every day starting on the reference day.
func DailyWindow(from, to int) recurrence.Window {
	return recurrence.Window{
		Start: At(0, from, 0),
		End:   At(0, to, 0),
		Rule:  recurrence.Rule{Frequency: recurrence.FrequencyDaily},
	}
}

// WithResourceID overrides the generated id.
func WithResourceID(id string) ResourceOption {
	return func(r *scheduler.Resource) {
		r.ID = id
		r.Name = id
	}
}

// WithType sets the resource type and, for exclusive types, capacity 1.
func WithType(t scheduler.ResourceType) ResourceOption {
	return func(r *scheduler.Resource) {
		r.Type = t
		if t.ExclusiveUse() {
			r.Capacity = 1
		}
	}
}

// WithCapacity sets the concurrent-use limit.
func WithCapacity(n int) ResourceOption {
	return func(r *scheduler.Resource) {
		r.Capacity = n
	}
}

// WithAvailability replaces the availability windows.
func WithAvailability(windows ...recurrence.Window) ResourceOption {
	return func(r *scheduler.Resource) {
		r.Availability = windows
	}
}

// WithBlackout adds a one-off closure.
func WithBlackout(start, end time.Time) ResourceOption {
	return func(r *scheduler.Resource) {
		r.Blackouts = append(r.Blackouts, recurrence.Window{Start: start, End: end})
	}
}

// WithGranularity sets the slot step for the resource.
func WithGranularity(d time.Duration) ResourceOption {
	return func(r *scheduler.Resource) {
		r.Granularity = d
	}
}

// Inactive marks the resource as soft-deactivated.
func Inactive() ResourceOption {
	return func(r *scheduler.Resource) {
		r.Active = false
	}
}

// ---------------------------- Request fixtures ---------------------------

// RequestOption configures a booking request.
type RequestOption func(*scheduler.BookingRequest)

// NewRequest returns an elective request for the given window.
func NewRequest(start, end time.Time, resourceIDs []string, opts ...RequestOption) scheduler.BookingRequest {
	req := scheduler.BookingRequest{
		RequestedBy: "surgeon-1",
		ResourceIDs: append([]string(nil), resourceIDs...),
		Start:       start,
		End:         end,
		Priority:    scheduler.PriorityElective,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// WithPriority overrides the request priority.
func WithPriority(p scheduler.Priority) RequestOption {
	return func(req *scheduler.BookingRequest) {
		req.Priority = p
	}
}

// WithRequester overrides who asked for the booking.
func WithRequester(id string) RequestOption {
	return func(req *scheduler.BookingRequest) {
		req.RequestedBy = id
	}
}

// WithNotes attaches free text to the request.
func WithNotes(notes string) RequestOption {
	return func(req *scheduler.BookingRequest) {
		req.Notes = notes
	}
}
