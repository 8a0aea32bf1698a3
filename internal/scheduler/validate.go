package scheduler

import (
	"strings"
	"time"
)

// Policy holds the configurable admission and search bounds.
type Policy struct {
	// BookingHorizon caps how far from now a booking may end. Zero disables the cap.
	BookingHorizon time.Duration
	// MinNotice is the lead time required for non-emergency bookings.
	MinNotice time.Duration
	// SlotStep is the default alternative-slot granularity.
	SlotStep time.Duration
	// SlotHorizon bounds the alternative-slot search.
	SlotHorizon time.Duration
	// MaxSuggestions is K, the number of alternatives returned on rejection.
	MaxSuggestions int
	// LockTimeout bounds lock acquisition for a commit.
	LockTimeout time.Duration
}

// DefaultPolicy returns the defaults used when configuration is silent.
func DefaultPolicy() Policy {
	return Policy{
		BookingHorizon: 30 * 24 * time.Hour,
		SlotStep:       15 * time.Minute,
		SlotHorizon:    7 * 24 * time.Hour,
		MaxSuggestions: 5,
		LockTimeout:    2 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.SlotStep <= 0 {
		p.SlotStep = d.SlotStep
	}
	if p.SlotHorizon <= 0 {
		p.SlotHorizon = d.SlotHorizon
	}
	if p.MaxSuggestions < 0 {
		p.MaxSuggestions = 0
	}
	if p.LockTimeout <= 0 {
		p.LockTimeout = d.LockTimeout
	}
	return p
}

// validateWindow checks resources and timing for a new or moved booking and
// returns the trimmed resource ids in request order.
func validateWindow(resourceIDs []string, start, end time.Time, priority Priority, now time.Time, policy Policy) ([]string, *ValidationError) {
	vErr := &ValidationError{}

	ids := make([]string, 0, len(resourceIDs))
	seen := make(map[string]struct{}, len(resourceIDs))
	for _, raw := range resourceIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			vErr.add("resource_ids", "resource ids must not be blank")
			continue
		}
		if _, dup := seen[id]; dup {
			vErr.add("resource_ids", "resource ids must be distinct")
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(resourceIDs) == 0 {
		vErr.add("resource_ids", "at least one resource is required")
	}

	switch {
	case start.IsZero():
		vErr.add("start", "start is required")
	case end.IsZero():
		vErr.add("end", "end is required")
	case !start.Before(end):
		vErr.add("end", "start must be before end")
	default:
		if start.Before(now) {
			vErr.add("start", "start must not be in the past")
		} else if priority != PriorityEmergency && policy.MinNotice > 0 && start.Before(now.Add(policy.MinNotice)) {
			vErr.add("start", "start is within the minimum notice period")
		}
		if policy.BookingHorizon > 0 && end.After(now.Add(policy.BookingHorizon)) {
			vErr.add("end", "end exceeds the booking horizon")
		}
	}

	return ids, vErr
}

func validatePriority(p Priority, vErr *ValidationError) Priority {
	if p == "" {
		return PriorityElective
	}
	switch p {
	case PriorityElective, PriorityUrgent, PriorityEmergency:
		return p
	}
	vErr.add("priority", "priority is invalid")
	return p
}
