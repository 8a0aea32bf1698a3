package application

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/logging"
	"github.com/jashmhtaaa/theatre-scheduler/internal/metrics"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// BookingScheduler is the slice of the scheduler core the service drives.
type BookingScheduler interface {
	Submit(ctx context.Context, req scheduler.BookingRequest) (scheduler.Decision, error)
	Hold(ctx context.Context, req scheduler.BookingRequest) (scheduler.Booking, error)
	Confirm(ctx context.Context, id string, expectedVersion int64) (scheduler.Decision, error)
	Start(ctx context.Context, id string, expectedVersion int64) (scheduler.Booking, error)
	Complete(ctx context.Context, id string, expectedVersion int64) (scheduler.Booking, error)
	Cancel(ctx context.Context, id string, expectedVersion int64) (scheduler.Booking, error)
	Reschedule(ctx context.Context, id string, expectedVersion int64, req scheduler.RescheduleRequest) (scheduler.Decision, error)
	Get(ctx context.Context, id string) (scheduler.Booking, error)
	Suggest(ctx context.Context, resourceIDs []string, duration time.Duration, earliestStart time.Time, horizon time.Duration) iter.Seq[scheduler.Slot]
}

// ChecklistTracker records surgical safety checklist sign-offs.
type ChecklistTracker interface {
	Sign(ctx context.Context, bookingID string, phase checklist.Phase, signedBy string) (checklist.SignOff, error)
	Status(ctx context.Context, bookingID string) ([]checklist.SignOff, error)
}

// BookingService puts principal checks, logging and metrics around the
// scheduler core.
type BookingService struct {
	scheduler BookingScheduler
	checklist ChecklistTracker
	metrics   *metrics.Collector
	policy    scheduler.Policy
	now       func() time.Time
	logger    *slog.Logger
}

// BookingServiceDeps groups the service collaborators. Checklist and
// Metrics are optional.
type BookingServiceDeps struct {
	Scheduler BookingScheduler
	Checklist ChecklistTracker
	Metrics   *metrics.Collector
	Policy    scheduler.Policy
	Now       func() time.Time
	Logger    *slog.Logger
}

// NewBookingService constructs a booking service.
func NewBookingService(deps BookingServiceDeps) *BookingService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		scheduler: deps.Scheduler,
		checklist: deps.Checklist,
		metrics:   deps.Metrics,
		policy:    deps.Policy,
		now:       now,
		logger:    logging.OrDefault(deps.Logger),
	}
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

// observe logs the outcome of an operation and records its latency.
func (s *BookingService) observe(ctx context.Context, logger *slog.Logger, operation string, started time.Time, err error, msg string, attrs ...any) {
	result := "ok"
	if err != nil {
		result = ErrorKind(err)
		if result == "lock_timeout" {
			s.metrics.LockTimeout()
		}
		logger.ErrorContext(ctx, "failed to "+msg, "error", err, "error_kind", result)
	} else {
		logger.InfoContext(ctx, msg, attrs...)
	}
	s.metrics.ObserveOperation(operation, result, s.now().Sub(started))
}

func (s *BookingService) recordDecision(operation string, d scheduler.Decision) {
	kinds := make([]string, 0, len(d.Report.Conflicts))
	for _, c := range d.Report.Conflicts {
		kinds = append(kinds, string(c.Kind))
	}
	s.metrics.Decision(operation, d.Admitted, kinds)
	if d.Admitted {
		s.metrics.Transition(string(d.Booking.Status))
	}
}

func (s *BookingService) ready(principal Principal) error {
	if s == nil || s.scheduler == nil {
		return fmt.Errorf("booking scheduler not configured")
	}
	if strings.TrimSpace(principal.UserID) == "" {
		return ErrUnauthorized
	}
	return nil
}

// Submit requests immediate admission on behalf of principal.
func (s *BookingService) Submit(ctx context.Context, principal Principal, req scheduler.BookingRequest) (decision scheduler.Decision, err error) {
	started := s.now()
	logger := s.loggerWith(ctx, "Submit",
		"principal_id", principal.UserID,
		"resource_ids", req.ResourceIDs,
	)
	defer func() {
		s.observe(ctx, logger, "submit", started, err, "booking submitted",
			"admitted", decision.Admitted, "booking_id", decision.Booking.ID, "conflicts", len(decision.Report.Conflicts))
	}()

	if err = s.ready(principal); err != nil {
		return
	}
	req.RequestedBy = principal.UserID
	decision, err = s.scheduler.Submit(ctx, req)
	if err == nil {
		s.recordDecision("submit", decision)
	}
	return
}

// Hold records a Requested booking without reserving resources.
func (s *BookingService) Hold(ctx context.Context, principal Principal, req scheduler.BookingRequest) (booking scheduler.Booking, err error) {
	started := s.now()
	logger := s.loggerWith(ctx, "Hold", "principal_id", principal.UserID)
	defer func() {
		s.observe(ctx, logger, "hold", started, err, "booking held", "booking_id", booking.ID)
	}()

	if err = s.ready(principal); err != nil {
		return
	}
	req.RequestedBy = principal.UserID
	booking, err = s.scheduler.Hold(ctx, req)
	if err == nil {
		s.metrics.Transition(string(booking.Status))
	}
	return
}

// Confirm admits a held booking.
func (s *BookingService) Confirm(ctx context.Context, params TransitionParams) (decision scheduler.Decision, err error) {
	started := s.now()
	logger := s.loggerWith(ctx, "Confirm",
		"principal_id", params.Principal.UserID,
		"booking_id", params.BookingID,
		"version", params.Version,
	)
	defer func() {
		s.observe(ctx, logger, "confirm", started, err, "booking confirm attempted", "admitted", decision.Admitted)
	}()

	if err = s.ready(params.Principal); err != nil {
		return
	}
	decision, err = s.scheduler.Confirm(ctx, params.BookingID, params.Version)
	if err == nil {
		s.recordDecision("confirm", decision)
	}
	return
}

// Start moves a confirmed booking into theatre.
func (s *BookingService) Start(ctx context.Context, params TransitionParams) (scheduler.Booking, error) {
	return s.transition(ctx, "Start", params, scheduler.StatusInProgress)
}

// Complete finishes an in-progress booking.
func (s *BookingService) Complete(ctx context.Context, params TransitionParams) (scheduler.Booking, error) {
	return s.transition(ctx, "Complete", params, scheduler.StatusCompleted)
}

// Cancel withdraws a requested or confirmed booking.
func (s *BookingService) Cancel(ctx context.Context, params TransitionParams) (scheduler.Booking, error) {
	return s.transition(ctx, "Cancel", params, scheduler.StatusCancelled)
}

func (s *BookingService) transition(ctx context.Context, operation string, params TransitionParams, to scheduler.Status) (booking scheduler.Booking, err error) {
	started := s.now()
	logger := s.loggerWith(ctx, operation,
		"principal_id", params.Principal.UserID,
		"booking_id", params.BookingID,
		"version", params.Version,
	)
	defer func() {
		s.observe(ctx, logger, strings.ToLower(operation), started, err, "booking transitioned",
			"status", booking.Status, "new_version", booking.Version)
	}()

	if err = s.ready(params.Principal); err != nil {
		return
	}
	switch to {
	case scheduler.StatusInProgress:
		booking, err = s.scheduler.Start(ctx, params.BookingID, params.Version)
	case scheduler.StatusCompleted:
		booking, err = s.scheduler.Complete(ctx, params.BookingID, params.Version)
	default:
		booking, err = s.scheduler.Cancel(ctx, params.BookingID, params.Version)
	}
	if err == nil {
		s.metrics.Transition(string(booking.Status))
	}
	return
}

// Reschedule moves a booking to a new window or resource set.
func (s *BookingService) Reschedule(ctx context.Context, params RescheduleParams) (decision scheduler.Decision, err error) {
	started := s.now()
	logger := s.loggerWith(ctx, "Reschedule",
		"principal_id", params.Principal.UserID,
		"booking_id", params.BookingID,
		"version", params.Version,
	)
	defer func() {
		s.observe(ctx, logger, "reschedule", started, err, "booking reschedule attempted", "admitted", decision.Admitted)
	}()

	if err = s.ready(params.Principal); err != nil {
		return
	}
	decision, err = s.scheduler.Reschedule(ctx, params.BookingID, params.Version, params.Request)
	if err == nil {
		kinds := make([]string, 0, len(decision.Report.Conflicts))
		for _, c := range decision.Report.Conflicts {
			kinds = append(kinds, string(c.Kind))
		}
		s.metrics.Decision("reschedule", decision.Admitted, kinds)
	}
	return
}

// GetBooking returns the current state of a booking.
func (s *BookingService) GetBooking(ctx context.Context, principal Principal, bookingID string) (scheduler.Booking, error) {
	if err := s.ready(principal); err != nil {
		return scheduler.Booking{}, err
	}
	return s.scheduler.Get(ctx, bookingID)
}

// FindSlots returns up to Limit free windows. Unset fields fall back to the
// scheduler policy; the horizon never reaches past the booking horizon.
func (s *BookingService) FindSlots(ctx context.Context, principal Principal, query SlotQuery) (slots []scheduler.Slot, err error) {
	started := s.now()
	logger := s.loggerWith(ctx, "FindSlots",
		"principal_id", principal.UserID,
		"resource_ids", query.ResourceIDs,
	)
	defer func() {
		s.observe(ctx, logger, "find_slots", started, err, "slots searched", "result_count", len(slots))
	}()

	if err = s.ready(principal); err != nil {
		return
	}

	vErr := &ValidationError{}
	if len(query.ResourceIDs) == 0 {
		vErr.add("resource_id", "at least one resource is required")
	}
	if query.Duration <= 0 {
		vErr.add("duration", "duration must be positive")
	}
	if query.Horizon < 0 {
		vErr.add("horizon", "horizon must not be negative")
	}
	if err = vErr.asError(); err != nil {
		return
	}

	now := s.now()
	from := query.EarliestStart
	if from.IsZero() || from.Before(now) {
		from = now
	}
	horizon := query.Horizon
	if horizon == 0 {
		horizon = s.policy.SlotHorizon
	}
	if s.policy.BookingHorizon > 0 {
		if limit := now.Add(s.policy.BookingHorizon).Sub(from); limit < horizon {
			horizon = limit
		}
	}
	limit := query.Limit
	if limit <= 0 {
		limit = s.policy.MaxSuggestions
	}
	if limit <= 0 {
		limit = 5
	}

	slots = make([]scheduler.Slot, 0, limit)
	for slot := range s.scheduler.Suggest(ctx, query.ResourceIDs, query.Duration, from, horizon) {
		slots = append(slots, slot)
		if len(slots) >= limit {
			break
		}
	}
	return
}

// SignChecklist records a checklist phase for a booking that is not cancelled.
func (s *BookingService) SignChecklist(ctx context.Context, principal Principal, bookingID, phase string) (signOff checklist.SignOff, err error) {
	logger := s.loggerWith(ctx, "SignChecklist",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
		"phase", phase,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to sign checklist", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "checklist signed")
	}()

	if err = s.ready(principal); err != nil {
		return
	}
	if s.checklist == nil {
		err = fmt.Errorf("checklist tracker not configured")
		return
	}

	var p checklist.Phase
	if p, err = checklist.ParsePhase(phase); err != nil {
		return
	}
	var booking scheduler.Booking
	if booking, err = s.scheduler.Get(ctx, bookingID); err != nil {
		return
	}
	if booking.Status == scheduler.StatusCancelled || booking.Status == scheduler.StatusRequested {
		err = &scheduler.IllegalTransitionError{BookingID: booking.ID, From: booking.Status, To: booking.Status, Action: "sign checklist"}
		return
	}

	signOff, err = s.checklist.Sign(ctx, booking.ID, p, principal.UserID)
	return
}

// ChecklistStatus returns the sign-offs recorded for a booking.
func (s *BookingService) ChecklistStatus(ctx context.Context, principal Principal, bookingID string) ([]checklist.SignOff, error) {
	if err := s.ready(principal); err != nil {
		return nil, err
	}
	if s.checklist == nil {
		return nil, fmt.Errorf("checklist tracker not configured")
	}
	booking, err := s.scheduler.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return s.checklist.Status(ctx, booking.ID)
}
