package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jashmhtaaa/theatre-scheduler/internal/logging"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
)

// BookingStore persists bookings. UpdateBooking must fail with
// persistence.ErrVersionConflict when the stored version is not
// expectedVersion, which makes it the last line of the optimistic guard.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking Booking) error
	UpdateBooking(ctx context.Context, booking Booking, expectedVersion int64) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListActiveBookings(ctx context.Context) ([]Booking, error)
	ListActiveBookingsForResources(ctx context.Context, resourceIDs []string) ([]Booking, error)
}

// Deps groups the collaborators of a Scheduler. Resources and Bookings are
// required; everything else has a default.
type Deps struct {
	Resources        ResourceStore
	ResourceCacheTTL time.Duration
	Bookings         BookingStore
	Locks            LockManager
	Publisher        Publisher
	Guard            TransitionGuard
	Engine           *recurrence.Engine
	IDGenerator      func() string
	Now              func() time.Time
	Logger           *slog.Logger
}

// Scheduler admits, moves and retires bookings. Every commit that touches
// the interval index runs under the locks of all involved resources.
type Scheduler struct {
	directory   *Directory
	index       *IntervalIndex
	detector    *Detector
	finder      *SlotFinder
	bookings    BookingStore
	locks       LockManager
	publisher   Publisher
	guard       TransitionGuard
	policy      Policy
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// New wires a Scheduler from deps and policy.
func New(deps Deps, policy Policy) *Scheduler {
	policy = policy.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	directory := NewDirectory(deps.Resources, deps.Engine, deps.ResourceCacheTTL)
	index := NewIntervalIndex()
	detector := NewDetector(directory, index)

	s := &Scheduler{
		directory:   directory,
		index:       index,
		detector:    detector,
		finder:      NewSlotFinder(detector, directory, policy.SlotStep, logger),
		bookings:    deps.Bookings,
		locks:       deps.Locks,
		publisher:   deps.Publisher,
		guard:       deps.Guard,
		policy:      policy,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      logger,
	}
	if s.locks == nil {
		s.locks = NewLocalLocks()
	}
	if s.publisher == nil {
		s.publisher = discardPublisher{}
	}
	if s.idGenerator == nil {
		s.idGenerator = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Directory exposes the resource directory, e.g. for cache invalidation.
func (s *Scheduler) Directory() *Directory { return s.directory }

// Index exposes the interval index for inspection.
func (s *Scheduler) Index() *IntervalIndex { return s.index }

// Detector exposes the conflict detector.
func (s *Scheduler) Detector() *Detector { return s.detector }

// Policy returns the effective policy.
func (s *Scheduler) Policy() Policy { return s.policy }

var errStoreMissing = errors.New("scheduler: booking store not configured")

// Submit validates req, then either admits it as a Confirmed booking with
// version 1 or rejects it with a conflict report and alternatives. A
// rejected submit leaves no reservation behind.
func (s *Scheduler) Submit(ctx context.Context, req BookingRequest) (Decision, error) {
	if s.bookings == nil {
		return Decision{}, errStoreMissing
	}
	now := s.now()
	booking, err := s.intake(ctx, req, now)
	if err != nil {
		return Decision{}, err
	}

	release, err := s.lock(ctx, booking.ResourceIDs)
	if err != nil {
		return Decision{}, err
	}
	confirmed, report, err := s.admit(ctx, booking, now, func(b Booking) error {
		return s.bookings.CreateBooking(ctx, b)
	})
	release()
	if err != nil {
		return Decision{}, err
	}
	if !report.Clear() {
		return s.rejected(ctx, Booking{}, booking, report, now), nil
	}

	s.emit(ctx, EventBookingConfirmed, confirmed, now)
	return Decision{Admitted: true, Booking: confirmed}, nil
}

// Hold records a Requested booking without reserving anything. Confirm
// admits it later. Held bookings start at version 0, one below admitted
// ones, so the first Confirm, Reschedule or Cancel must send version 0.
func (s *Scheduler) Hold(ctx context.Context, req BookingRequest) (Booking, error) {
	if s.bookings == nil {
		return Booking{}, errStoreMissing
	}
	now := s.now()
	booking, err := s.intake(ctx, req, now)
	if err != nil {
		return Booking{}, err
	}
	if err := s.bookings.CreateBooking(ctx, booking); err != nil {
		return Booking{}, s.storeError(ctx, booking.ID, booking.Version, err)
	}
	s.emit(ctx, EventBookingRequested, booking, now)
	return booking, nil
}

// Confirm admits a Requested booking. On conflict the booking stays
// Requested and the decision carries the report and alternatives.
func (s *Scheduler) Confirm(ctx context.Context, id string, expectedVersion int64) (Decision, error) {
	if s.bookings == nil {
		return Decision{}, errStoreMissing
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	if err := precheck(current, expectedVersion, StatusConfirmed); err != nil {
		return Decision{}, err
	}

	release, err := s.lock(ctx, current.ResourceIDs)
	if err != nil {
		return Decision{}, err
	}
	current, err = s.get(ctx, id)
	if err == nil {
		err = precheck(current, expectedVersion, StatusConfirmed)
	}
	now := s.now()
	if err == nil && current.Window.Start.Before(now) {
		err = &ValidationError{FieldErrors: map[string]string{"start": "start must not be in the past"}}
	}
	if err != nil {
		release()
		return Decision{}, err
	}

	confirmed, report, err := s.admit(ctx, current, now, func(b Booking) error {
		return s.bookings.UpdateBooking(ctx, b, current.Version)
	})
	release()
	if err != nil {
		return Decision{}, err
	}
	if !report.Clear() {
		return s.rejected(ctx, current, current, report, now), nil
	}

	s.emit(ctx, EventBookingConfirmed, confirmed, now)
	return Decision{Admitted: true, Booking: confirmed}, nil
}

// Start moves a Confirmed booking to InProgress.
func (s *Scheduler) Start(ctx context.Context, id string, expectedVersion int64) (Booking, error) {
	return s.transition(ctx, id, expectedVersion, StatusInProgress)
}

// Complete moves an InProgress booking to Completed and frees its resources.
func (s *Scheduler) Complete(ctx context.Context, id string, expectedVersion int64) (Booking, error) {
	return s.transition(ctx, id, expectedVersion, StatusCompleted)
}

// Cancel withdraws a Requested or Confirmed booking. Cancelling a booking
// that is already Cancelled returns it unchanged, whatever version is given.
func (s *Scheduler) Cancel(ctx context.Context, id string, expectedVersion int64) (Booking, error) {
	return s.transition(ctx, id, expectedVersion, StatusCancelled)
}

// Reschedule moves a Requested or Confirmed booking to a new window and,
// optionally, a new resource set. The old reservations are released only
// provisionally: on conflict they are restored and the booking is returned
// unchanged in the decision.
func (s *Scheduler) Reschedule(ctx context.Context, id string, expectedVersion int64, req RescheduleRequest) (Decision, error) {
	if s.bookings == nil {
		return Decision{}, errStoreMissing
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	if err := reschedulable(current, expectedVersion); err != nil {
		return Decision{}, err
	}

	now := s.now()
	requested := req.ResourceIDs
	if requested == nil {
		requested = current.ResourceIDs
	}
	ids, vErr := validateWindow(requested, req.Start, req.End, current.Priority, now, s.policy)
	if vErr.HasErrors() {
		return Decision{}, vErr
	}
	for _, rid := range ids {
		if _, err := s.directory.GetResource(ctx, rid); err != nil {
			return Decision{}, err
		}
	}

	release, err := s.lock(ctx, append(append([]string(nil), current.ResourceIDs...), ids...))
	if err != nil {
		return Decision{}, err
	}
	current, err = s.get(ctx, id)
	if err == nil {
		err = reschedulable(current, expectedVersion)
	}
	if err != nil {
		release()
		return Decision{}, err
	}

	window := TimeWindow{Start: req.Start, End: req.End}
	next := retime(current, ids, window, now)
	persist := func() error { return s.bookings.UpdateBooking(ctx, next, current.Version) }

	if current.Status == StatusRequested {
		report, err := s.detector.Detect(ctx, ids, window.Start, window.End)
		if err == nil && report.Clear() {
			err = persist()
			if err != nil {
				err = s.storeError(ctx, id, expectedVersion, err)
			}
		}
		release()
		if err != nil {
			return Decision{}, err
		}
		if !report.Clear() {
			return s.rejected(ctx, current, next, report, now), nil
		}
		s.emit(ctx, EventBookingRescheduled, next, now)
		return Decision{Admitted: true, Booking: next}, nil
	}

	s.releaseAll(ctx, current)
	report, err := s.detector.Detect(ctx, ids, window.Start, window.End)
	if err == nil && report.Clear() {
		report, err = s.reserveAll(ctx, next)
	}
	if err != nil || !report.Clear() {
		s.restoreAll(current)
		release()
		if err != nil {
			return Decision{}, err
		}
		return s.rejected(ctx, current, next, report, now), nil
	}
	if err := persist(); err != nil {
		s.releaseAll(ctx, next)
		s.restoreAll(current)
		release()
		return Decision{}, s.storeError(ctx, id, expectedVersion, err)
	}
	release()

	s.emit(ctx, EventBookingRescheduled, next, now)
	return Decision{Admitted: true, Booking: next}, nil
}

// Get returns the stored booking.
func (s *Scheduler) Get(ctx context.Context, id string) (Booking, error) {
	if s.bookings == nil {
		return Booking{}, errStoreMissing
	}
	return s.get(ctx, id)
}

// Suggest exposes the slot finder directly.
func (s *Scheduler) Suggest(ctx context.Context, resourceIDs []string, duration time.Duration, earliestStart time.Time, horizon time.Duration) iter.Seq[Slot] {
	return s.finder.Suggest(ctx, resourceIDs, duration, earliestStart, horizon)
}

// Restore rebuilds the interval index from the store's active bookings and
// reports how many bookings were loaded.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if s.bookings == nil {
		return 0, errStoreMissing
	}
	active, err := s.bookings.ListActiveBookings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active bookings: %w", err)
	}
	for _, b := range active {
		s.restoreAll(b)
	}
	return len(active), nil
}

func (s *Scheduler) intake(ctx context.Context, req BookingRequest, now time.Time) (Booking, error) {
	vErr := &ValidationError{}
	priority := validatePriority(req.Priority, vErr)
	ids, wErr := validateWindow(req.ResourceIDs, req.Start, req.End, priority, now, s.policy)
	for field, msg := range wErr.FieldErrors {
		vErr.add(field, msg)
	}
	if vErr.HasErrors() {
		return Booking{}, vErr
	}

	for _, id := range ids {
		if _, err := s.directory.GetResource(ctx, id); err != nil {
			return Booking{}, err
		}
	}

	return Booking{
		ID:               s.idGenerator(),
		ResourceIDs:      ids,
		Window:           TimeWindow{Start: req.Start, End: req.End},
		Status:           StatusRequested,
		Priority:         priority,
		RequestedBy:      strings.TrimSpace(req.RequestedBy),
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        now,
		LastTransitionAt: now,
	}, nil
}

// admit runs detection and the all-or-nothing reservation for a Requested
// booking. The caller holds the locks of every resource in the booking.
func (s *Scheduler) admit(ctx context.Context, booking Booking, now time.Time, persist func(Booking) error) (Booking, ConflictReport, error) {
	report, err := s.detector.Detect(ctx, booking.ResourceIDs, booking.Window.Start, booking.Window.End)
	if err != nil || !report.Clear() {
		return Booking{}, report, err
	}

	confirmed, err := advance(booking, StatusConfirmed, now)
	if err != nil {
		return Booking{}, ConflictReport{}, err
	}
	report, err = s.reserveAll(ctx, confirmed)
	if err != nil || !report.Clear() {
		return Booking{}, report, err
	}
	if err := persist(confirmed); err != nil {
		s.releaseAll(ctx, confirmed)
		return Booking{}, ConflictReport{}, s.storeError(ctx, booking.ID, booking.Version, err)
	}
	return confirmed, ConflictReport{}, nil
}

// reserveAll inserts every reservation of b or none of them. A lost race on
// any resource rolls back the ones already inserted and re-detects so the
// report reflects the current index.
func (s *Scheduler) reserveAll(ctx context.Context, b Booking) (ConflictReport, error) {
	done := make([]Reservation, 0, len(b.ResourceIDs))
	for _, r := range b.Reservations() {
		capacity, err := s.directory.GetCapacity(ctx, r.ResourceID)
		if err == nil {
			err = s.index.Reserve(r, capacity)
		}
		if err == nil {
			done = append(done, r)
			continue
		}

		s.rollback(ctx, done)
		var cErr *ConflictError
		if !errors.As(err, &cErr) {
			return ConflictReport{}, err
		}
		report, derr := s.detector.Detect(ctx, b.ResourceIDs, b.Window.Start, b.Window.End)
		if derr == nil && !report.Clear() {
			return report, nil
		}
		return cErr.Report, nil
	}
	return ConflictReport{}, nil
}

func (s *Scheduler) rollback(ctx context.Context, done []Reservation) {
	for i := len(done) - 1; i >= 0; i-- {
		if err := s.index.Release(done[i].ResourceID, done[i].BookingID); err != nil {
			s.loggerFor(ctx).WarnContext(ctx, "rollback release failed",
				"resource_id", done[i].ResourceID, "booking_id", done[i].BookingID, "error", err)
		}
	}
}

func (s *Scheduler) releaseAll(ctx context.Context, b Booking) {
	for _, id := range b.ResourceIDs {
		if err := s.index.Release(id, b.ID); err != nil && !errors.Is(err, ErrReservationNotFound) {
			s.loggerFor(ctx).WarnContext(ctx, "release failed", "resource_id", id, "booking_id", b.ID, "error", err)
		}
	}
}

func (s *Scheduler) restoreAll(b Booking) {
	for _, r := range b.Reservations() {
		s.index.Restore(r)
	}
}

// transition drives Start, Complete and Cancel. Moves that free capacity
// persist first and then release under the resource locks, so a failed
// store write leaves the index untouched.
func (s *Scheduler) transition(ctx context.Context, id string, expectedVersion int64, to Status) (Booking, error) {
	if s.bookings == nil {
		return Booking{}, errStoreMissing
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if to == StatusCancelled && current.Status == StatusCancelled {
		return current, nil
	}
	if err := precheck(current, expectedVersion, to); err != nil {
		return Booking{}, err
	}
	if s.guard != nil {
		if err := s.guard.CheckTransition(ctx, current, to); err != nil {
			return Booking{}, &IllegalTransitionError{BookingID: id, From: current.Status, To: to, Reason: err}
		}
	}

	frees := current.Status.HoldsReservations() && !to.HoldsReservations()
	if frees {
		release, err := s.lock(ctx, current.ResourceIDs)
		if err != nil {
			return Booking{}, err
		}
		defer release()

		current, err = s.get(ctx, id)
		if err != nil {
			return Booking{}, err
		}
		if to == StatusCancelled && current.Status == StatusCancelled {
			return current, nil
		}
		if err := precheck(current, expectedVersion, to); err != nil {
			return Booking{}, err
		}
	}

	now := s.now()
	next, err := advance(current, to, now)
	if err != nil {
		return Booking{}, err
	}
	if err := s.bookings.UpdateBooking(ctx, next, current.Version); err != nil {
		return Booking{}, s.storeError(ctx, id, expectedVersion, err)
	}
	if frees {
		s.releaseAll(ctx, current)
	}

	s.emit(ctx, statusEvents[to], next, now)
	return next, nil
}

func precheck(current Booking, expectedVersion int64, to Status) error {
	if !CanTransition(current.Status, to) {
		return &IllegalTransitionError{BookingID: current.ID, From: current.Status, To: to}
	}
	return checkVersion(current, expectedVersion)
}

func reschedulable(current Booking, expectedVersion int64) error {
	if current.Status != StatusRequested && current.Status != StatusConfirmed {
		return &IllegalTransitionError{BookingID: current.ID, From: current.Status, To: current.Status, Action: "reschedule"}
	}
	return checkVersion(current, expectedVersion)
}

// lock acquires the resource locks within the policy timeout, then reloads
// the index entries of those resources from the store. Other processes
// sharing the store may have committed since this index last saw them.
func (s *Scheduler) lock(ctx context.Context, resourceIDs []string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.policy.LockTimeout)
	defer cancel()

	release, err := s.locks.Acquire(lockCtx, resourceIDs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrLockTimeout) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
		return nil, err
	}
	if err := s.refresh(ctx, resourceIDs); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// refresh replaces the index entries of resourceIDs with the reservations
// of the active bookings the store holds for them. The caller holds the
// resource locks.
func (s *Scheduler) refresh(ctx context.Context, resourceIDs []string) error {
	keys := LockOrder(resourceIDs)
	active, err := s.bookings.ListActiveBookingsForResources(ctx, keys)
	if err != nil {
		return fmt.Errorf("reload reservations: %w", err)
	}
	byResource := make(map[string][]Reservation, len(keys))
	for _, b := range active {
		for _, r := range b.Reservations() {
			byResource[r.ResourceID] = append(byResource[r.ResourceID], r)
		}
	}
	for _, id := range keys {
		s.index.Replace(id, byResource[id])
	}
	return nil
}

func (s *Scheduler) get(ctx context.Context, id string) (Booking, error) {
	b, err := s.bookings.GetBooking(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Booking{}, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
		}
		return Booking{}, fmt.Errorf("load booking %s: %w", id, err)
	}
	return b, nil
}

func (s *Scheduler) storeError(ctx context.Context, id string, expected int64, err error) error {
	switch {
	case errors.Is(err, persistence.ErrVersionConflict):
		stale := &StaleVersionError{BookingID: id, Expected: expected, Current: -1}
		if latest, gerr := s.get(ctx, id); gerr == nil {
			stale.Current = latest.Version
		}
		return stale
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	default:
		return fmt.Errorf("persist booking %s: %w", id, err)
	}
}

// rejected packages a refused admission. Alternatives are searched after the
// locks are gone and treat current's own reservations as free.
func (s *Scheduler) rejected(ctx context.Context, current, candidate Booking, report ConflictReport, now time.Time) Decision {
	decision := Decision{Booking: current, Report: report}
	if s.policy.MaxSuggestions == 0 {
		return decision
	}

	horizon := s.policy.SlotHorizon
	if s.policy.BookingHorizon > 0 {
		if limit := now.Add(s.policy.BookingHorizon).Sub(candidate.Window.Start); limit < horizon {
			horizon = limit
		}
	}
	seq := s.finder.suggest(ctx, candidate.ResourceIDs, candidate.Window.Duration(), candidate.Window.Start, horizon, current.ID)
	decision.Suggestions = take(seq, s.policy.MaxSuggestions)
	return decision
}

func (s *Scheduler) emit(ctx context.Context, kind EventType, b Booking, at time.Time) {
	s.publisher.Publish(context.WithoutCancel(ctx), newEvent(kind, b, at))
}

func (s *Scheduler) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger.With("component", "scheduler")
	}
	return s.logger.With("component", "scheduler")
}
