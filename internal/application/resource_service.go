package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/logging"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// ResourceRepository captures the persistence operations needed by the service.
type ResourceRepository interface {
	CreateResource(ctx context.Context, resource scheduler.Resource) error
	GetResource(ctx context.Context, id string) (scheduler.Resource, error)
	UpdateResource(ctx context.Context, resource scheduler.Resource) error
	ListResources(ctx context.Context) ([]scheduler.Resource, error)
	ListBookingsByResource(ctx context.Context, resourceID string, from, to time.Time) ([]scheduler.Booking, error)
}

// CacheInvalidator drops cached resource definitions after a change.
type CacheInvalidator interface {
	Invalidate(id string)
}

// ResourceService is the registry admin: it creates, edits and deactivates
// resources. Resources are never deleted.
type ResourceService struct {
	resources   ResourceRepository
	cache       CacheInvalidator
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewResourceService constructs a resource service with the provided dependencies.
func NewResourceService(resources ResourceRepository, cache CacheInvalidator, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ResourceService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ResourceService{resources: resources, cache: cache, idGenerator: idGenerator, now: now, logger: logging.OrDefault(logger)}
}

func (s *ResourceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ResourceService", operation, attrs...)
}

// CreateResource validates input and registers a new active resource for administrators.
func (s *ResourceService) CreateResource(ctx context.Context, params CreateResourceParams) (resource scheduler.Resource, err error) {
	if s == nil || s.resources == nil {
		err = fmt.Errorf("resource repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateResource",
		"principal_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create resource", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("resource_id", resource.ID).InfoContext(ctx, "resource created")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	input := normalizeResourceInput(params.Input)
	if vErr := validateResourceInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	id := strings.TrimSpace(params.ResourceID)
	if id == "" {
		id = s.idGenerator()
	}
	now := s.now()
	resource = scheduler.Resource{
		ID:           id,
		Name:         input.Name,
		Type:         input.Type,
		Capacity:     input.Capacity,
		Availability: input.Availability,
		Blackouts:    input.Blackouts,
		Granularity:  input.Granularity,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err = s.resources.CreateResource(ctx, resource); err != nil {
		err = mapResourceRepoError(err)
		return
	}
	return
}

// UpdateResource replaces the editable fields of a resource. Active
// bookings are not re-validated; the new definition applies to future
// admissions only.
func (s *ResourceService) UpdateResource(ctx context.Context, params UpdateResourceParams) (resource scheduler.Resource, err error) {
	if s == nil || s.resources == nil {
		err = fmt.Errorf("resource repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "UpdateResource",
		"principal_id", params.Principal.UserID,
		"resource_id", params.ResourceID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update resource", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "resource updated")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	var existing scheduler.Resource
	existing, err = s.resources.GetResource(ctx, params.ResourceID)
	if err != nil {
		err = mapResourceRepoError(err)
		return
	}

	input := normalizeResourceInput(params.Input)
	if vErr := validateResourceInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	resource = existing.Clone()
	resource.Name = input.Name
	resource.Type = input.Type
	resource.Capacity = input.Capacity
	resource.Availability = input.Availability
	resource.Blackouts = input.Blackouts
	resource.Granularity = input.Granularity
	resource.UpdatedAt = s.now()

	if err = s.resources.UpdateResource(ctx, resource); err != nil {
		err = mapResourceRepoError(err)
		return
	}
	s.invalidate(resource.ID)
	return
}

// DeactivateResource soft-deletes a resource. It stays readable and keeps
// its bookings, but no new booking can be admitted on it.
func (s *ResourceService) DeactivateResource(ctx context.Context, principal Principal, resourceID string) (resource scheduler.Resource, err error) {
	if s == nil || s.resources == nil {
		err = fmt.Errorf("resource repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "DeactivateResource",
		"principal_id", principal.UserID,
		"resource_id", resourceID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to deactivate resource", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "resource deactivated")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	resource, err = s.resources.GetResource(ctx, resourceID)
	if err != nil {
		err = mapResourceRepoError(err)
		return
	}
	if !resource.Active {
		return
	}

	resource.Active = false
	resource.UpdatedAt = s.now()
	if err = s.resources.UpdateResource(ctx, resource); err != nil {
		err = mapResourceRepoError(err)
		return
	}
	s.invalidate(resource.ID)
	return
}

// GetResource returns one resource.
func (s *ResourceService) GetResource(ctx context.Context, resourceID string) (scheduler.Resource, error) {
	if s == nil || s.resources == nil {
		return scheduler.Resource{}, fmt.Errorf("resource repository not configured")
	}
	resource, err := s.resources.GetResource(ctx, strings.TrimSpace(resourceID))
	if err != nil {
		return scheduler.Resource{}, mapResourceRepoError(err)
	}
	return resource, nil
}

// ListResources returns the registry ordered by name.
func (s *ResourceService) ListResources(ctx context.Context) (resources []scheduler.Resource, err error) {
	if s == nil || s.resources == nil {
		return nil, nil
	}

	logger := s.loggerWith(ctx, "ListResources")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list resources", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(resources)).DebugContext(ctx, "resources listed")
	}()

	resources, err = s.resources.ListResources(ctx)
	return
}

// Calendar lists bookings of any status that touch the resource in [From, To).
func (s *ResourceService) Calendar(ctx context.Context, params CalendarParams) (bookings []scheduler.Booking, err error) {
	if s == nil || s.resources == nil {
		return nil, fmt.Errorf("resource repository not configured")
	}

	logger := s.loggerWith(ctx, "Calendar",
		"principal_id", params.Principal.UserID,
		"resource_id", params.ResourceID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to load calendar", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(bookings)).DebugContext(ctx, "calendar loaded")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if !params.To.After(params.From) {
		err = newValidationError("to", "to must be after from")
		return
	}
	if _, err = s.resources.GetResource(ctx, params.ResourceID); err != nil {
		err = mapResourceRepoError(err)
		return
	}

	bookings, err = s.resources.ListBookingsByResource(ctx, params.ResourceID, params.From, params.To)
	return
}

func (s *ResourceService) invalidate(id string) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}

func normalizeResourceInput(input ResourceInput) ResourceInput {
	input.Name = strings.TrimSpace(input.Name)
	input.Type = scheduler.ResourceType(strings.ToLower(strings.TrimSpace(string(input.Type))))
	if input.Capacity == 0 && input.Type.ExclusiveUse() {
		input.Capacity = 1
	}
	return input
}

func validateResourceInput(input ResourceInput) *ValidationError {
	vErr := &ValidationError{}

	if input.Name == "" {
		vErr.add("name", "name is required")
	}
	if !input.Type.Valid() {
		vErr.add("type", "type must be theatre, staff or equipment")
	}
	switch {
	case input.Capacity <= 0:
		vErr.add("capacity", "capacity must be positive")
	case input.Type.ExclusiveUse() && input.Capacity != 1:
		vErr.add("capacity", "theatres and staff have capacity 1")
	}
	if input.Granularity < 0 {
		vErr.add("granularity", "granularity must not be negative")
	}
	vErr.merge(validateWindows("availability", input.Availability, true))
	vErr.merge(validateWindows("blackouts", input.Blackouts, false))

	return vErr
}

// validateWindows checks each window on its own. One-off windows in the
// same list must also not overlap, since availability is an ordered,
// non-overlapping list.
func validateWindows(field string, windows []recurrence.Window, required bool) *ValidationError {
	vErr := &ValidationError{}
	if required && len(windows) == 0 {
		vErr.add(field, "at least one window is required")
		return vErr
	}
	for i, w := range windows {
		if err := recurrence.Validate(w); err != nil {
			vErr.addf(field, "window %d: %v", i, err)
			return vErr
		}
	}
	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		if prev.Rule.Frequency != recurrence.FrequencyNone || cur.Rule.Frequency != recurrence.FrequencyNone {
			continue
		}
		if cur.Start.Before(prev.End) {
			vErr.addf(field, "window %d overlaps or precedes window %d", i, i-1)
			return vErr
		}
	}
	return vErr
}

func mapResourceRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, scheduler.ErrResourceNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := newValidationError("resource", "resource violates a storage constraint")
		return vErr
	}
	return err
}
