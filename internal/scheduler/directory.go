package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
)

// ResourceStore is the read side of the resource registry.
type ResourceStore interface {
	GetResource(ctx context.Context, id string) (Resource, error)
}

// Directory answers resource lookups and availability questions. Resource
// definitions may be cached for a short TTL; reservations never are.
type Directory struct {
	store  ResourceStore
	engine *recurrence.Engine
	cache  *cache.Cache
}

// NewDirectory builds a directory over store. A positive cacheTTL enables a
// read-through cache of resource definitions.
func NewDirectory(store ResourceStore, engine *recurrence.Engine, cacheTTL time.Duration) *Directory {
	if engine == nil {
		engine = recurrence.NewEngine(nil)
	}
	d := &Directory{store: store, engine: engine}
	if cacheTTL > 0 {
		d.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return d
}

// GetResource returns the resource or a *ResourceNotFoundError.
func (d *Directory) GetResource(ctx context.Context, id string) (Resource, error) {
	id = strings.TrimSpace(id)
	if d.cache != nil {
		if cached, ok := d.cache.Get(id); ok {
			return cached.(Resource).Clone(), nil
		}
	}
	if d.store == nil {
		return Resource{}, errors.New("scheduler: resource store not configured")
	}

	resource, err := d.store.GetResource(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, ErrResourceNotFound) {
			return Resource{}, &ResourceNotFoundError{ResourceID: id}
		}
		return Resource{}, fmt.Errorf("load resource %s: %w", id, err)
	}

	if d.cache != nil {
		d.cache.SetDefault(id, resource.Clone())
	}
	return resource, nil
}

// Invalidate drops a cached definition after the registry changes it.
func (d *Directory) Invalidate(id string) {
	if d.cache != nil {
		d.cache.Delete(id)
	}
}

// GetCapacity returns the concurrent-use limit of the resource.
func (d *Directory) GetCapacity(ctx context.Context, id string) (int, error) {
	resource, err := d.GetResource(ctx, id)
	if err != nil {
		return 0, err
	}
	return effectiveCapacity(resource), nil
}

// IsWithinAvailability reports whether [start, end) lies inside the union of
// the resource's expanded availability windows and touches no blackout.
func (d *Directory) IsWithinAvailability(ctx context.Context, id string, start, end time.Time) (bool, error) {
	resource, err := d.GetResource(ctx, id)
	if err != nil {
		return false, err
	}
	return d.available(resource, start, end)
}

func (d *Directory) available(resource Resource, start, end time.Time) (bool, error) {
	if !resource.Active || !end.After(start) {
		return false, nil
	}

	open, err := d.engine.ExpandAll(resource.Availability, start, end)
	if err != nil {
		return false, fmt.Errorf("expand availability of %s: %w", resource.ID, err)
	}
	if !recurrence.Covered(open, start, end) {
		return false, nil
	}

	if len(resource.Blackouts) == 0 {
		return true, nil
	}
	closed, err := d.engine.ExpandAll(resource.Blackouts, start, end)
	if err != nil {
		return false, fmt.Errorf("expand blackouts of %s: %w", resource.ID, err)
	}
	return !recurrence.Intersects(closed, start, end), nil
}

func effectiveCapacity(resource Resource) int {
	if resource.Capacity < 1 {
		return 1
	}
	return resource.Capacity
}
