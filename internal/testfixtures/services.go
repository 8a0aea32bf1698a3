package testfixtures

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence/memory"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// Store is what the harness needs from a backing store.
type Store interface {
	scheduler.ResourceStore
	scheduler.BookingStore
	CreateResource(ctx context.Context, resource scheduler.Resource) error
}

// SchedulerHarness bundles a scheduler with the deterministic collaborators
// it was built from.
type SchedulerHarness struct {
	Scheduler   *scheduler.Scheduler
	Store       Store
	Clock       *Clock
	IDGenerator *IDGenerator
	Events      *RecordingPublisher
}

// HarnessOption configures the scheduler under test.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	store  Store
	clock  *Clock
	ids    *IDGenerator
	policy scheduler.Policy
	locks  scheduler.LockManager
	guard  scheduler.TransitionGuard
	logger *slog.Logger
}

// WithStore replaces the default in-memory store.
func WithStore(store Store) HarnessOption {
	return func(c *harnessConfig) { c.store = store }
}

// WithClock overrides the clock used by the harness.
func WithClock(clock *Clock) HarnessOption {
	return func(c *harnessConfig) { c.clock = clock }
}

// WithIDGenerator overrides the booking id generator.
func WithIDGenerator(generator *IDGenerator) HarnessOption {
	return func(c *harnessConfig) { c.ids = generator }
}

// WithPolicy overrides the admission policy.
func WithPolicy(policy scheduler.Policy) HarnessOption {
	return func(c *harnessConfig) { c.policy = policy }
}

// WithLocks overrides the lock manager.
func WithLocks(locks scheduler.LockManager) HarnessOption {
	return func(c *harnessConfig) { c.locks = locks }
}

// WithGuard installs a transition guard.
func WithGuard(guard scheduler.TransitionGuard) HarnessOption {
	return func(c *harnessConfig) { c.guard = guard }
}

// TestPolicy is DefaultPolicy with a short lock timeout.
func TestPolicy() scheduler.Policy {
	policy := scheduler.DefaultPolicy()
	policy.LockTimeout = 200 * time.Millisecond
	return policy
}

// NewSchedulerHarness builds a scheduler over an in-memory store and seeds
// it with resources.
func NewSchedulerHarness(tb testing.TB, resources []scheduler.Resource, opts ...HarnessOption) *SchedulerHarness {
	tb.Helper()

	cfg := harnessConfig{policy: TestPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.clock == nil {
		cfg.clock = NewClock(time.Time{})
	}
	if cfg.ids == nil {
		cfg.ids = NewIDGenerator("booking")
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	for _, r := range resources {
		if err := cfg.store.CreateResource(context.Background(), r); err != nil {
			tb.Fatalf("seed resource %s: %v", r.ID, err)
		}
	}

	events := &RecordingPublisher{}
	s := scheduler.New(scheduler.Deps{
		Resources:   cfg.store,
		Bookings:    cfg.store,
		Locks:       cfg.locks,
		Publisher:   events,
		Guard:       cfg.guard,
		IDGenerator: cfg.ids.NextFunc(),
		Now:         cfg.clock.NowFunc(),
		Logger:      cfg.logger,
	}, cfg.policy)

	return &SchedulerHarness{
		Scheduler:   s,
		Store:       cfg.store,
		Clock:       cfg.clock,
		IDGenerator: cfg.ids,
		Events:      events,
	}
}
