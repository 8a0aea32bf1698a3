package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}

// Store bundles the SQLite repositories over one connection pool.
type Store struct {
	*ResourceRepository
	*BookingRepository
	*ChecklistRepository

	pool *ConnectionPool
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, config Config, logger *slog.Logger) (*Store, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Migrate(ctx, logger); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return NewStore(pool), nil
}

// NewStore wires repositories over an existing pool.
func NewStore(pool *ConnectionPool) *Store {
	return &Store{
		ResourceRepository:  NewResourceRepository(pool),
		BookingRepository:   NewBookingRepository(pool),
		ChecklistRepository: NewChecklistRepository(pool),
		pool:                pool,
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
