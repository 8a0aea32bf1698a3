package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

const resourceColumns = `id, name, type, capacity, availability, blackouts, granularity_seconds, active, created_at, updated_at`

// ResourceRepository stores resource definitions in SQLite.
type ResourceRepository struct {
	pool  *ConnectionPool
	retry RetryConfig
}

// NewResourceRepository creates a SQLite resource repository.
func NewResourceRepository(pool *ConnectionPool) *ResourceRepository {
	return &ResourceRepository{pool: pool, retry: DefaultRetryConfig()}
}

// CreateResource inserts a new resource.
func (r *ResourceRepository) CreateResource(ctx context.Context, resource scheduler.Resource) error {
	if resource.ID == "" {
		return persistence.ErrConstraintViolation
	}
	availability, blackouts, err := encodeWindows(resource)
	if err != nil {
		return err
	}

	query := `INSERT INTO resources (` + resourceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return withRetry(ctx, r.retry, func() error {
		_, err := r.pool.db.ExecContext(ctx, query,
			resource.ID,
			resource.Name,
			string(resource.Type),
			resource.Capacity,
			availability,
			blackouts,
			int64(resource.Granularity/time.Second),
			resource.Active,
			formatTime(resource.CreatedAt),
			formatTime(resource.UpdatedAt),
		)
		return mapError(err)
	})
}

// UpdateResource replaces an existing resource definition.
func (r *ResourceRepository) UpdateResource(ctx context.Context, resource scheduler.Resource) error {
	availability, blackouts, err := encodeWindows(resource)
	if err != nil {
		return err
	}

	query := `
		UPDATE resources
		SET name = ?, type = ?, capacity = ?, availability = ?, blackouts = ?,
		    granularity_seconds = ?, active = ?, updated_at = ?
		WHERE id = ?
	`
	return withRetry(ctx, r.retry, func() error {
		result, err := r.pool.db.ExecContext(ctx, query,
			resource.Name,
			string(resource.Type),
			resource.Capacity,
			availability,
			blackouts,
			int64(resource.Granularity/time.Second),
			resource.Active,
			formatTime(resource.UpdatedAt),
			resource.ID,
		)
		if err != nil {
			return mapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

// GetResource retrieves a resource by ID.
func (r *ResourceRepository) GetResource(ctx context.Context, id string) (scheduler.Resource, error) {
	if id == "" {
		return scheduler.Resource{}, persistence.ErrNotFound
	}
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	return scanResource(row)
}

// ListResources returns all resources ordered by name then ID.
func (r *ResourceRepository) ListResources(ctx context.Context) ([]scheduler.Resource, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var resources []scheduler.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return resources, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (scheduler.Resource, error) {
	var (
		resource                scheduler.Resource
		kind                    string
		availability, blackouts string
		granularity             int64
		createdAt, updatedAt    string
	)
	err := row.Scan(
		&resource.ID,
		&resource.Name,
		&kind,
		&resource.Capacity,
		&availability,
		&blackouts,
		&granularity,
		&resource.Active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return scheduler.Resource{}, mapError(err)
	}

	resource.Type = scheduler.ResourceType(kind)
	resource.Granularity = time.Duration(granularity) * time.Second
	if resource.Availability, err = decodeWindows(availability); err != nil {
		return scheduler.Resource{}, fmt.Errorf("decode availability of %s: %w", resource.ID, err)
	}
	if resource.Blackouts, err = decodeWindows(blackouts); err != nil {
		return scheduler.Resource{}, fmt.Errorf("decode blackouts of %s: %w", resource.ID, err)
	}
	if resource.CreatedAt, err = parseTime(createdAt); err != nil {
		return scheduler.Resource{}, err
	}
	if resource.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return scheduler.Resource{}, err
	}
	return resource, nil
}

func encodeWindows(resource scheduler.Resource) (string, string, error) {
	availability, err := json.Marshal(nonNil(resource.Availability))
	if err != nil {
		return "", "", fmt.Errorf("encode availability: %w", err)
	}
	blackouts, err := json.Marshal(nonNil(resource.Blackouts))
	if err != nil {
		return "", "", fmt.Errorf("encode blackouts: %w", err)
	}
	return string(availability), string(blackouts), nil
}

func decodeWindows(raw string) ([]recurrence.Window, error) {
	if raw == "" {
		return nil, errors.New("empty window document")
	}
	var windows []recurrence.Window
	if err := json.Unmarshal([]byte(raw), &windows); err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}
	return windows, nil
}

func nonNil(windows []recurrence.Window) []recurrence.Window {
	if windows == nil {
		return []recurrence.Window{}
	}
	return windows
}
