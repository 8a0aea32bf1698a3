package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

var (
	resourceColumns = []string{
		"id", "name", "type", "capacity", "availability", "blackouts",
		"granularity_seconds", "active", "created_at", "updated_at",
	}
	bookingColumns = []string{
		"b.id", "b.status", "b.priority", "b.version", "b.start_at", "b.end_at",
		"b.requested_by", "b.notes", "b.created_at", "b.last_transition_at",
	}
)

// --- resources ---

// CreateResource inserts a new resource.
func (s *Store) CreateResource(ctx context.Context, resource scheduler.Resource) error {
	availability, blackouts, err := encodeWindows(resource)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("resources").
		Columns(resourceColumns...).
		Values(
			resource.ID,
			resource.Name,
			string(resource.Type),
			resource.Capacity,
			availability,
			blackouts,
			int64(resource.Granularity/time.Second),
			resource.Active,
			resource.CreatedAt.UTC(),
			resource.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert resource: %w", err)
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return mapError(err)
}

// UpdateResource replaces an existing resource definition.
func (s *Store) UpdateResource(ctx context.Context, resource scheduler.Resource) error {
	availability, blackouts, err := encodeWindows(resource)
	if err != nil {
		return err
	}
	query, args, err := psql.Update("resources").
		SetMap(map[string]any{
			"name":                resource.Name,
			"type":                string(resource.Type),
			"capacity":            resource.Capacity,
			"availability":        availability,
			"blackouts":           blackouts,
			"granularity_seconds": int64(resource.Granularity / time.Second),
			"active":              resource.Active,
			"updated_at":          resource.UpdatedAt.UTC(),
		}).
		Where(squirrel.Eq{"id": resource.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update resource: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetResource retrieves a resource by ID.
func (s *Store) GetResource(ctx context.Context, id string) (scheduler.Resource, error) {
	query, args, err := psql.Select(resourceColumns...).From("resources").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return scheduler.Resource{}, fmt.Errorf("build select resource: %w", err)
	}
	return scanResource(s.pool.QueryRow(ctx, query, args...))
}

// ListResources returns all resources ordered by name then ID.
func (s *Store) ListResources(ctx context.Context) ([]scheduler.Resource, error) {
	query, args, err := psql.Select(resourceColumns...).From("resources").OrderBy("name ASC", "id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list resources: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
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
	return resources, mapError(rows.Err())
}

func scanResource(row pgx.Row) (scheduler.Resource, error) {
	var (
		resource                scheduler.Resource
		kind                    string
		availability, blackouts []byte
		granularity             int64
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
		&resource.CreatedAt,
		&resource.UpdatedAt,
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
	return resource, nil
}

func encodeWindows(resource scheduler.Resource) (string, string, error) {
	availability := resource.Availability
	if availability == nil {
		availability = []recurrence.Window{}
	}
	blackouts := resource.Blackouts
	if blackouts == nil {
		blackouts = []recurrence.Window{}
	}
	a, err := json.Marshal(availability)
	if err != nil {
		return "", "", fmt.Errorf("encode availability: %w", err)
	}
	b, err := json.Marshal(blackouts)
	if err != nil {
		return "", "", fmt.Errorf("encode blackouts: %w", err)
	}
	return string(a), string(b), nil
}

func decodeWindows(raw []byte) ([]recurrence.Window, error) {
	var windows []recurrence.Window
	if err := json.Unmarshal(raw, &windows); err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}
	return windows, nil
}

// --- bookings ---

// CreateBooking inserts a booking and its resource links in one transaction.
func (s *Store) CreateBooking(ctx context.Context, booking scheduler.Booking) error {
	query, args, err := psql.Insert("bookings").
		Columns("id", "status", "priority", "version", "start_at", "end_at",
			"requested_by", "notes", "created_at", "last_transition_at").
		Values(
			booking.ID,
			string(booking.Status),
			string(booking.Priority),
			booking.Version,
			booking.Window.Start.UTC(),
			booking.Window.End.UTC(),
			booking.RequestedBy,
			booking.Notes,
			booking.CreatedAt.UTC(),
			booking.LastTransitionAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert booking: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return mapError(err)
		}
		return insertLinks(ctx, tx, booking)
	})
}

// UpdateBooking replaces a booking if the stored version equals expectedVersion.
func (s *Store) UpdateBooking(ctx context.Context, booking scheduler.Booking, expectedVersion int64) error {
	query, args, err := psql.Update("bookings").
		SetMap(map[string]any{
			"status":             string(booking.Status),
			"priority":           string(booking.Priority),
			"version":            booking.Version,
			"start_at":           booking.Window.Start.UTC(),
			"end_at":             booking.Window.End.UTC(),
			"requested_by":       booking.RequestedBy,
			"notes":              booking.Notes,
			"last_transition_at": booking.LastTransitionAt.UTC(),
		}).
		Where(squirrel.Eq{"id": booking.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update booking: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return mapError(err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, booking.ID).Scan(&exists); err != nil {
				return mapError(err)
			}
			if !exists {
				return persistence.ErrNotFound
			}
			return persistence.ErrVersionConflict
		}
		if _, err := tx.Exec(ctx, `DELETE FROM booking_resources WHERE booking_id = $1`, booking.ID); err != nil {
			return mapError(err)
		}
		return insertLinks(ctx, tx, booking)
	})
}

// GetBooking retrieves a booking by ID.
func (s *Store) GetBooking(ctx context.Context, id string) (scheduler.Booking, error) {
	bookings, err := s.listBookings(ctx, bookingQuery().Where(squirrel.Eq{"b.id": id}))
	if err != nil {
		return scheduler.Booking{}, err
	}
	if len(bookings) == 0 {
		return scheduler.Booking{}, persistence.ErrNotFound
	}
	return bookings[0], nil
}

// ListActiveBookings returns bookings that hold reservations, ordered by start.
func (s *Store) ListActiveBookings(ctx context.Context) ([]scheduler.Booking, error) {
	return s.listBookings(ctx, bookingQuery().
		Where(squirrel.Eq{"b.status": []string{string(scheduler.StatusConfirmed), string(scheduler.StatusInProgress)}}))
}

// ListActiveBookingsForResources returns active bookings linked to any of
// resourceIDs, ordered by start.
func (s *Store) ListActiveBookingsForResources(ctx context.Context, resourceIDs []string) ([]scheduler.Booking, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	return s.listBookings(ctx, activeForResourcesQuery(resourceIDs))
}

func activeForResourcesQuery(resourceIDs []string) squirrel.SelectBuilder {
	return bookingQuery().
		Where(squirrel.Eq{"b.status": []string{string(scheduler.StatusConfirmed), string(scheduler.StatusInProgress)}}).
		Where(squirrel.Expr("EXISTS (SELECT 1 FROM booking_resources f WHERE f.booking_id = b.id AND f.resource_id = ANY(?))", resourceIDs))
}

// ListBookingsByResource returns bookings on resourceID overlapping [from, to).
func (s *Store) ListBookingsByResource(ctx context.Context, resourceID string, from, to time.Time) ([]scheduler.Booking, error) {
	return s.listBookings(ctx, bookingQuery().
		Where(squirrel.Expr("EXISTS (SELECT 1 FROM booking_resources f WHERE f.booking_id = b.id AND f.resource_id = ?)", resourceID)).
		Where(squirrel.Lt{"b.start_at": to.UTC()}).
		Where(squirrel.Gt{"b.end_at": from.UTC()}))
}

// bookingQuery selects bookings with their resource ids aggregated in link order.
func bookingQuery() squirrel.SelectBuilder {
	columns := append(append([]string(nil), bookingColumns...),
		"COALESCE(array_agg(br.resource_id ORDER BY br.position) FILTER (WHERE br.resource_id IS NOT NULL), '{}')")
	return psql.Select(columns...).
		From("bookings b").
		LeftJoin("booking_resources br ON br.booking_id = b.id").
		GroupBy("b.id").
		OrderBy("b.start_at ASC", "b.id ASC")
}

func (s *Store) listBookings(ctx context.Context, builder squirrel.SelectBuilder) ([]scheduler.Booking, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select bookings: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var bookings []scheduler.Booking
	for rows.Next() {
		var (
			b                scheduler.Booking
			status, priority string
		)
		if err := rows.Scan(
			&b.ID,
			&status,
			&priority,
			&b.Version,
			&b.Window.Start,
			&b.Window.End,
			&b.RequestedBy,
			&b.Notes,
			&b.CreatedAt,
			&b.LastTransitionAt,
			&b.ResourceIDs,
		); err != nil {
			return nil, mapError(err)
		}
		b.Status = scheduler.Status(status)
		b.Priority = scheduler.Priority(priority)
		bookings = append(bookings, b)
	}
	return bookings, mapError(rows.Err())
}

func insertLinks(ctx context.Context, tx pgx.Tx, booking scheduler.Booking) error {
	if len(booking.ResourceIDs) == 0 {
		return nil
	}
	insert := psql.Insert("booking_resources").Columns("booking_id", "resource_id", "position")
	for position, resourceID := range booking.ResourceIDs {
		insert = insert.Values(booking.ID, resourceID, position)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert links: %w", err)
	}
	_, err = tx.Exec(ctx, query, args...)
	return mapError(err)
}

// --- checklist ---

// SaveSignOff inserts a sign-off. A second record for the same phase fails
// with persistence.ErrDuplicate.
func (s *Store) SaveSignOff(ctx context.Context, bookingID string, record checklist.SignOff) error {
	query, args, err := psql.Insert("checklist_signoffs").
		Columns("booking_id", "phase", "signed_by", "signed_at").
		Values(bookingID, string(record.Phase), record.SignedBy, record.SignedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert sign-off: %w", err)
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return mapError(err)
}

// ListSignOffs returns the sign-offs of bookingID in signing order.
func (s *Store) ListSignOffs(ctx context.Context, bookingID string) ([]checklist.SignOff, error) {
	query, args, err := psql.Select("phase", "signed_by", "signed_at").
		From("checklist_signoffs").
		Where(squirrel.Eq{"booking_id": bookingID}).
		OrderBy("signed_at ASC", "phase ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select sign-offs: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var records []checklist.SignOff
	for rows.Next() {
		var (
			record checklist.SignOff
			phase  string
		)
		if err := rows.Scan(&phase, &record.SignedBy, &record.SignedAt); err != nil {
			return nil, mapError(err)
		}
		record.Phase = checklist.Phase(phase)
		records = append(records, record)
	}
	return records, mapError(rows.Err())
}
