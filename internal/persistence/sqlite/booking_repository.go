package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

const bookingColumns = `id, status, priority, version, start_at, end_at, requested_by, notes, created_at, last_transition_at`

// BookingRepository stores bookings and their resource sets in SQLite.
type BookingRepository struct {
	pool  *ConnectionPool
	retry RetryConfig
}

// NewBookingRepository creates a SQLite booking repository.
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{pool: pool, retry: DefaultRetryConfig()}
}

// CreateBooking inserts a booking and its resource links in one transaction.
func (r *BookingRepository) CreateBooking(ctx context.Context, booking scheduler.Booking) error {
	if booking.ID == "" {
		return persistence.ErrConstraintViolation
	}
	return withRetry(ctx, r.retry, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				booking.ID,
				string(booking.Status),
				string(booking.Priority),
				booking.Version,
				formatTime(booking.Window.Start),
				formatTime(booking.Window.End),
				booking.RequestedBy,
				booking.Notes,
				formatTime(booking.CreatedAt),
				formatTime(booking.LastTransitionAt),
			)
			if err != nil {
				return mapError(err)
			}
			return insertLinks(ctx, tx, booking)
		})
	})
}

// UpdateBooking replaces a booking if the stored version equals expectedVersion.
func (r *BookingRepository) UpdateBooking(ctx context.Context, booking scheduler.Booking, expectedVersion int64) error {
	return withRetry(ctx, r.retry, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, `
				UPDATE bookings
				SET status = ?, priority = ?, version = ?, start_at = ?, end_at = ?,
				    requested_by = ?, notes = ?, last_transition_at = ?
				WHERE id = ? AND version = ?
			`,
				string(booking.Status),
				string(booking.Priority),
				booking.Version,
				formatTime(booking.Window.Start),
				formatTime(booking.Window.End),
				booking.RequestedBy,
				booking.Notes,
				formatTime(booking.LastTransitionAt),
				booking.ID,
				expectedVersion,
			)
			if err != nil {
				return mapError(err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if affected == 0 {
				var exists int
				err := tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, booking.ID).Scan(&exists)
				if errors.Is(err, sql.ErrNoRows) {
					return persistence.ErrNotFound
				}
				if err != nil {
					return mapError(err)
				}
				return persistence.ErrVersionConflict
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM booking_resources WHERE booking_id = ?`, booking.ID); err != nil {
				return mapError(err)
			}
			return insertLinks(ctx, tx, booking)
		})
	})
}

// GetBooking retrieves a booking by ID.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (scheduler.Booking, error) {
	if id == "" {
		return scheduler.Booking{}, persistence.ErrNotFound
	}
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	booking, err := scanBooking(row)
	if err != nil {
		return scheduler.Booking{}, err
	}
	if booking.ResourceIDs, err = loadLinks(ctx, r.pool.db, booking.ID); err != nil {
		return scheduler.Booking{}, err
	}
	return booking, nil
}

// ListActiveBookings returns bookings that hold reservations, ordered by start.
func (r *BookingRepository) ListActiveBookings(ctx context.Context) ([]scheduler.Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status IN (?, ?)
		ORDER BY start_at ASC, id ASC
	`, string(scheduler.StatusConfirmed), string(scheduler.StatusInProgress))
}

// ListActiveBookingsForResources returns active bookings linked to any of
// resourceIDs, ordered by start.
func (r *BookingRepository) ListActiveBookingsForResources(ctx context.Context, resourceIDs []string) ([]scheduler.Booking, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	args := []any{string(scheduler.StatusConfirmed), string(scheduler.StatusInProgress)}
	for _, id := range resourceIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(resourceIDs)), ", ")
	return r.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status IN (?, ?)
		  AND id IN (SELECT booking_id FROM booking_resources WHERE resource_id IN (`+placeholders+`))
		ORDER BY start_at ASC, id ASC
	`, args...)
}

// ListBookingsByResource returns bookings on resourceID overlapping [from, to).
func (r *BookingRepository) ListBookingsByResource(ctx context.Context, resourceID string, from, to time.Time) ([]scheduler.Booking, error) {
	return r.list(ctx, `
		SELECT b.id, b.status, b.priority, b.version, b.start_at, b.end_at, b.requested_by, b.notes, b.created_at, b.last_transition_at
		FROM bookings b
		JOIN booking_resources br ON br.booking_id = b.id
		WHERE br.resource_id = ? AND b.start_at < ? AND b.end_at > ?
		ORDER BY b.start_at ASC, b.id ASC
	`, resourceID, formatTime(to), formatTime(from))
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]scheduler.Booking, error) {
	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}

	var bookings []scheduler.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError(err)
	}
	rows.Close()

	for i := range bookings {
		if bookings[i].ResourceIDs, err = loadLinks(ctx, r.pool.db, bookings[i].ID); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

func insertLinks(ctx context.Context, q querier, booking scheduler.Booking) error {
	for position, resourceID := range booking.ResourceIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO booking_resources (booking_id, resource_id, position) VALUES (?, ?, ?)`,
			booking.ID, resourceID, position,
		); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func loadLinks(ctx context.Context, q querier, bookingID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT resource_id FROM booking_resources WHERE booking_id = ? ORDER BY position ASC`, bookingID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		ids = append(ids, id)
	}
	return ids, mapError(rows.Err())
}

func scanBooking(row rowScanner) (scheduler.Booking, error) {
	var (
		booking                   scheduler.Booking
		status, priority          string
		start, end                string
		createdAt, transitionedAt string
	)
	err := row.Scan(
		&booking.ID,
		&status,
		&priority,
		&booking.Version,
		&start,
		&end,
		&booking.RequestedBy,
		&booking.Notes,
		&createdAt,
		&transitionedAt,
	)
	if err != nil {
		return scheduler.Booking{}, mapError(err)
	}

	booking.Status = scheduler.Status(status)
	booking.Priority = scheduler.Priority(priority)
	if booking.Window.Start, err = parseTime(start); err != nil {
		return scheduler.Booking{}, err
	}
	if booking.Window.End, err = parseTime(end); err != nil {
		return scheduler.Booking{}, err
	}
	if booking.CreatedAt, err = parseTime(createdAt); err != nil {
		return scheduler.Booking{}, err
	}
	if booking.LastTransitionAt, err = parseTime(transitionedAt); err != nil {
		return scheduler.Booking{}, err
	}
	return booking, nil
}
