package sqlite

import (
	"context"

	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
)

// ChecklistRepository stores checklist sign-offs in SQLite.
type ChecklistRepository struct {
	pool  *ConnectionPool
	retry RetryConfig
}

// NewChecklistRepository creates a SQLite checklist repository.
func NewChecklistRepository(pool *ConnectionPool) *ChecklistRepository {
	return &ChecklistRepository{pool: pool, retry: DefaultRetryConfig()}
}

// SaveSignOff inserts a sign-off. A second record for the same phase fails
// with persistence.ErrDuplicate.
func (r *ChecklistRepository) SaveSignOff(ctx context.Context, bookingID string, record checklist.SignOff) error {
	return withRetry(ctx, r.retry, func() error {
		_, err := r.pool.db.ExecContext(ctx,
			`INSERT INTO checklist_signoffs (booking_id, phase, signed_by, signed_at) VALUES (?, ?, ?, ?)`,
			bookingID, string(record.Phase), record.SignedBy, formatTime(record.SignedAt),
		)
		return mapError(err)
	})
}

// ListSignOffs returns the sign-offs of bookingID in signing order.
func (r *ChecklistRepository) ListSignOffs(ctx context.Context, bookingID string) ([]checklist.SignOff, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT phase, signed_by, signed_at FROM checklist_signoffs
		WHERE booking_id = ?
		ORDER BY signed_at ASC, phase ASC
	`, bookingID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var records []checklist.SignOff
	for rows.Next() {
		var (
			record        checklist.SignOff
			phase, signed string
		)
		if err := rows.Scan(&phase, &record.SignedBy, &signed); err != nil {
			return nil, mapError(err)
		}
		record.Phase = checklist.Phase(phase)
		if record.SignedAt, err = parseTime(signed); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, mapError(rows.Err())
}
