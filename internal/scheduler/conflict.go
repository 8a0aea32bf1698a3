package scheduler

import (
	"context"
	"time"
)

// Detector evaluates a candidate window against the directory and index.
type Detector struct {
	directory *Directory
	index     *IntervalIndex
}

// NewDetector wires a detector over the given directory and index.
func NewDetector(directory *Directory, index *IntervalIndex) *Detector {
	return &Detector{directory: directory, index: index}
}

// Detect returns a Clear report or one conflict per blocked resource. An
// unknown resource is an error, not a conflict.
func (d *Detector) Detect(ctx context.Context, resourceIDs []string, start, end time.Time) (ConflictReport, error) {
	return d.detect(ctx, resourceIDs, start, end, "")
}

// detect ignores reservations held by the booking named in ignore, which lets
// slot searches for a reschedule treat the booking's own slot as free.
func (d *Detector) detect(ctx context.Context, resourceIDs []string, start, end time.Time, ignore string) (ConflictReport, error) {
	var report ConflictReport
	for _, id := range resourceIDs {
		if err := ctx.Err(); err != nil {
			return ConflictReport{}, err
		}

		resource, err := d.directory.GetResource(ctx, id)
		if err != nil {
			return ConflictReport{}, err
		}

		open, err := d.directory.available(resource, start, end)
		if err != nil {
			return ConflictReport{}, err
		}
		if !open {
			report.Conflicts = append(report.Conflicts, Conflict{ResourceID: id, Kind: ConflictOutsideAvailability})
			continue
		}

		capacity := effectiveCapacity(resource)
		overlapping := d.index.overlapsExcluding(id, start, end, ignore)
		if len(overlapping) >= capacity {
			report.Conflicts = append(report.Conflicts, occupancyConflict(id, capacity, overlapping))
		}
	}
	return report, nil
}
