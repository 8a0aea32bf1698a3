package scheduler

import (
	"context"
	"iter"
	"log/slog"
	"time"
)

// SlotFinder searches forward for windows where a whole resource set is free.
type SlotFinder struct {
	detector    *Detector
	directory   *Directory
	defaultStep time.Duration
	logger      *slog.Logger
}

// NewSlotFinder builds a finder. defaultStep is used when no resource in a
// query declares its own granularity.
func NewSlotFinder(detector *Detector, directory *Directory, defaultStep time.Duration, logger *slog.Logger) *SlotFinder {
	if defaultStep <= 0 {
		defaultStep = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlotFinder{detector: detector, directory: directory, defaultStep: defaultStep, logger: logger}
}

// Suggest yields Clear windows of the given duration, earliest first, whose
// starts step forward from earliestStart and which end no later than
// earliestStart+horizon. The sequence is lazy and finite. Every range over it
// recomputes from the current index, so it can be restarted. A lookup error
// ends the sequence early and is logged.
func (f *SlotFinder) Suggest(ctx context.Context, resourceIDs []string, duration time.Duration, earliestStart time.Time, horizon time.Duration) iter.Seq[Slot] {
	return f.suggest(ctx, resourceIDs, duration, earliestStart, horizon, "")
}

func (f *SlotFinder) suggest(ctx context.Context, resourceIDs []string, duration time.Duration, earliestStart time.Time, horizon time.Duration, ignore string) iter.Seq[Slot] {
	ids := append([]string(nil), resourceIDs...)
	return func(yield func(Slot) bool) {
		if len(ids) == 0 || duration <= 0 || horizon <= 0 {
			return
		}
		step, err := f.step(ctx, ids)
		if err != nil {
			f.logger.WarnContext(ctx, "slot search aborted", "error", err)
			return
		}

		limit := earliestStart.Add(horizon)
		for start := earliestStart; !start.Add(duration).After(limit); start = start.Add(step) {
			end := start.Add(duration)
			report, err := f.detector.detect(ctx, ids, start, end, ignore)
			if err != nil {
				f.logger.WarnContext(ctx, "slot search aborted", "error", err)
				return
			}
			if report.Clear() && !yield(Slot{Start: start, End: end}) {
				return
			}
		}
	}
}

// step is the coarsest granularity declared by the resources, so every
// candidate lands on a boundary each of them accepts.
func (f *SlotFinder) step(ctx context.Context, ids []string) (time.Duration, error) {
	step := time.Duration(0)
	for _, id := range ids {
		resource, err := f.directory.GetResource(ctx, id)
		if err != nil {
			return 0, err
		}
		if resource.Granularity > step {
			step = resource.Granularity
		}
	}
	if step == 0 {
		step = f.defaultStep
	}
	return step, nil
}

// take collects at most n slots from seq.
func take(seq iter.Seq[Slot], n int) []Slot {
	if n <= 0 {
		return nil
	}
	out := make([]Slot, 0, n)
	for slot := range seq {
		out = append(out, slot)
		if len(out) >= n {
			break
		}
	}
	return out
}
