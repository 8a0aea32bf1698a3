package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyNone marks a one-off window that does not repeat.
	FrequencyNone Frequency = iota
	// FrequencyDaily repeats the window every day, optionally filtered by weekday.
	FrequencyDaily
	// FrequencyWeekly repeats the window on the selected weekdays.
	FrequencyWeekly
)

var frequencyNames = map[Frequency]string{
	FrequencyNone:   "none",
	FrequencyDaily:  "daily",
	FrequencyWeekly: "weekly",
}

// String returns the lower-case name used in configuration and JSON payloads.
func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("frequency(%d)", int(f))
}

// ParseFrequency converts a textual frequency into its typed value.
func ParseFrequency(value string) (Frequency, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return FrequencyNone, nil
	}
	for freq, name := range frequencyNames {
		if name == normalized {
			return freq, nil
		}
	}
	return FrequencyNone, fmt.Errorf("%w: %q", ErrInvalidFrequency, value)
}

// MarshalText implements encoding.TextMarshaler.
func (f Frequency) MarshalText() ([]byte, error) {
	if _, ok := frequencyNames[f]; !ok {
		return nil, ErrInvalidFrequency
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Frequency) UnmarshalText(text []byte) error {
	parsed, err := ParseFrequency(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Rule describes how a window repeats.
type Rule struct {
	Frequency Frequency      `json:"frequency"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
}

// Window is a base interval plus the rule that repeats it. The wall-clock
// times of Start and End, read in the engine's location, are what repeat.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Rule  Rule      `json:"rule"`
}

// Occurrence is one concrete instance of a window.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Engine expands windows into occurrences.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that evaluates wall-clock times in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location reports the zone used for wall-clock expansion.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidRange indicates the expansion range is empty or inverted.
var ErrInvalidRange = errors.New("recurrence: range end must be after range start")

// ErrInvalidDuration indicates the base window duration is invalid.
var ErrInvalidDuration = errors.New("recurrence: window duration must be positive")

// Validate checks a window definition without expanding it.
func Validate(w Window) error {
	if !w.End.After(w.Start) {
		return ErrInvalidDuration
	}
	switch w.Rule.Frequency {
	case FrequencyNone, FrequencyDaily, FrequencyWeekly:
	default:
		return ErrInvalidFrequency
	}
	if w.Rule.Until != nil && w.Rule.Until.Before(w.Start) {
		return fmt.Errorf("recurrence: until %s precedes window start", w.Rule.Until.Format(time.RFC3339))
	}
	return nil
}

// Expand produces the occurrences of w that overlap the half-open range
// [from, to), ordered by start.
//
// Repeating windows keep their wall-clock start and end in the engine's
// location, so a 09:00-17:00 window stays 09:00-17:00 across DST changes.
// A window whose end falls on a later calendar day than its start spans the
// same number of days in every occurrence.
func (e *Engine) Expand(w Window, from, to time.Time) ([]Occurrence, error) {
	if err := Validate(w); err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, ErrInvalidRange
	}

	if w.Rule.Frequency == FrequencyNone {
		if w.Start.Before(to) && from.Before(w.End) {
			return []Occurrence{{Start: w.Start, End: w.End}}, nil
		}
		return nil, nil
	}

	loc := e.Location()
	baseStart := w.Start.In(loc)
	baseEnd := w.End.In(loc)
	spanDays := daysBetween(baseStart, baseEnd)

	weekdays := make(map[time.Weekday]struct{}, len(w.Rule.Weekdays))
	for _, day := range w.Rule.Weekdays {
		weekdays[day] = struct{}{}
	}
	if w.Rule.Frequency == FrequencyWeekly && len(weekdays) == 0 {
		weekdays[baseStart.Weekday()] = struct{}{}
	}

	// Start early enough to catch an occurrence that began before from and
	// is still running.
	first := dateOf(from.In(loc)).AddDate(0, 0, -(spanDays + 1))
	if baseDay := dateOf(baseStart); first.Before(baseDay) {
		first = baseDay
	}

	occurrences := make([]Occurrence, 0)
	for day := first; day.Before(to); day = day.AddDate(0, 0, 1) {
		start := combineDateTime(day, baseStart, loc)
		if start.Before(w.Start) {
			continue
		}
		if w.Rule.Until != nil && start.After(*w.Rule.Until) {
			break
		}
		if !start.Before(to) {
			break
		}
		if !shouldInclude(weekdays, day.Weekday()) {
			continue
		}
		end := combineDateTime(day.AddDate(0, 0, spanDays), baseEnd, loc)
		if !end.After(start) || !from.Before(end) {
			continue
		}
		occurrences = append(occurrences, Occurrence{Start: start, End: end})
	}

	return occurrences, nil
}

// ExpandAll expands every window and merges the results in start order.
func (e *Engine) ExpandAll(windows []Window, from, to time.Time) ([]Occurrence, error) {
	var all []Occurrence
	for i, w := range windows {
		occ, err := e.Expand(w, from, to)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		all = append(all, occ...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Start.Equal(all[j].Start) {
			return all[i].End.Before(all[j].End)
		}
		return all[i].Start.Before(all[j].Start)
	})
	return all, nil
}

// Covered reports whether the union of occurrences contains [start, end).
// Occurrences must be sorted by start.
func Covered(occurrences []Occurrence, start, end time.Time) bool {
	cursor := start
	for _, occ := range occurrences {
		if !occ.End.After(cursor) {
			continue
		}
		if occ.Start.After(cursor) {
			return false
		}
		cursor = occ.End
		if !cursor.Before(end) {
			return true
		}
	}
	return !cursor.Before(end)
}

// Intersects reports whether any occurrence overlaps [start, end).
func Intersects(occurrences []Occurrence, start, end time.Time) bool {
	for _, occ := range occurrences {
		if occ.Start.Before(end) && start.Before(occ.End) {
			return true
		}
	}
	return false
}

func shouldInclude(weekdays map[time.Weekday]struct{}, day time.Weekday) bool {
	if len(weekdays) == 0 {
		return true
	}
	_, ok := weekdays[day]
	return ok
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 12, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 12, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func combineDateTime(day, template time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, template.Hour(), template.Minute(), template.Second(), template.Nanosecond(), loc)
}
