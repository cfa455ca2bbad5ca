package schedule

import (
	"sort"
	"time"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// Expander turns weekly schedule rules plus a date window and a timezone into
// an ordered sequence of candidate session occurrences.
//
// Expansion is a pure function: the same (items, window, location, validity,
// duration) input always yields identical output. It reads no wall clock and
// performs no I/O, which is what makes virtual sessions free to recompute.
type Expander struct{}

// NewExpander creates an Expander.
func NewExpander() *Expander {
	return &Expander{}
}

// Expand walks calendar days in the center's zone across the intersection of
// the query window and the class validity window, emitting one occurrence for
// every day whose local weekday matches a rule. "Monday" is a civil-calendar
// concept, so weekday matching happens in loc, never in UTC. The session end
// is start plus duration as absolute arithmetic, which stays correct across
// DST transitions and midnight.
func (e *Expander) Expand(items []Item, window shared.Window, loc *time.Location, validity Validity, duration time.Duration) []Occurrence {
	if loc == nil || !window.IsValid() || duration <= 0 {
		return nil
	}

	effective, ok := window.Intersect(validity.Window(loc))
	if !ok {
		return nil
	}

	occurrences := make([]Occurrence, 0, len(items)*8)
	for _, item := range items {
		if !item.IsValid() {
			continue
		}
		occurrences = append(occurrences, e.expandItem(item, effective, loc, duration)...)
	}

	sort.Slice(occurrences, func(i, j int) bool {
		if !occurrences[i].StartAt.Equal(occurrences[j].StartAt) {
			return occurrences[i].StartAt.Before(occurrences[j].StartAt)
		}
		return occurrences[i].ScheduleItemID.String() < occurrences[j].ScheduleItemID.String()
	})
	return occurrences
}

// expandItem emits the occurrences of a single rule inside an already
// intersected window.
func (e *Expander) expandItem(item Item, window shared.Window, loc *time.Location, duration time.Duration) []Occurrence {
	var out []Occurrence

	// Start from local midnight of the window's first civil day; the first
	// occurrence may start before window.From within that day and is filtered
	// by the instant check below.
	first := window.From.In(loc)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	for ; day.Before(window.To.In(loc).AddDate(0, 0, 1)); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != item.Weekday {
			continue
		}
		startAt := item.StartTime.On(day, loc).UTC()
		if !window.Contains(startAt) {
			continue
		}
		out = append(out, Occurrence{
			GroupID:        item.GroupID,
			ScheduleItemID: item.ID,
			StartAt:        startAt,
			EndAt:          startAt.Add(duration),
		})
	}
	return out
}

// OccursAt reports whether the rule produces a slot starting exactly at the
// given UTC instant. Materialization uses this to re-derive a single slot from
// a virtual identifier without expanding a whole window.
func (e *Expander) OccursAt(item Item, startAt time.Time, loc *time.Location, validity Validity) bool {
	if loc == nil || !item.IsValid() {
		return false
	}
	if !validity.Window(loc).Contains(startAt.UTC()) {
		return false
	}
	local := startAt.In(loc)
	return local.Weekday() == item.Weekday &&
		local.Hour() == item.StartTime.Hour &&
		local.Minute() == item.StartTime.Minute &&
		local.Second() == 0 && local.Nanosecond() == 0
}
