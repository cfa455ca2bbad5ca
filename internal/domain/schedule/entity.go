// Package schedule contains the weekly recurrence rules owned by the classes
// module and the pure expansion logic that turns them into concrete session
// occurrences. This is the core of session virtualization - here there are no
// external dependencies and no I/O.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ═══════════════════════════════════════════════════════════════════════════

// LocalTime is a wall-clock time of day ("HH:mm") with no date or zone attached.
// It only becomes an instant when combined with a civil date and a location.
type LocalTime struct {
	Hour   int
	Minute int
}

// ParseLocalTime parses a strict "HH:mm" string (two digits each, 24h clock).
func ParseLocalTime(s string) (LocalTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return LocalTime{}, shared.WrapError("schedule", "ParseLocalTime", shared.ErrInvalidInput,
			"local time must be in HH:mm format", fmt.Errorf("got %q", s))
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return LocalTime{}, shared.WrapError("schedule", "ParseLocalTime", shared.ErrInvalidInput,
			"invalid hour", err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return LocalTime{}, shared.WrapError("schedule", "ParseLocalTime", shared.ErrInvalidInput,
			"invalid minute", err)
	}
	lt := LocalTime{Hour: h, Minute: m}
	if !lt.IsValid() {
		return LocalTime{}, shared.NewDomainError("schedule", "ParseLocalTime", shared.ErrInvalidInput,
			fmt.Sprintf("local time %q out of range", s))
	}
	return lt, nil
}

// MustParseLocalTime is ParseLocalTime that panics on error. For tests and constants.
func MustParseLocalTime(s string) LocalTime {
	lt, err := ParseLocalTime(s)
	if err != nil {
		panic(err)
	}
	return lt
}

// IsValid checks that the time of day is within range.
func (lt LocalTime) IsValid() bool {
	return lt.Hour >= 0 && lt.Hour <= 23 && lt.Minute >= 0 && lt.Minute <= 59
}

// String returns the "HH:mm" representation.
func (lt LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d", lt.Hour, lt.Minute)
}

// On combines the local time with the civil date of day in loc, producing an
// instant. DST gaps are normalized by time.Date.
func (lt LocalTime) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), lt.Hour, lt.Minute, 0, 0, loc)
}

// Validity is the effective window of the owning class: its start date and
// optional end date, both civil dates interpreted in the center's zone. The
// start date is inclusive from local midnight; the end date, when present, is
// inclusive through the end of that local day.
type Validity struct {
	StartDate time.Time
	EndDate   *time.Time
}

// Window converts the validity into a half-open UTC window, unbounded windows
// are capped by the caller's query window before use.
func (v Validity) Window(loc *time.Location) shared.Window {
	start := v.StartDate.In(loc)
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc).UTC()

	// A zero EndDate means the class runs until further notice.
	to := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if v.EndDate != nil {
		end := v.EndDate.In(loc)
		to = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).UTC()
	}
	return shared.Window{From: from, To: to}
}

// ═══════════════════════════════════════════════════════════════════════════
// SCHEDULE ITEM
// ═══════════════════════════════════════════════════════════════════════════

// Item is a recurring weekly rule (day + local start time) belonging to a group.
// Items are an immutable snapshot read from the classes module; their lifecycle
// is not owned here.
type Item struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	Weekday   time.Weekday
	StartTime LocalTime
}

// IsValid checks the rule's fields.
func (i Item) IsValid() bool {
	return i.ID != uuid.Nil && i.GroupID != uuid.Nil &&
		i.Weekday >= time.Sunday && i.Weekday <= time.Saturday &&
		i.StartTime.IsValid()
}

// ═══════════════════════════════════════════════════════════════════════════
// OCCURRENCE
// ═══════════════════════════════════════════════════════════════════════════

// Occurrence is one concrete slot produced by expanding a schedule item:
// a UTC start/end pair plus the identity of the rule that produced it.
// Occurrences are ephemeral and never persisted as-is.
type Occurrence struct {
	GroupID        uuid.UUID
	ScheduleItemID uuid.UUID
	StartAt        time.Time // UTC instant
	EndAt          time.Time // UTC instant
}
