// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Time Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Window is a half-open UTC time interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow creates a window, normalizing both bounds to UTC.
func NewWindow(from, to time.Time) Window {
	return Window{From: from.UTC(), To: to.UTC()}
}

// IsValid checks that the window is non-empty.
func (w Window) IsValid() bool {
	return w.From.Before(w.To)
}

// Contains reports whether t falls inside [From, To).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Intersect returns the intersection of two windows. The second return value
// is false when the windows do not overlap.
func (w Window) Intersect(other Window) (Window, bool) {
	from := w.From
	if other.From.After(from) {
		from = other.From
	}
	to := w.To
	if other.To.Before(to) {
		to = other.To
	}
	if !from.Before(to) {
		return Window{}, false
	}
	return Window{From: from, To: to}, true
}

// Overlaps reports whether two half-open intervals intersect:
// [a,b) and [c,d) conflict iff a < d && c < b.
func (w Window) Overlaps(other Window) bool {
	return w.From.Before(other.To) && other.From.Before(w.To)
}

// String returns a readable representation of the window.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
}
