package session

import (
	"sort"
)

// Merger combines materialized sessions with the virtual occurrences computed
// for the same window into one sorted read view.
type Merger struct{}

// NewMerger creates a Merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Merge inserts every virtual entry first, then overwrites with every
// materialized entry sharing the same (groupId, startTime) slot key. A
// materialized row is ground truth - it may carry a different status or title,
// or be a cancellation tombstone - and must suppress the synthetic projection
// for its slot. The result is sorted ascending by start time.
func (m *Merger) Merge(stored []*Session, virtual []*VirtualSession) []MergedSession {
	bySlot := make(map[mapKey]MergedSession, len(stored)+len(virtual))

	for _, v := range virtual {
		bySlot[v.SlotKey().mapKey()] = MergedFromVirtual(v)
	}
	for _, s := range stored {
		bySlot[s.SlotKey().mapKey()] = MergedFromSession(s)
	}

	out := make([]MergedSession, 0, len(bySlot))
	for _, ms := range bySlot {
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
