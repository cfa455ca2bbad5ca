// Package catalog defines the ports through which the session core consumes
// the class/group catalog and tenant access control. Both are external
// collaborators: the core reads them as ground truth and never writes back.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/schedule"
)

// ClassStatus is the lifecycle state of the class owning a group.
type ClassStatus string

const (
	// ClassActive - the class is running; slots may be materialized.
	ClassActive ClassStatus = "active"
	// ClassPaused - temporarily suspended.
	ClassPaused ClassStatus = "paused"
	// ClassEnded - past its end date.
	ClassEnded ClassStatus = "ended"
	// ClassCanceled - called off entirely.
	ClassCanceled ClassStatus = "canceled"
)

// IsActive reports whether slots of this class may be turned into records.
func (s ClassStatus) IsActive() bool {
	return s == ClassActive
}

// GroupClass is the read-only snapshot of a group and its owning class used
// for denormalization at materialization time.
type GroupClass struct {
	GroupID   uuid.UUID
	CenterID  uuid.UUID
	BranchID  uuid.UUID
	ClassID   uuid.UUID
	TeacherID uuid.UUID
	ClassName string

	ClassStatus ClassStatus

	// Duration is the class session length.
	Duration time.Duration

	// Validity is the class's effective window in the center's zone.
	Validity schedule.Validity

	// Location is the owning center's time zone. "Monday 09:00" is a civil
	// concept in this zone, not in UTC.
	Location *time.Location
}

// Catalog is the class/group read port.
type Catalog interface {
	// GroupClass returns the snapshot for a group.
	// Returns shared.ErrNotFound for unknown groups.
	GroupClass(ctx context.Context, groupID uuid.UUID) (*GroupClass, error)

	// ScheduleItems returns the group's recurring weekly rules.
	ScheduleItems(ctx context.Context, groupID uuid.UUID) ([]schedule.Item, error)

	// ActiveGroupIDs returns every group whose class is currently active.
	// The backfill sweep expands these.
	ActiveGroupIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AccessControl is the tenant authorization port. It must be consulted before
// any materialization or transition acts on a decoded virtual identifier,
// because the embedded group id comes from the caller.
type AccessControl interface {
	// IsAuthorizedForGroup reports whether the user may act on the group.
	IsAuthorizedForGroup(ctx context.Context, userID, groupID uuid.UUID) (bool, error)

	// CanBypassInternalAccess reports whether the user holds a center-wide
	// override (owners, internal tooling).
	CanBypassInternalAccess(ctx context.Context, userID, centerID uuid.UUID) (bool, error)
}
