package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/schedule"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY IMPLEMENTATION
// Read-only views over the catalog tables owned by the classes module.
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements catalog.Catalog for PostgreSQL.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// GroupClass returns the denormalized snapshot of a group and its class.
func (r *CatalogRepository) GroupClass(ctx context.Context, groupID uuid.UUID) (*catalog.GroupClass, error) {
	query := `
		SELECT g.id, cl.center_id, cl.branch_id, cl.id, g.teacher_id, cl.name,
		       cl.status, cl.session_duration_minutes, cl.start_date, cl.end_date,
		       ce.timezone
		FROM groups g
		JOIN classes cl ON cl.id = g.class_id
		JOIN centers ce ON ce.id = cl.center_id
		WHERE g.id = $1
	`

	var (
		gc              catalog.GroupClass
		status          string
		durationMinutes int
		startDate       time.Time
		endDate         *time.Time
		timezone        string
	)
	err := r.conn.QueryRow(ctx, query, groupID).Scan(
		&gc.GroupID, &gc.CenterID, &gc.BranchID, &gc.ClassID, &gc.TeacherID, &gc.ClassName,
		&status, &durationMinutes, &startDate, &endDate, &timezone,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("catalog", "GroupClass", shared.ErrNotFound,
				fmt.Sprintf("group %s not found", groupID))
		}
		return nil, fmt.Errorf("failed to load group class: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("center %s has invalid timezone %q: %w", gc.CenterID, timezone, err)
	}

	gc.ClassStatus = catalog.ClassStatus(status)
	gc.Duration = time.Duration(durationMinutes) * time.Minute
	gc.Validity = schedule.Validity{StartDate: startDate, EndDate: endDate}
	gc.Location = loc
	return &gc, nil
}

// ScheduleItems returns the group's weekly rules.
func (r *CatalogRepository) ScheduleItems(ctx context.Context, groupID uuid.UUID) ([]schedule.Item, error) {
	query := `
		SELECT id, group_id, weekday, start_time
		FROM schedule_items
		WHERE group_id = $1
		ORDER BY weekday, start_time
	`

	rows, err := r.conn.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule items: %w", err)
	}
	defer rows.Close()

	var items []schedule.Item
	for rows.Next() {
		var (
			item      schedule.Item
			weekday   int
			startTime string
		)
		if err := rows.Scan(&item.ID, &item.GroupID, &weekday, &startTime); err != nil {
			return nil, fmt.Errorf("failed to scan schedule item: %w", err)
		}
		lt, err := schedule.ParseLocalTime(startTime)
		if err != nil {
			return nil, fmt.Errorf("schedule item %s has invalid start time: %w", item.ID, err)
		}
		item.Weekday = time.Weekday(weekday)
		item.StartTime = lt
		items = append(items, item)
	}
	return items, rows.Err()
}

// ActiveGroupIDs returns every group whose class is active.
func (r *CatalogRepository) ActiveGroupIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT g.id
		FROM groups g
		JOIN classes cl ON cl.id = g.class_id
		WHERE cl.status = 'active'
		ORDER BY g.id
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active groups: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCESS CONTROL IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AccessRepository implements catalog.AccessControl for PostgreSQL.
type AccessRepository struct {
	conn *Connection
}

// NewAccessRepository creates a new AccessRepository.
func NewAccessRepository(conn *Connection) *AccessRepository {
	return &AccessRepository{conn: conn}
}

// IsAuthorizedForGroup checks staff assignment on the group.
func (r *AccessRepository) IsAuthorizedForGroup(ctx context.Context, userID, groupID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_staff WHERE user_id = $1 AND group_id = $2)`,
		userID, groupID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check group authorization: %w", err)
	}
	return exists, nil
}

// CanBypassInternalAccess checks for center-wide staff membership.
func (r *AccessRepository) CanBypassInternalAccess(ctx context.Context, userID, centerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM center_staff WHERE user_id = $1 AND center_id = $2)`,
		userID, centerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check center authorization: %w", err)
	}
	return exists, nil
}
