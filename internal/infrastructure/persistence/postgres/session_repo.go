package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const sessionColumns = `id, group_id, center_id, branch_id, class_id, teacher_id,
	schedule_item_id, title, start_at, end_at, status, is_extra,
	actual_start_at, actual_finish_at, created_at, updated_at`

// SessionRepository implements session.Store for PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// FindByID returns a session by its stored id.
func (r *SessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	s, err := r.scanSession(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("session", "FindByID", shared.ErrNotFound,
				fmt.Sprintf("session %s not found", id))
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return s, nil
}

// FindByGroupAndStartTime looks a session up by its slot key.
func (r *SessionRepository) FindByGroupAndStartTime(ctx context.Context, groupID uuid.UUID, startAt time.Time) (*session.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE group_id = $1 AND start_at = $2`, sessionColumns)
	s, err := r.scanSession(r.conn.QueryRow(ctx, query, groupID, startAt.UTC()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("session", "FindByGroupAndStartTime", shared.ErrNotFound,
				"slot has not been materialized")
		}
		return nil, fmt.Errorf("failed to find session by slot: %w", err)
	}
	return s, nil
}

// ListInWindow returns the sessions of the given groups inside the half-open
// window, ordered by start time.
func (r *SessionRepository) ListInWindow(ctx context.Context, groupIDs []uuid.UUID, window shared.Window) ([]*session.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE group_id = ANY($1) AND start_at >= $2 AND start_at < $3
		ORDER BY start_at, id
	`, sessionColumns)

	rows, err := r.conn.Query(ctx, query, groupIDs, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// InsertIgnoringConflict inserts the session under the slot uniqueness
// constraint. ON CONFLICT DO NOTHING turns a lost race into zero affected
// rows; the existing row is then re-read and returned as the winner.
func (r *SessionRepository) InsertIgnoringConflict(ctx context.Context, s *session.Session) (*session.Session, bool, error) {
	query := `
		INSERT INTO sessions (
			id, group_id, center_id, branch_id, class_id, teacher_id,
			schedule_item_id, title, start_at, end_at, status, is_extra,
			actual_start_at, actual_finish_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT ON CONSTRAINT sessions_slot_unique DO NOTHING
	`

	tag, err := r.conn.Exec(ctx, query,
		s.ID, s.GroupID, s.CenterID, s.BranchID, s.ClassID, s.TeacherID,
		s.ScheduleItemID, s.Title, s.StartAt.UTC(), s.EndAt.UTC(), string(s.Status), s.IsExtra,
		s.ActualStartAt, s.ActualFinishAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return s, true, nil
	}

	existing, err := r.FindByGroupAndStartTime(ctx, s.GroupID, s.StartAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert conflicted but re-read failed: %w", err)
	}
	return existing, false, nil
}

// CompareAndSetStatus performs the transition as one guarded UPDATE. Zero
// affected rows means the row left the expected status first; the caller
// re-reads and re-evaluates.
func (r *SessionRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expect, next session.Status, actualStartAt, actualFinishAt *time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET status = $1,
		    actual_start_at = COALESCE($2, actual_start_at),
		    actual_finish_at = COALESCE($3, actual_finish_at),
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	tag, err := r.conn.Exec(ctx, query, string(next), actualStartAt, actualFinishAt, id, string(expect))
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the session row.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("session", "Delete", shared.ErrNotFound,
			fmt.Sprintf("session %s not found", id))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Conflict probes
// ─────────────────────────────────────────────────────────────────────────────

// FindOverlapping returns the first blocking session overlapping the window
// on the keyed dimension. Canceled and missed rows never block a slot.
func (r *SessionRepository) FindOverlapping(ctx context.Context, key session.OverlapKey, startAt, endAt time.Time, excludeID *uuid.UUID) (*session.Session, error) {
	dimension := "teacher_id"
	keyID := key.TeacherID
	if key.GroupID != uuid.Nil {
		dimension = "group_id"
		keyID = key.GroupID
	}

	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE %s = $1
		  AND status NOT IN ('canceled', 'missed')
		  AND start_at < $2 AND end_at > $3
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY start_at
		LIMIT 1
	`, sessionColumns, dimension)

	s, err := r.scanSession(r.conn.QueryRow(ctx, query, keyID, endAt.UTC(), startAt.UTC(), excludeID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("session", "FindOverlapping", shared.ErrNotFound,
				"window is free")
		}
		return nil, fmt.Errorf("failed to probe overlap: %w", err)
	}
	return s, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Backfill support
// ─────────────────────────────────────────────────────────────────────────────

// BulkInsertMissed inserts past slots as missed, skipping every slot that a
// concurrent check-in or cancellation already claimed.
func (r *SessionRepository) BulkInsertMissed(ctx context.Context, sessions []*session.Session) (int, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO sessions (
				id, group_id, center_id, branch_id, class_id, teacher_id,
				schedule_item_id, title, start_at, end_at, status, is_extra,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT ON CONSTRAINT sessions_slot_unique DO NOTHING
		`
		for _, s := range sessions {
			tag, err := tx.Exec(ctx, query,
				s.ID, s.GroupID, s.CenterID, s.BranchID, s.ClassID, s.TeacherID,
				s.ScheduleItemID, s.Title, s.StartAt.UTC(), s.EndAt.UTC(), string(s.Status), s.IsExtra,
				s.CreatedAt, s.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to bulk insert session: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// MarkStaleScheduledMissed sweeps scheduled rows whose start time fell behind
// the cutoff into missed, returning the affected ids.
func (r *SessionRepository) MarkStaleScheduledMissed(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE sessions
		SET status = 'missed', updated_at = NOW()
		WHERE status = 'scheduled' AND start_at < $1
		RETURNING id
	`

	rows, err := r.conn.Query(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan swept id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func (r *SessionRepository) scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var status string

	err := row.Scan(
		&s.ID, &s.GroupID, &s.CenterID, &s.BranchID, &s.ClassID, &s.TeacherID,
		&s.ScheduleItemID, &s.Title, &s.StartAt, &s.EndAt, &status, &s.IsExtra,
		&s.ActualStartAt, &s.ActualFinishAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = session.Status(status)
	s.StartAt = s.StartAt.UTC()
	s.EndAt = s.EndAt.UTC()
	return &s, nil
}
