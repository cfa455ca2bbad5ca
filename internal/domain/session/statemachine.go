package session

import (
	"fmt"
	"time"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// Action is a requested state-machine move on a materialized session.
type Action string

const (
	// ActionCheckIn opens attendance registration for the slot.
	ActionCheckIn Action = "check_in"
	// ActionStart begins conducting; requires a prior check-in.
	ActionStart Action = "start"
	// ActionFinish completes a conducted session.
	ActionFinish Action = "finish"
	// ActionCancel calls the session off (tombstoning for virtual slots).
	ActionCancel Action = "cancel"
	// ActionReschedule restores a canceled session to scheduled; the only
	// backward edge in the machine.
	ActionReschedule Action = "reschedule"
)

// Apply mutates the session according to the transition contract and reports
// whether anything changed. A (false, nil) result is an idempotent no-op: the
// caller must treat the current row as the answer and must not write.
//
//	scheduled -> checking_in -> conducting -> finished
//	canceled reachable from scheduled, checking_in, conducting
//	canceled -> scheduled (reschedule) is the only backward edge
//	missed is set only by the backfill sweep, never through Apply
func Apply(s *Session, action Action, now time.Time) (bool, error) {
	switch action {
	case ActionCheckIn:
		return applyCheckIn(s)
	case ActionStart:
		return applyStart(s, now)
	case ActionFinish:
		return applyFinish(s, now)
	case ActionCancel:
		return applyCancel(s)
	case ActionReschedule:
		return applyReschedule(s)
	default:
		return false, shared.NewDomainError("session", "Apply", shared.ErrInvalidInput,
			fmt.Sprintf("unknown action %q", action))
	}
}

func applyCheckIn(s *Session) (bool, error) {
	switch s.Status {
	case StatusScheduled:
		s.Status = StatusCheckingIn
		return true, nil
	case StatusCheckingIn, StatusConducting, StatusFinished:
		// Check-in is idempotent once the session is underway.
		return false, nil
	case StatusCanceled:
		return false, shared.NewDomainError("session", "CheckIn", shared.ErrInvalidTransition,
			"cannot check in a canceled session")
	default:
		return false, transitionError("CheckIn", s.Status)
	}
}

func applyStart(s *Session, now time.Time) (bool, error) {
	switch s.Status {
	case StatusCheckingIn:
		s.Status = StatusConducting
		t := now.UTC()
		s.ActualStartAt = &t
		return true, nil
	case StatusConducting, StatusFinished:
		return false, nil
	default:
		return false, transitionError("Start", s.Status)
	}
}

func applyFinish(s *Session, now time.Time) (bool, error) {
	if s.Status != StatusConducting {
		return false, transitionError("Finish", s.Status)
	}
	s.Status = StatusFinished
	t := now.UTC()
	s.ActualFinishAt = &t
	return true, nil
}

func applyCancel(s *Session) (bool, error) {
	switch s.Status {
	case StatusScheduled, StatusCheckingIn, StatusConducting:
		s.Status = StatusCanceled
		return true, nil
	case StatusCanceled:
		return false, nil
	default:
		// finished and missed are terminal.
		return false, transitionError("Cancel", s.Status)
	}
}

func applyReschedule(s *Session) (bool, error) {
	if s.Status != StatusCanceled {
		return false, transitionError("Reschedule", s.Status)
	}
	s.Status = StatusScheduled
	return true, nil
}

func transitionError(op string, from Status) error {
	return shared.NewDomainError("session", op, shared.ErrInvalidTransition,
		fmt.Sprintf("illegal from status %q", from))
}
