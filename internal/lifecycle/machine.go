// Package lifecycle is the event state machine. It only validates and
// applies transitions against the persisted status; time is driven from
// outside by the scheduler.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
)

// tracks lists each event type's states in their only legal order.
var tracks = map[domain.EventType][]domain.EventStatus{
	domain.EventTypeShockwave: {
		domain.StatusUpcoming,
		domain.StatusBetting,
		domain.StatusLocked,
		domain.StatusLive,
		domain.StatusSettling,
		domain.StatusSettled,
	},
	domain.EventTypeRegular: {
		domain.StatusUpcoming,
		domain.StatusSettling,
		domain.StatusSettled,
	},
}

func rank(t domain.EventType, s domain.EventStatus) (int, bool) {
	for i, st := range tracks[t] {
		if st == s {
			return i, true
		}
	}
	return 0, false
}

// CanTransition reports whether an event of type t may move from one status
// to another. Moves go forward along the track and may skip states a late
// stage has overtaken. CANCELLED is reachable from any non-terminal state.
func CanTransition(t domain.EventType, from, to domain.EventStatus) error {
	if from.Terminal() {
		return fmt.Errorf("lifecycle: %s -> %s: %s is terminal: %w", from, to, from, domain.ErrIllegalTransition)
	}
	if to == domain.StatusCancelled {
		return nil
	}
	fi, okFrom := rank(t, from)
	ti, okTo := rank(t, to)
	if !okFrom || !okTo {
		return fmt.Errorf("lifecycle: %s -> %s not on %s track: %w", from, to, t, domain.ErrIllegalTransition)
	}
	if ti <= fi {
		return fmt.Errorf("lifecycle: %s -> %s moves backward: %w", from, to, domain.ErrIllegalTransition)
	}
	return nil
}

// Reached reports whether current is at or past target, meaning a handler
// driving the event to target has nothing left to do.
func Reached(t domain.EventType, current, target domain.EventStatus) bool {
	if current == target || current == domain.StatusCancelled {
		return true
	}
	ci, okCur := rank(t, current)
	ti, okTgt := rank(t, target)
	if !okCur || !okTgt {
		return false
	}
	return ci >= ti
}

// Apply validates and performs the transition on e.
func Apply(e *domain.Event, to domain.EventStatus, now time.Time) error {
	if err := CanTransition(e.EventType, e.Status, to); err != nil {
		return err
	}
	e.Status = to
	if to == domain.StatusSettled {
		at := now
		e.SettledAt = &at
	}
	return nil
}

// AcceptsBets reports whether e takes new bets at now. REGULAR events take
// bets while UPCOMING and before releaseTime - cutoff. SHOCKWAVE events take
// bets only while BETTING.
func AcceptsBets(e domain.Event, now time.Time, cutoff time.Duration) error {
	switch e.EventType {
	case domain.EventTypeRegular:
		if e.Status != domain.StatusUpcoming {
			return fmt.Errorf("lifecycle: event %s is %s: %w", e.ID, e.Status, domain.ErrBettingClosed)
		}
		if !now.Before(e.ReleaseTime.Add(-cutoff)) {
			return fmt.Errorf("lifecycle: event %s cutoff %s passed: %w",
				e.ID, e.ReleaseTime.Add(-cutoff).Format(time.RFC3339), domain.ErrBettingClosed)
		}
		return nil
	case domain.EventTypeShockwave:
		if e.Status != domain.StatusBetting {
			return fmt.Errorf("lifecycle: event %s is %s: %w", e.ID, e.Status, domain.ErrBettingClosed)
		}
		return nil
	}
	return fmt.Errorf("lifecycle: event %s has unknown type %q: %w", e.ID, e.EventType, domain.ErrInvalidInput)
}

// StageTarget maps a scheduled stage to the status it drives the event to.
func StageTarget(s domain.Stage) (domain.EventStatus, bool) {
	switch s {
	case domain.StageBetting:
		return domain.StatusBetting, true
	case domain.StageLocked:
		return domain.StatusLocked, true
	case domain.StageT0:
		return domain.StatusLive, true
	case domain.StageT5, domain.StageSettle:
		return domain.StatusSettled, true
	}
	return "", false
}
