package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionShockwave(t *testing.T) {
	sw := domain.EventTypeShockwave
	tests := []struct {
		from, to domain.EventStatus
		ok       bool
	}{
		{domain.StatusUpcoming, domain.StatusBetting, true},
		{domain.StatusBetting, domain.StatusLocked, true},
		{domain.StatusLocked, domain.StatusLive, true},
		{domain.StatusLive, domain.StatusSettling, true},
		{domain.StatusSettling, domain.StatusSettled, true},
		{domain.StatusBetting, domain.StatusLive, true}, // late T0 overtakes LOCKED
		{domain.StatusLocked, domain.StatusBetting, false},
		{domain.StatusLive, domain.StatusLive, false},
		{domain.StatusSettled, domain.StatusSettling, false},
		{domain.StatusSettled, domain.StatusCancelled, false},
		{domain.StatusLive, domain.StatusCancelled, true},
		{domain.StatusCancelled, domain.StatusBetting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CanTransition(sw, tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, domain.ErrIllegalTransition), "err=%v", err)
			}
		})
	}
}

func TestCanTransitionRegularSkipsShockwaveStates(t *testing.T) {
	reg := domain.EventTypeRegular
	assert.NoError(t, CanTransition(reg, domain.StatusUpcoming, domain.StatusSettling))
	assert.Error(t, CanTransition(reg, domain.StatusUpcoming, domain.StatusLocked))
	assert.Error(t, CanTransition(reg, domain.StatusUpcoming, domain.StatusBetting))
}

func TestReached(t *testing.T) {
	sw := domain.EventTypeShockwave
	assert.True(t, Reached(sw, domain.StatusLocked, domain.StatusBetting))
	assert.True(t, Reached(sw, domain.StatusBetting, domain.StatusBetting))
	assert.False(t, Reached(sw, domain.StatusUpcoming, domain.StatusBetting))
	assert.True(t, Reached(sw, domain.StatusCancelled, domain.StatusLive))
	assert.True(t, Reached(domain.EventTypeRegular, domain.StatusSettled, domain.StatusSettled))
}

func TestApplySetsSettledAt(t *testing.T) {
	now := time.Date(2026, 3, 12, 12, 35, 0, 0, time.UTC)
	ev := domain.Event{EventType: domain.EventTypeShockwave, Status: domain.StatusSettling}
	require.NoError(t, Apply(&ev, domain.StatusSettled, now))
	assert.Equal(t, domain.StatusSettled, ev.Status)
	require.NotNil(t, ev.SettledAt)
	assert.Equal(t, now, *ev.SettledAt)

	err := Apply(&ev, domain.StatusLive, now)
	assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	assert.Equal(t, domain.StatusSettled, ev.Status)
}

func TestAcceptsBetsRegularCutoff(t *testing.T) {
	release := time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC)
	ev := domain.Event{ID: "e", EventType: domain.EventTypeRegular, Status: domain.StatusUpcoming, ReleaseTime: release}
	cutoff := 5 * time.Minute

	assert.NoError(t, AcceptsBets(ev, release.Add(-6*time.Minute), cutoff))
	assert.True(t, errors.Is(AcceptsBets(ev, release.Add(-5*time.Minute), cutoff), domain.ErrBettingClosed))
	assert.True(t, errors.Is(AcceptsBets(ev, release.Add(time.Hour), cutoff), domain.ErrBettingClosed))

	ev.Status = domain.StatusSettling
	assert.True(t, errors.Is(AcceptsBets(ev, release.Add(-time.Hour), cutoff), domain.ErrBettingClosed))
}

func TestAcceptsBetsShockwaveByStatus(t *testing.T) {
	release := time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC)
	ev := domain.Event{ID: "e", EventType: domain.EventTypeShockwave, ReleaseTime: release}
	for _, st := range []domain.EventStatus{domain.StatusUpcoming, domain.StatusLocked, domain.StatusLive, domain.StatusSettled} {
		ev.Status = st
		assert.True(t, errors.Is(AcceptsBets(ev, release.Add(-time.Hour), 0), domain.ErrBettingClosed), st)
	}
	ev.Status = domain.StatusBetting
	// Status gates SHOCKWAVE, not the clock.
	assert.NoError(t, AcceptsBets(ev, release.Add(-2*time.Minute), 5*time.Minute))
}

func TestStageTarget(t *testing.T) {
	st, ok := StageTarget(domain.StageT0)
	require.True(t, ok)
	assert.Equal(t, domain.StatusLive, st)
	_, ok = StageTarget("T9")
	assert.False(t, ok)
}
