package scheduler

import (
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
)

// Offsets places SHOCKWAVE stages relative to the release time.
type Offsets struct {
	Betting time.Duration
	Locked  time.Duration
	Live    time.Duration
	Settle  time.Duration
}

// DefaultOffsets returns T0-30m, T0-15m, T0 and T0+5m.
func DefaultOffsets() Offsets {
	return Offsets{
		Betting: -30 * time.Minute,
		Locked:  -15 * time.Minute,
		Live:    0,
		Settle:  5 * time.Minute,
	}
}

// JobID is deterministic per event and stage so enqueueing the same plan
// twice replaces rather than duplicates.
func JobID(eventID string, stage domain.Stage) string {
	return eventID + ":" + string(stage)
}

// Plan returns one job per stage of the event. SHOCKWAVE events get four
// independent stage jobs; REGULAR events get a single settlement job at the
// end of their settlement window.
func Plan(ev domain.Event, off Offsets) []domain.Job {
	if ev.EventType == domain.EventTypeShockwave {
		stages := []struct {
			stage  domain.Stage
			offset time.Duration
		}{
			{domain.StageBetting, off.Betting},
			{domain.StageLocked, off.Locked},
			{domain.StageT0, off.Live},
			{domain.StageT5, off.Settle},
		}
		jobs := make([]domain.Job, 0, len(stages))
		for _, s := range stages {
			jobs = append(jobs, domain.Job{
				ID:      JobID(ev.ID, s.stage),
				Type:    domain.JobShockwaveStage,
				EventID: ev.ID,
				Stage:   s.stage,
				FireAt:  ev.ReleaseTime.Add(s.offset),
			})
		}
		return jobs
	}
	return []domain.Job{{
		ID:      JobID(ev.ID, domain.StageSettle),
		Type:    domain.JobProcessSettlement,
		EventID: ev.ID,
		Stage:   domain.StageSettle,
		FireAt:  ev.ReleaseTime.Add(ev.SettlementWindow.Duration()),
	}}
}

// Delay is how long to wait from now until target, never negative, so a
// past-due stage fires immediately instead of being dropped.
func Delay(target, now time.Time) time.Duration {
	d := target.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
