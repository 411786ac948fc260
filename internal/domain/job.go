package domain

import "time"

// JobType routes a queued job to its handler.
type JobType string

const (
	JobProcessSettlement JobType = "process-settlement"
	JobShockwaveStage    JobType = "process-shockwave-stages"
)

// Stage is the lifecycle step a job drives.
type Stage string

const (
	StageBetting Stage = "BETTING"
	StageLocked  Stage = "LOCKED"
	StageT0      Stage = "T0"
	StageT5      Stage = "T5"
	StageSettle  Stage = "SETTLE"
)

// Job is a durable delayed unit of work. Handlers trust only EventID and
// Stage; everything else is re-read from the store.
type Job struct {
	ID        string    `json:"id"`
	Type      JobType   `json:"type"`
	EventID   string    `json:"event_id"`
	Stage     Stage     `json:"stage"`
	FireAt    time.Time `json:"fire_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}
