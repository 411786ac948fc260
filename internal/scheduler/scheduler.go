// Package scheduler turns events into durable delayed stage jobs and runs a
// worker pool that delivers due jobs to their handlers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
)

// Scheduler enqueues the stage jobs of new events.
type Scheduler struct {
	queue   domain.JobQueue
	offsets Offsets
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Scheduler writing to queue.
func New(queue domain.JobQueue, offsets Offsets, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		queue:   queue,
		offsets: offsets,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Offsets returns the configured stage offsets.
func (s *Scheduler) Offsets() Offsets { return s.offsets }

// ScheduleEvent enqueues every planned job of ev and returns their ids.
func (s *Scheduler) ScheduleEvent(ctx context.Context, ev domain.Event) ([]string, error) {
	now := s.now()
	jobs := Plan(ev, s.offsets)
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		delay := Delay(job.FireAt, now)
		id, err := s.queue.Enqueue(ctx, job, delay)
		if err != nil {
			return ids, fmt.Errorf("scheduler: enqueue %s for event %s: %w", job.Stage, ev.ID, err)
		}
		ids = append(ids, id)
		s.logger.InfoContext(ctx, "stage scheduled",
			slog.String("event_id", ev.ID),
			slog.String("stage", string(job.Stage)),
			slog.Time("fire_at", job.FireAt),
			slog.Duration("delay", delay),
		)
	}
	return ids, nil
}

// ScheduleSettlement enqueues the job that settles ev again: T5 for
// SHOCKWAVE, the settle job for REGULAR. It keeps its deterministic id, so a
// job still queued is replaced and a dead-lettered one comes back.
func (s *Scheduler) ScheduleSettlement(ctx context.Context, ev domain.Event) (string, error) {
	jobs := Plan(ev, s.offsets)
	job := jobs[len(jobs)-1]
	delay := Delay(job.FireAt, s.now())
	id, err := s.queue.Enqueue(ctx, job, delay)
	if err != nil {
		return "", fmt.Errorf("scheduler: enqueue %s for event %s: %w", job.Stage, ev.ID, err)
	}
	s.logger.InfoContext(ctx, "settlement rescheduled",
		slog.String("event_id", ev.ID),
		slog.String("stage", string(job.Stage)),
		slog.Duration("delay", delay),
	)
	return id, nil
}
