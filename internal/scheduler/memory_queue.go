package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/google/uuid"
)

type queued struct {
	job domain.Job
	at  time.Time // due time when ready, visibility deadline when in flight
}

// MemoryQueue is an in-process JobQueue with the same at-least-once
// semantics as the Redis queue: a claimed job reappears if it is neither
// acked nor retried within the visibility timeout.
type MemoryQueue struct {
	mu         sync.Mutex
	now        func() time.Time
	visibility time.Duration
	ready      map[string]queued
	inflight   map[string]queued
	dead       []domain.Job
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{
		now:        time.Now,
		visibility: visibility,
		ready:      map[string]queued{},
		inflight:   map[string]queued{},
	}
}

// SetClock replaces the time source.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

func (q *MemoryQueue) Enqueue(_ context.Context, job domain.Job, delay time.Duration) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	// A job currently held by a consumer keeps its lease; only its payload
	// is replaced.
	if e, ok := q.inflight[job.ID]; ok {
		e.job = job
		q.inflight[job.ID] = e
		return job.ID, nil
	}
	q.ready[job.ID] = queued{job: job, at: q.now().Add(delay)}
	return job.ID, nil
}

func (q *MemoryQueue) Claim(ctx context.Context, n int) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for id, e := range q.inflight {
		if !e.at.After(now) {
			delete(q.inflight, id)
			q.ready[id] = queued{job: e.job, at: now}
		}
	}

	due := make([]queued, 0)
	for _, e := range q.ready {
		if !e.at.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].job.ID < due[j].job.ID
		}
		return due[i].at.Before(due[j].at)
	})
	if n > 0 && len(due) > n {
		due = due[:n]
	}
	jobs := make([]domain.Job, 0, len(due))
	for _, e := range due {
		delete(q.ready, e.job.ID)
		q.inflight[e.job.ID] = queued{job: e.job, at: now.Add(q.visibility)}
		jobs = append(jobs, e.job)
	}
	return jobs, nil
}

func (q *MemoryQueue) Ack(_ context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[job.ID]; !ok {
		return fmt.Errorf("memory queue: ack %s: %w", job.ID, domain.ErrNotFound)
	}
	delete(q.inflight, job.ID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job domain.Job, delay time.Duration, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, job.ID)
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	q.ready[job.ID] = queued{job: job, at: q.now().Add(delay)}
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job domain.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, job.ID)
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	q.dead = append(q.dead, job)
	return nil
}

// Pending returns queued jobs that are not in flight, soonest first.
func (q *MemoryQueue) Pending() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	all := make([]queued, 0, len(q.ready))
	for _, e := range q.ready {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	out := make([]domain.Job, 0, len(all))
	for _, e := range all {
		out = append(out, e.job)
	}
	return out
}

// DueAt returns when the ready job id becomes claimable.
func (q *MemoryQueue) DueAt(id string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.ready[id]
	return e.at, ok
}

// Dead returns dead-lettered jobs.
func (q *MemoryQueue) Dead() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Job(nil), q.dead...)
}

var _ domain.JobQueue = (*MemoryQueue)(nil)
