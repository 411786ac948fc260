package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/claim_jobs.lua
var claimJobsLua string

//go:embed scripts/enqueue_job.lua
var enqueueJobLua string

// deadLetterMax caps the dead-letter list.
const deadLetterMax = 1000

// JobQueue implements domain.JobQueue. Ready jobs sit in a sorted set
// scored by fire time; claimed jobs move to an in-flight set scored by
// their visibility deadline and return to the ready set if it lapses.
type JobQueue struct {
	c          *Client
	visibility time.Duration
	claim      *redis.Script
	enqueue    *redis.Script
	now        func() time.Time
}

// NewJobQueue creates a JobQueue. visibility is how long a claimed job
// stays hidden from other consumers; it must exceed the job timeout.
func NewJobQueue(c *Client, visibility time.Duration) *JobQueue {
	return &JobQueue{
		c:          c,
		visibility: visibility,
		claim:      redis.NewScript(claimJobsLua),
		enqueue:    redis.NewScript(enqueueJobLua),
		now:        time.Now,
	}
}

func (q *JobQueue) delayedKey() string  { return q.c.Key("jobs:delayed") }
func (q *JobQueue) inflightKey() string { return q.c.Key("jobs:inflight") }
func (q *JobQueue) dataKey() string     { return q.c.Key("jobs:data") }
func (q *JobQueue) deadKey() string     { return q.c.Key("jobs:dead") }

// Enqueue stores job to fire after delay. Enqueueing an existing id
// replaces its payload and fire time.
func (q *JobQueue) Enqueue(ctx context.Context, job domain.Job, delay time.Duration) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	payload, err := encodeJob(job)
	if err != nil {
		return "", err
	}
	fireAt := q.now().Add(delay).UnixMilli()
	err = q.enqueue.Run(ctx, q.c.rdb,
		[]string{q.delayedKey(), q.inflightKey(), q.dataKey()},
		job.ID, payload, fireAt,
	).Err()
	if err != nil {
		return "", fmt.Errorf("redis: enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Claim takes up to n due jobs.
func (q *JobQueue) Claim(ctx context.Context, n int) ([]domain.Job, error) {
	res, err := q.claim.Run(ctx, q.c.rdb,
		[]string{q.delayedKey(), q.inflightKey(), q.dataKey()},
		q.now().UnixMilli(), n, q.visibility.Milliseconds(),
	).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: claim jobs: %w", err)
	}
	return decodeJobs(res)
}

// Ack removes a finished job.
func (q *JobQueue) Ack(ctx context.Context, job domain.Job) error {
	var removed *redis.IntCmd
	_, err := q.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.ZRem(ctx, q.inflightKey(), job.ID)
		p.HDel(ctx, q.dataKey(), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: ack job %s: %w", job.ID, err)
	}
	if removed.Val() == 0 {
		return fmt.Errorf("redis: ack job %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

// Retry reschedules a failed job after delay with its attempt count bumped.
func (q *JobQueue) Retry(ctx context.Context, job domain.Job, delay time.Duration, cause error) error {
	job = failed(job, cause)
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = q.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.inflightKey(), job.ID)
		p.HSet(ctx, q.dataKey(), job.ID, payload)
		p.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(q.now().Add(delay).UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: retry job %s: %w", job.ID, err)
	}
	return nil
}

// DeadLetter parks a job that will not be retried.
func (q *JobQueue) DeadLetter(ctx context.Context, job domain.Job, cause error) error {
	job = failed(job, cause)
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = q.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.inflightKey(), job.ID)
		p.HDel(ctx, q.dataKey(), job.ID)
		p.LPush(ctx, q.deadKey(), payload)
		p.LTrim(ctx, q.deadKey(), 0, deadLetterMax-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: dead-letter job %s: %w", job.ID, err)
	}
	return nil
}

// Dead returns up to n dead-lettered jobs, newest first.
func (q *JobQueue) Dead(ctx context.Context, n int) ([]domain.Job, error) {
	res, err := q.c.rdb.LRange(ctx, q.deadKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list dead jobs: %w", err)
	}
	return decodeJobs(res)
}

func failed(job domain.Job, cause error) domain.Job {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	return job
}

func encodeJob(job domain.Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("redis: encode job %s: %w", job.ID, err)
	}
	return string(b), nil
}

func decodeJobs(payloads []string) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(payloads))
	for _, p := range payloads {
		var j domain.Job
		if err := json.Unmarshal([]byte(p), &j); err != nil {
			return nil, fmt.Errorf("redis: decode job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

var _ domain.JobQueue = (*JobQueue)(nil)
