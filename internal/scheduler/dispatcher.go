package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Handler processes one delivered job. It must be idempotent: the queue
// delivers at least once.
type Handler func(ctx context.Context, job domain.Job) error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. The job is dead-lettered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsWaiting reports whether err means the job ran too early: the actual
// value has not been posted or an earlier stage has not landed. Such jobs are
// retried at capped backoff and never dead-lettered.
func IsWaiting(err error) bool {
	return errors.Is(err, domain.ErrActualValueMissing) || errors.Is(err, domain.ErrStageNotReady)
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	JobTimeout   time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Dispatcher claims due jobs and runs them on a fixed pool of workers.
type Dispatcher struct {
	queue    domain.JobQueue
	cfg      DispatcherConfig
	handlers map[domain.JobType]Handler
	alerter  domain.Alerter
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. Register handlers before calling Run.
func NewDispatcher(queue domain.JobQueue, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	// Waiting jobs retry without limit, so the backoff must be bounded.
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Dispatcher{
		queue:    queue,
		cfg:      cfg,
		handlers: make(map[domain.JobType]Handler),
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Register binds h to jobs of type t.
func (d *Dispatcher) Register(t domain.JobType, h Handler) {
	d.handlers[t] = h
}

// SetAlerter sets where dead-letter alerts go.
func (d *Dispatcher) SetAlerter(a domain.Alerter) { d.alerter = a }

// SetAudit sets where dead-letter audit rows go.
func (d *Dispatcher) SetAudit(a domain.AuditStore) { d.audit = a }

// Run polls and processes jobs until ctx is cancelled. Jobs claimed but not
// finished at shutdown are redelivered once their visibility lapses.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	work := make(chan domain.Job)

	g.Go(func() error {
		defer close(work)
		return d.poll(ctx, work)
	})
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for job := range work {
				d.Process(ctx, job)
			}
			return nil
		})
	}

	d.logger.Info("dispatcher started",
		slog.Int("workers", d.cfg.Workers),
		slog.Duration("poll_interval", d.cfg.PollInterval),
	)
	return g.Wait()
}

func (d *Dispatcher) poll(ctx context.Context, work chan<- domain.Job) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		jobs, err := d.queue.Claim(ctx, d.cfg.BatchSize)
		if err != nil && ctx.Err() == nil {
			d.logger.Error("claim failed", slog.String("error", err.Error()))
		}
		for _, job := range jobs {
			select {
			case work <- job:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if len(jobs) == d.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Process runs one job to completion and acks, retries or dead-letters it.
func (d *Dispatcher) Process(ctx context.Context, job domain.Job) {
	log := d.logger.With(
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("event_id", job.EventID),
		slog.String("stage", string(job.Stage)),
		slog.Int("attempt", job.Attempts+1),
	)

	err := d.run(ctx, job)
	if err == nil {
		if ackErr := d.queue.Ack(ctx, job); ackErr != nil {
			log.Error("ack failed", slog.String("error", ackErr.Error()))
		}
		log.Debug("job done")
		return
	}

	attempts := job.Attempts + 1
	waiting := !IsPermanent(err) && IsWaiting(err)
	if !waiting && (IsPermanent(err) || attempts >= d.cfg.MaxAttempts) {
		log.Error("job dead-lettered", slog.String("error", err.Error()))
		if dlErr := d.queue.DeadLetter(ctx, job, err); dlErr != nil {
			log.Error("dead-letter failed", slog.String("error", dlErr.Error()))
		}
		d.reportDead(ctx, job, err)
		return
	}

	delay := Backoff(attempts, d.cfg.BaseBackoff, d.cfg.MaxBackoff)
	if waiting {
		log.Info("job not ready, waiting",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		if rErr := d.queue.Retry(ctx, job, delay, err); rErr != nil {
			log.Error("retry failed", slog.String("error", rErr.Error()))
		}
		return
	}
	log.Warn("job failed, retrying",
		slog.String("error", err.Error()),
		slog.Duration("retry_in", delay),
	)
	if rErr := d.queue.Retry(ctx, job, delay, err); rErr != nil {
		log.Error("retry failed", slog.String("error", rErr.Error()))
	}
}

func (d *Dispatcher) run(ctx context.Context, job domain.Job) (err error) {
	h, ok := d.handlers[job.Type]
	if !ok {
		return Permanent(fmt.Errorf("dispatcher: no handler for job type %q", job.Type))
	}
	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher: handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (d *Dispatcher) reportDead(ctx context.Context, job domain.Job, cause error) {
	if d.audit != nil {
		_ = d.audit.Log(ctx, "job_dead_lettered", map[string]any{
			"job_id":   job.ID,
			"type":     string(job.Type),
			"event_id": job.EventID,
			"stage":    string(job.Stage),
			"attempts": job.Attempts + 1,
			"error":    cause.Error(),
		})
	}
	if d.alerter != nil {
		_ = d.alerter.Alert(ctx, domain.Alert{
			Kind:    domain.AlertJobDeadLettered,
			EventID: job.EventID,
			Title:   "Job dead-lettered",
			Message: fmt.Sprintf("%s %s for event %s gave up after %d attempt(s): %v",
				job.Type, job.Stage, job.EventID, job.Attempts+1, cause),
		})
	}
}

// Backoff returns base doubled per previous attempt, capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
