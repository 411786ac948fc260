// Package watchdog periodically looks for events whose settlement is
// overdue and raises an operator alert for each.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/robfig/cron/v3"
)

// Config controls when an event counts as overdue.
type Config struct {
	// Grace is how long past its settlement time an event may stay
	// unsettled before it is reported.
	Grace time.Duration
	// SettleOffset is the SHOCKWAVE release-to-settlement offset.
	SettleOffset time.Duration
}

// Watchdog reports stuck events. Each event is reported once until it
// leaves the overdue set.
type Watchdog struct {
	events  domain.EventStore
	alerter domain.Alerter
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	reported map[string]bool
}

// New creates a Watchdog.
func New(events domain.EventStore, alerter domain.Alerter, cfg Config, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		events:   events,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "watchdog")),
		now:      time.Now,
		reported: map[string]bool{},
	}
}

// SetClock replaces the time source.
func (w *Watchdog) SetClock(now func() time.Time) { w.now = now }

// Sweep checks every unsettled event once and returns the ids newly
// reported as overdue.
func (w *Watchdog) Sweep(ctx context.Context) ([]string, error) {
	now := w.now()
	// Nothing released after now can be overdue.
	candidates, err := w.events.ListUnsettled(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("watchdog: list unsettled: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	overdue := make(map[string]bool, len(candidates))
	var fresh []string
	for _, ev := range candidates {
		due := ev.SettleTime(w.cfg.SettleOffset).Add(w.cfg.Grace)
		if now.Before(due) {
			continue
		}
		overdue[ev.ID] = true
		if w.reported[ev.ID] {
			continue
		}
		late := now.Sub(ev.SettleTime(w.cfg.SettleOffset)).Round(time.Second)
		w.logger.Warn("event settlement overdue",
			slog.String("event_id", ev.ID),
			slog.String("status", string(ev.Status)),
			slog.Duration("late_by", late),
		)
		if w.alerter != nil {
			err := w.alerter.Alert(ctx, domain.Alert{
				Kind:    domain.AlertEventOverdue,
				EventID: ev.ID,
				Title:   "Settlement overdue",
				Message: fmt.Sprintf("%s (%s) is %s and %s past its settlement time",
					ev.IndicatorName, ev.EventType, ev.Status, late),
			})
			if err != nil {
				w.logger.Error("overdue alert failed", slog.String("error", err.Error()))
			}
		}
		fresh = append(fresh, ev.ID)
	}
	for id := range w.reported {
		if !overdue[id] {
			delete(w.reported, id)
		}
	}
	for id := range overdue {
		w.reported[id] = true
	}
	return fresh, nil
}

// Run sweeps on the cron spec until ctx is cancelled. spec accepts the
// standard five fields and descriptors such as "@every 1m".
func (w *Watchdog) Run(ctx context.Context, spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("watchdog: schedule %q: %w", spec, err)
	}
	c.Start()
	w.logger.Info("watchdog started", slog.String("spec", spec), slog.Duration("grace", w.cfg.Grace))

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("watchdog stopped")
	return ctx.Err()
}
