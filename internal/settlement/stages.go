package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/lifecycle"
	"github.com/alanyoungcy/macrobet/internal/scheduler"
	"github.com/shopspring/decimal"
)

// StageHandler drives SHOCKWAVE events through their scheduled stages. Each
// delivery re-reads the event; a stage the event has already reached is a
// silent no-op, so stages may arrive late, twice or out of order.
type StageHandler struct {
	events   domain.EventStore
	ledger   domain.Ledger
	oracle   domain.PriceOracle
	executor *Executor
	price    PriceWindow
	audit    domain.AuditStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewStageHandler creates a StageHandler. T5 deliveries run executor inline.
func NewStageHandler(
	events domain.EventStore,
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	executor *Executor,
	price PriceWindow,
	logger *slog.Logger,
) *StageHandler {
	return &StageHandler{
		events:   events,
		ledger:   ledger,
		oracle:   oracle,
		executor: executor,
		price:    price,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "stage_handler")),
	}
}

// WithAudit writes an audit row per applied transition.
func (h *StageHandler) WithAudit(a domain.AuditStore) *StageHandler { h.audit = a; return h }

// SetClock replaces the time source.
func (h *StageHandler) SetClock(now func() time.Time) { h.now = now }

// Handle is the process-shockwave-stages job handler.
func (h *StageHandler) Handle(ctx context.Context, job domain.Job) error {
	target, ok := lifecycle.StageTarget(job.Stage)
	if !ok {
		return scheduler.Permanent(fmt.Errorf("stage_handler: unknown stage %q: %w", job.Stage, domain.ErrInvalidInput))
	}
	if target == domain.StatusSettled {
		_, err := h.executor.Settle(ctx, job.EventID)
		return err
	}

	log := h.logger.With(slog.String("event_id", job.EventID), slog.String("stage", string(job.Stage)))
	ev, err := h.events.GetByID(ctx, job.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return scheduler.Permanent(fmt.Errorf("stage_handler: event %s: %w", job.EventID, err))
		}
		return fmt.Errorf("stage_handler: load event %s: %w", job.EventID, err)
	}
	if ev.EventType != domain.EventTypeShockwave {
		return scheduler.Permanent(fmt.Errorf("stage_handler: event %s is %s: %w", ev.ID, ev.EventType, domain.ErrInvalidInput))
	}
	if lifecycle.Reached(ev.EventType, ev.Status, target) {
		log.WarnContext(ctx, "stage already reached, skipping", slog.String("status", string(ev.Status)))
		return nil
	}

	// Base price capture happens before the transaction.
	base := ev.BasePrice
	if target == domain.StatusLive && !base.Valid {
		p, err := h.price.Capture(ctx, h.oracle, ev.Asset, ev.ReleaseTime)
		if err != nil {
			return err
		}
		base = decimal.NewNullDecimal(p)
	}

	var from domain.EventStatus
	applied := false
	err = h.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		cur, err := tx.EventForUpdate(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("stage_handler: lock event %s: %w", ev.ID, err)
		}
		if lifecycle.Reached(cur.EventType, cur.Status, target) {
			return nil
		}
		from = cur.Status
		if target == domain.StatusLive && !cur.BasePrice.Valid {
			cur.BasePrice = base
		}
		if err := lifecycle.Apply(&cur, target, h.now()); err != nil {
			return fmt.Errorf("stage_handler: event %s: %w", ev.ID, err)
		}
		if err := tx.UpdateEvent(ctx, cur); err != nil {
			return fmt.Errorf("stage_handler: update event %s: %w", ev.ID, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return err
	}
	if !applied {
		log.WarnContext(ctx, "stage reached concurrently, skipping")
		return nil
	}

	log.InfoContext(ctx, "stage applied",
		slog.String("from", string(from)),
		slog.String("to", string(target)),
	)
	if h.audit != nil {
		detail := map[string]any{
			"event_id": ev.ID,
			"stage":    string(job.Stage),
			"from":     string(from),
			"to":       string(target),
		}
		if target == domain.StatusLive && base.Valid {
			detail["base_price"] = base.Decimal.String()
		}
		if err := h.audit.Log(ctx, "stage_transition", detail); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
