package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/odds"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventScheduler enqueues the stage jobs of an event.
type EventScheduler interface {
	ScheduleEvent(ctx context.Context, ev domain.Event) ([]string, error)
	ScheduleSettlement(ctx context.Context, ev domain.Event) (string, error)
}

// OptionInput describes one option of a new event.
type OptionInput struct {
	RangeLabel string
	RangeMin   decimal.NullDecimal
	RangeMax   decimal.NullDecimal
	SubMode    domain.SubMode
	Odds       decimal.NullDecimal
}

// CreateEventInput describes a new event and its options.
type CreateEventInput struct {
	IndicatorName    string
	IndicatorID      string
	Asset            string
	ReleaseTime      time.Time
	ExpectedValue    decimal.Decimal
	EventType        domain.EventType
	SettlementWindow domain.SettlementWindow
	Options          []OptionInput
}

// EventDefaults fills in fields a create request may omit.
type EventDefaults struct {
	Asset            string
	SettlementWindow domain.SettlementWindow
}

// EventService creates events and answers read queries about them.
type EventService struct {
	events   domain.EventStore
	ledger   domain.Ledger
	sched    EventScheduler
	calc     odds.Calculator
	defaults EventDefaults
	archive  domain.ReportArchive
	audit    domain.AuditStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewEventService creates an EventService with all required dependencies.
func NewEventService(
	events domain.EventStore,
	ledger domain.Ledger,
	sched EventScheduler,
	calc odds.Calculator,
	defaults EventDefaults,
	logger *slog.Logger,
) *EventService {
	return &EventService{
		events:   events,
		ledger:   ledger,
		sched:    sched,
		calc:     calc,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "event_service")),
	}
}

// WithArchive enables Report lookups.
func (s *EventService) WithArchive(a domain.ReportArchive) *EventService {
	s.archive = a
	return s
}

// WithAudit records operator actions.
func (s *EventService) WithAudit(a domain.AuditStore) *EventService {
	s.audit = a
	return s
}

// SetClock replaces the time source.
func (s *EventService) SetClock(now func() time.Time) { s.now = now }

// Create inserts the event with its options in one transaction and then
// schedules its stage jobs. If scheduling fails the event is kept and the
// error is returned; job ids are deterministic, so scheduling again later is
// safe.
func (s *EventService) Create(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	ev, err := s.build(in)
	if err != nil {
		return domain.Event{}, err
	}

	if err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreateEvent(ctx, ev)
	}); err != nil {
		return domain.Event{}, fmt.Errorf("event_service: create %s: %w", ev.ID, err)
	}

	jobs, err := s.sched.ScheduleEvent(ctx, ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "schedule event failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return ev, fmt.Errorf("event_service: schedule %s: %w", ev.ID, err)
	}

	s.logger.InfoContext(ctx, "event created",
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.EventType)),
		slog.String("indicator", ev.IndicatorName),
		slog.Time("release_time", ev.ReleaseTime),
		slog.Int("options", len(ev.Options)),
		slog.Int("jobs", len(jobs)),
	)
	return ev, nil
}

func (s *EventService) build(in CreateEventInput) (domain.Event, error) {
	if in.IndicatorName == "" {
		return domain.Event{}, fmt.Errorf("event_service: indicator name is required: %w", domain.ErrInvalidInput)
	}
	if !in.EventType.Valid() {
		return domain.Event{}, fmt.Errorf("event_service: event type %q: %w", in.EventType, domain.ErrInvalidInput)
	}
	if in.ReleaseTime.IsZero() {
		return domain.Event{}, fmt.Errorf("event_service: release time is required: %w", domain.ErrInvalidInput)
	}
	if len(in.Options) == 0 {
		return domain.Event{}, fmt.Errorf("event_service: at least one option is required: %w", domain.ErrInvalidInput)
	}

	ev := domain.Event{
		ID:            uuid.NewString(),
		IndicatorName: in.IndicatorName,
		IndicatorID:   in.IndicatorID,
		Asset:         in.Asset,
		ReleaseTime:   in.ReleaseTime.UTC(),
		ExpectedValue: in.ExpectedValue,
		EventType:     in.EventType,
		Status:        domain.StatusUpcoming,
		CreatedAt:     s.now(),
	}
	if ev.Asset == "" {
		ev.Asset = s.defaults.Asset
	}
	if ev.EventType == domain.EventTypeRegular {
		ev.SettlementWindow = in.SettlementWindow
		if ev.SettlementWindow == "" {
			ev.SettlementWindow = s.defaults.SettlementWindow
		}
		if ev.SettlementWindow.Duration() == 0 {
			return domain.Event{}, fmt.Errorf("event_service: settlement window %q: %w", ev.SettlementWindow, domain.ErrInvalidInput)
		}
	}

	for i, oi := range in.Options {
		o, err := buildOption(ev, oi)
		if err != nil {
			return domain.Event{}, fmt.Errorf("event_service: option %d: %w", i, err)
		}
		ev.Options = append(ev.Options, o)
	}
	return ev, nil
}

func buildOption(ev domain.Event, in OptionInput) (domain.Option, error) {
	if in.RangeLabel == "" {
		return domain.Option{}, fmt.Errorf("range label is required: %w", domain.ErrInvalidInput)
	}
	if in.RangeMin.Valid && in.RangeMax.Valid && !in.RangeMin.Decimal.LessThan(in.RangeMax.Decimal) {
		return domain.Option{}, fmt.Errorf("range [%s, %s) is empty: %w", in.RangeMin.Decimal, in.RangeMax.Decimal, domain.ErrInvalidInput)
	}
	o := domain.Option{
		ID:            uuid.NewString(),
		EventID:       ev.ID,
		RangeLabel:    in.RangeLabel,
		RangeMin:      in.RangeMin,
		RangeMax:      in.RangeMax,
		SubMode:       in.SubMode,
		TotalExposure: decimal.Zero,
	}

	switch ev.EventType {
	case domain.EventTypeRegular:
		if in.SubMode != "" {
			return domain.Option{}, fmt.Errorf("regular options take no sub-mode: %w", domain.ErrInvalidInput)
		}
		if !in.RangeMin.Valid && !in.RangeMax.Valid {
			return domain.Option{}, fmt.Errorf("regular option %s needs a range: %w", in.RangeLabel, domain.ErrInvalidInput)
		}
	case domain.EventTypeShockwave:
		if !in.SubMode.Valid() {
			return domain.Option{}, fmt.Errorf("sub-mode %q: %w", in.SubMode, domain.ErrInvalidInput)
		}
		if in.SubMode.FixedOdds() {
			if !in.Odds.Valid || !in.Odds.Decimal.IsPositive() {
				return domain.Option{}, fmt.Errorf("jackpot option %s needs positive odds: %w", in.RangeLabel, domain.ErrInvalidInput)
			}
			o.Odds = decimal.NewNullDecimal(domain.TruncOdds(in.Odds.Decimal))
		}
	}
	return o, nil
}

// Get returns the event with its options.
func (s *EventService) Get(ctx context.Context, id string) (domain.Event, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_service: get %s: %w", id, err)
	}
	return ev, nil
}

// ListUpcoming returns events that have not locked yet.
func (s *EventService) ListUpcoming(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	evs, err := s.events.ListUpcoming(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("event_service: list upcoming: %w", err)
	}
	return evs, nil
}

// Odds returns the advisory odds board. It reads without locks.
func (s *EventService) Odds(ctx context.Context, id string) (odds.Board, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return odds.Board{}, fmt.Errorf("event_service: odds %s: %w", id, err)
	}
	return s.calc.Board(ev), nil
}

// SetActualValue records the released indicator value. It may be corrected
// any number of times until the event settles. The settle job is enqueued
// again so a posting after the job gave up still settles the event.
func (s *EventService) SetActualValue(ctx context.Context, id string, value decimal.Decimal) (domain.Event, error) {
	var out domain.Event
	var previous decimal.NullDecimal
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		ev, err := tx.EventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch ev.Status {
		case domain.StatusSettled:
			return fmt.Errorf("event %s: %w", id, domain.ErrAlreadySettled)
		case domain.StatusCancelled:
			return fmt.Errorf("event %s is cancelled: %w", id, domain.ErrIllegalTransition)
		}
		previous = ev.ActualValue
		ev.ActualValue = decimal.NewNullDecimal(value)
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}
		out = ev
		return nil
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_service: set actual %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "actual value posted",
		slog.String("event_id", id),
		slog.String("value", value.String()),
	)
	if s.audit != nil {
		detail := map[string]any{"event_id": id, "value": value.String()}
		if previous.Valid {
			detail["previous"] = previous.Decimal.String()
		}
		if err := s.audit.Log(ctx, "actual_value_posted", detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if _, err := s.sched.ScheduleSettlement(ctx, out); err != nil {
		s.logger.ErrorContext(ctx, "reschedule settlement failed",
			slog.String("event_id", id),
			slog.String("error", err.Error()),
		)
	}
	return out, nil
}

// Report returns the archived settlement report of an event.
func (s *EventService) Report(ctx context.Context, id string) (domain.SettlementReport, error) {
	if s.archive == nil {
		return domain.SettlementReport{}, fmt.Errorf("event_service: report %s: archive disabled: %w", id, domain.ErrNotFound)
	}
	r, err := s.archive.Load(ctx, id)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("event_service: report %s: %w", id, err)
	}
	return r, nil
}
