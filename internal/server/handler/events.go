package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/odds"
	"github.com/alanyoungcy/macrobet/internal/service"
)

// EventService is what the event handler needs from the service layer.
type EventService interface {
	Create(ctx context.Context, in service.CreateEventInput) (domain.Event, error)
	Get(ctx context.Context, id string) (domain.Event, error)
	ListUpcoming(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
	Odds(ctx context.Context, id string) (odds.Board, error)
	SetActualValue(ctx context.Context, id string, value decimal.Decimal) (domain.Event, error)
	Report(ctx context.Context, id string) (domain.SettlementReport, error)
}

// EventHandler serves the event endpoints.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger.With(slog.String("handler", "events"))}
}

type optionRequest struct {
	RangeLabel string  `json:"range_label" validate:"required,max=64"`
	RangeMin   *string `json:"range_min" validate:"omitempty,numeric"`
	RangeMax   *string `json:"range_max" validate:"omitempty,numeric"`
	SubMode    string  `json:"sub_mode" validate:"omitempty,oneof=REGULAR DATA_SNIPER VOLATILITY_HUNTER JACKPOT"`
	Odds       *string `json:"odds" validate:"omitempty,numeric"`
}

type createEventRequest struct {
	IndicatorName    string          `json:"indicator_name" validate:"required,max=128"`
	IndicatorID      string          `json:"indicator_id" validate:"max=64"`
	Asset            string          `json:"asset" validate:"max=32"`
	ReleaseTime      time.Time       `json:"release_time" validate:"required"`
	ExpectedValue    string          `json:"expected_value" validate:"required,numeric"`
	EventType        string          `json:"event_type" validate:"required,oneof=REGULAR SHOCKWAVE"`
	SettlementWindow string          `json:"settlement_window" validate:"omitempty,oneof=30m 24h"`
	Options          []optionRequest `json:"options" validate:"required,min=1,max=32,dive"`
}

func (req createEventRequest) input() (service.CreateEventInput, error) {
	expected, err := parseDecimal(req.ExpectedValue)
	if err != nil {
		return service.CreateEventInput{}, err
	}
	in := service.CreateEventInput{
		IndicatorName:    req.IndicatorName,
		IndicatorID:      req.IndicatorID,
		Asset:            req.Asset,
		ReleaseTime:      req.ReleaseTime.UTC(),
		ExpectedValue:    expected,
		EventType:        domain.EventType(req.EventType),
		SettlementWindow: domain.SettlementWindow(req.SettlementWindow),
		Options:          make([]service.OptionInput, 0, len(req.Options)),
	}
	for _, o := range req.Options {
		opt := service.OptionInput{RangeLabel: o.RangeLabel, SubMode: domain.SubMode(o.SubMode)}
		if opt.RangeMin, err = parseNullDecimal(o.RangeMin); err != nil {
			return service.CreateEventInput{}, err
		}
		if opt.RangeMax, err = parseNullDecimal(o.RangeMax); err != nil {
			return service.CreateEventInput{}, err
		}
		if opt.Odds, err = parseNullDecimal(o.Odds); err != nil {
			return service.CreateEventInput{}, err
		}
		in.Options = append(in.Options, opt)
	}
	return in, nil
}

// Create registers an event and schedules its stages.
// POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		writeServiceError(w, r, h.logger, "create event", err)
		return
	}

	ev, err := h.events.Create(r.Context(), in)
	if err != nil {
		if ev.ID != "" {
			// Stored but not scheduled.
			h.logger.ErrorContext(r.Context(), "handler: schedule event failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    "event stored but scheduling failed",
				"code":     "schedule_failed",
				"event_id": ev.ID,
			})
			return
		}
		writeServiceError(w, r, h.logger, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// ListUpcoming lists events still open or about to open.
// GET /api/events/upcoming?limit=&offset=
func (h *EventHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListUpcoming(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Get returns one event with its options.
// GET /api/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Odds returns the live odds board.
// GET /api/events/{id}/odds
func (h *EventHandler) Odds(w http.ResponseWriter, r *http.Request) {
	board, err := h.events.Odds(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get odds", err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

type actualValueRequest struct {
	Value string `json:"value" validate:"required,numeric"`
}

// PostActual records the released indicator value.
// POST /api/events/{id}/actual
func (h *EventHandler) PostActual(w http.ResponseWriter, r *http.Request) {
	var req actualValueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := parseDecimal(req.Value)
	if err != nil {
		writeServiceError(w, r, h.logger, "post actual value", err)
		return
	}
	ev, err := h.events.SetActualValue(r.Context(), r.PathValue("id"), v)
	if err != nil {
		writeServiceError(w, r, h.logger, "post actual value", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Report returns the archived settlement report.
// GET /api/events/{id}/report
func (h *EventHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.events.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
