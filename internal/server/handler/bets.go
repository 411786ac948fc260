package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/service"
)

// BetService is what the bet handler needs from the service layer.
type BetService interface {
	PlaceBet(ctx context.Context, in service.PlaceBetInput) (domain.Bet, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BetDetail, error)
}

// BetHandler serves the bet endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger.With(slog.String("handler", "bets"))}
}

type placeBetRequest struct {
	UserID   string `json:"user_id" validate:"required,max=64"`
	OptionID string `json:"option_id" validate:"required,max=64"`
	Amount   string `json:"amount" validate:"required,numeric"`
}

// Place stakes an amount on an option. Rejections answer 422 with the
// reason in "code".
// POST /api/bets
func (h *BetHandler) Place(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseDecimal(req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	bet, err := h.bets.PlaceBet(r.Context(), service.PlaceBetInput{
		UserID:   req.UserID,
		OptionID: req.OptionID,
		Amount:   amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// ListByUser lists a user's bets with their option and event.
// GET /api/bets/user/{userId}
func (h *BetHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	bets, err := h.bets.ListByUser(r.Context(), r.PathValue("userId"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.BetDetail{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}
