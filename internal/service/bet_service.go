package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/lifecycle"
	"github.com/alanyoungcy/macrobet/internal/odds"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BetRules bounds bet placement.
type BetRules struct {
	// ExposureCap is the most any one option may hold. Zero disables it.
	ExposureCap decimal.Decimal
	// RegularCutoff closes REGULAR betting this long before release.
	RegularCutoff time.Duration
}

// PlaceBetInput is a stake request.
type PlaceBetInput struct {
	UserID   string
	OptionID string
	Amount   decimal.Decimal
}

// BetService places bets and lists them.
type BetService struct {
	bets   domain.BetStore
	events domain.EventStore
	ledger domain.Ledger
	calc   odds.Calculator
	rules  BetRules
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

// NewBetService creates a BetService with all required dependencies.
func NewBetService(
	bets domain.BetStore,
	events domain.EventStore,
	ledger domain.Ledger,
	calc odds.Calculator,
	rules BetRules,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		bets:   bets,
		events: events,
		ledger: ledger,
		calc:   calc,
		rules:  rules,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "bet_service")),
	}
}

// WithBus publishes the refreshed odds board after each bet.
func (s *BetService) WithBus(b domain.SignalBus) *BetService {
	s.bus = b
	return s
}

// SetClock replaces the time source.
func (s *BetService) SetClock(now func() time.Time) { s.now = now }

// PlaceBet debits the user and adds the stake to the option's exposure in
// one transaction. The user row is locked before the option row, matching
// the settlement lock order.
func (s *BetService) PlaceBet(ctx context.Context, in PlaceBetInput) (domain.Bet, error) {
	if !domain.ValidAmount(in.Amount) {
		return domain.Bet{}, fmt.Errorf("bet_service: amount %s: %w", in.Amount, domain.ErrInvalidInput)
	}

	var bet domain.Bet
	var eventID string
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		user, err := tx.UserForUpdate(ctx, in.UserID)
		if err != nil {
			return err
		}
		if user.Balance.LessThan(in.Amount) {
			return fmt.Errorf("balance %s below %s: %w", user.Balance, in.Amount, domain.ErrInsufficientBalance)
		}

		opt, err := tx.OptionForUpdate(ctx, in.OptionID)
		if err != nil {
			return err
		}
		ev, err := tx.Event(ctx, opt.EventID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := lifecycle.AcceptsBets(ev, now, s.rules.RegularCutoff); err != nil {
			return err
		}
		exposure := opt.TotalExposure.Add(in.Amount)
		if s.rules.ExposureCap.IsPositive() && exposure.GreaterThan(s.rules.ExposureCap) {
			return fmt.Errorf("option %s exposure %s over cap %s: %w", opt.ID, exposure, s.rules.ExposureCap, domain.ErrExposureCapExceeded)
		}

		balance := user.Balance.Sub(in.Amount)
		if err := tx.UpdateBalance(ctx, user.ID, balance); err != nil {
			return err
		}
		opt.TotalExposure = exposure
		if err := tx.UpdateOption(ctx, opt); err != nil {
			return err
		}

		bet = domain.Bet{
			ID:         uuid.NewString(),
			UserID:     user.ID,
			OptionID:   opt.ID,
			Amount:     in.Amount,
			PayoutOdds: decimal.Zero,
			Payout:     decimal.Zero,
			Status:     domain.BetPending,
			CreatedAt:  now,
		}
		if opt.Market().FixedOdds() && opt.Odds.Valid {
			bet.PayoutOdds = opt.Odds.Decimal
		}
		if err := tx.CreateBet(ctx, bet); err != nil {
			return err
		}
		eventID = ev.ID
		return tx.AppendLedger(ctx, domain.LedgerEntry{
			ID:           bet.ID + ":" + string(domain.LedgerStake),
			UserID:       user.ID,
			BetID:        bet.ID,
			Kind:         domain.LedgerStake,
			Amount:       in.Amount.Neg(),
			BalanceAfter: balance,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("bet_service: place bet: %w", err)
	}

	s.logger.InfoContext(ctx, "bet placed",
		slog.String("bet_id", bet.ID),
		slog.String("user_id", bet.UserID),
		slog.String("option_id", bet.OptionID),
		slog.String("amount", bet.Amount.String()),
	)
	s.publishOdds(ctx, eventID)
	return bet, nil
}

func (s *BetService) publishOdds(ctx context.Context, eventID string) {
	if s.bus == nil {
		return
	}
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "reload event for odds failed", slog.String("error", err.Error()))
		return
	}
	payload, err := json.Marshal(s.calc.Board(ev))
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelOdds, payload); err != nil {
		s.logger.WarnContext(ctx, "publish odds failed", slog.String("error", err.Error()))
	}
}

// ListByUser returns a user's bets joined with option and event.
func (s *BetService) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BetDetail, error) {
	bets, err := s.bets.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("bet_service: list for %s: %w", userID, err)
	}
	return bets, nil
}
