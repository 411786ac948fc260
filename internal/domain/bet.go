package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetStatus tracks a bet from placement to settlement.
type BetStatus string

const (
	BetPending  BetStatus = "PENDING"
	BetWon      BetStatus = "WON"
	BetLost     BetStatus = "LOST"
	BetRefunded BetStatus = "REFUNDED"
)

// Bet is a stake placed by a user on one option.
type Bet struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	OptionID   string          `json:"option_id"`
	Amount     decimal.Decimal `json:"amount"`
	PayoutOdds decimal.Decimal `json:"payout_odds"`
	Payout     decimal.Decimal `json:"payout"`
	Status     BetStatus       `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
}

// BetDetail is a bet joined with its option and owning event.
type BetDetail struct {
	Bet
	Option        Option      `json:"option"`
	Username      string      `json:"username"`
	IndicatorName string      `json:"indicator_name"`
	EventStatus   EventStatus `json:"event_status"`
}

// User is a balance holder.
type User struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// LedgerKind classifies a balance mutation.
type LedgerKind string

const (
	LedgerStake  LedgerKind = "stake"
	LedgerPayout LedgerKind = "payout"
	LedgerRefund LedgerKind = "refund"
)

// LedgerEntry records one balance mutation. Amount is signed: stakes are
// negative, payouts and refunds positive.
type LedgerEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	BetID        string          `json:"bet_id"`
	Kind         LedgerKind      `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}
