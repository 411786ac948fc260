package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OptionResult is the judged outcome of one option.
type OptionResult struct {
	OptionID string          `json:"option_id"`
	Label    string          `json:"label"`
	Verdict  Verdict         `json:"verdict"`
	Exposure decimal.Decimal `json:"exposure"`
}

// MarketResult summarises one settled sub-market pool.
type MarketResult struct {
	Market         SubMode         `json:"market"`
	TotalExposure  decimal.Decimal `json:"total_exposure"`
	NetPool        decimal.Decimal `json:"net_pool"`
	WinnerExposure decimal.Decimal `json:"winner_exposure"`
	FinalOdds      decimal.Decimal `json:"final_odds"`
	Paid           decimal.Decimal `json:"paid"`
	Refunded       decimal.Decimal `json:"refunded"`
	Options        []OptionResult  `json:"options"`
}

// SettlementReport is the record of one committed settlement.
type SettlementReport struct {
	EventID       string              `json:"event_id"`
	IndicatorName string              `json:"indicator_name"`
	EventType     EventType           `json:"event_type"`
	Asset         string              `json:"asset"`
	ReleaseTime   time.Time           `json:"release_time"`
	SettledAt     time.Time           `json:"settled_at"`
	ExpectedValue decimal.Decimal     `json:"expected_value"`
	ActualValue   decimal.NullDecimal `json:"actual_value"`
	BasePrice     decimal.NullDecimal `json:"base_price"`
	SettlePrice   decimal.NullDecimal `json:"settle_price"`
	Delta         decimal.NullDecimal `json:"delta"`
	HouseFee      decimal.Decimal     `json:"house_fee"`
	Markets       []MarketResult      `json:"markets"`
	BetsWon       int                 `json:"bets_won"`
	BetsLost      int                 `json:"bets_lost"`
	BetsRefunded  int                 `json:"bets_refunded"`
	TotalPaid     decimal.Decimal     `json:"total_paid"`
	TotalRefunded decimal.Decimal     `json:"total_refunded"`
}

// ReportArchive stores settlement reports outside the ledger.
type ReportArchive interface {
	Save(ctx context.Context, report SettlementReport) error
	Load(ctx context.Context, eventID string) (SettlementReport, error)
}
