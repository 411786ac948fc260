package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/judge"
	"github.com/shopspring/decimal"
)

// PriceWindow configures how a stage price is sampled from the oracle.
type PriceWindow struct {
	// Width is the TWAP window, centred on the stage time.
	Width time.Duration
	// Timeout bounds a single oracle call.
	Timeout time.Duration
}

// Capture returns the TWAP of asset over Width centred on at. No database
// lock may be held while this runs.
func (w PriceWindow) Capture(ctx context.Context, oracle domain.PriceOracle, asset string, at time.Time) (decimal.Decimal, error) {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	start := at.Add(-w.Width / 2)
	price, err := oracle.TWAP(ctx, asset, start, w.Width)
	if err != nil {
		return decimal.Zero, fmt.Errorf("settlement: twap %s at %s: %w", asset, at.Format(time.RFC3339), err)
	}
	return price, nil
}

// judgeSnapshot builds the values an event is judged on from its persisted
// row, so every retry judges against the same committed prices.
func judgeSnapshot(ev domain.Event) (judge.Snapshot, error) {
	snap := judge.Snapshot{
		ExpectedValue: ev.ExpectedValue,
		ActualValue:   ev.ActualValue,
		BasePrice:     ev.BasePrice,
		SettlePrice:   ev.SettlePrice,
	}
	if ev.EventType == domain.EventTypeRegular && ev.BasePrice.Valid && ev.SettlePrice.Valid {
		if ev.BasePrice.Decimal.IsZero() {
			return snap, fmt.Errorf("settlement: event %s base price is zero: %w", ev.ID, domain.ErrInvalidInput)
		}
		delta := ev.SettlePrice.Decimal.Sub(ev.BasePrice.Decimal).Div(ev.BasePrice.Decimal)
		snap.Delta = decimal.NewNullDecimal(delta)
	}
	return snap, nil
}

func hasSubMode(options []domain.Option, m domain.SubMode) bool {
	for _, o := range options {
		if o.SubMode == m {
			return true
		}
	}
	return false
}
