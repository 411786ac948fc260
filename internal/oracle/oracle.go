// Package oracle provides price oracles that answer time-weighted average
// price queries.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
)

// Func adapts a plain function to domain.PriceOracle.
type Func func(ctx context.Context, asset string, start time.Time, duration time.Duration) (decimal.Decimal, error)

// TWAP calls f.
func (f Func) TWAP(ctx context.Context, asset string, start time.Time, duration time.Duration) (decimal.Decimal, error) {
	return f(ctx, asset, start, duration)
}

// Static returns the same price for every query. Used in dev mode.
type Static struct {
	Price decimal.Decimal
}

// TWAP returns the configured price.
func (s Static) TWAP(ctx context.Context, _ string, _ time.Time, _ time.Duration) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return s.Price, nil
}

// SeriesOracle averages ticks recorded in a PriceSeries.
type SeriesOracle struct {
	series domain.PriceSeries
	now    func() time.Time
	logger *slog.Logger
}

// NewSeriesOracle creates an oracle over series.
func NewSeriesOracle(series domain.PriceSeries, logger *slog.Logger) *SeriesOracle {
	return &SeriesOracle{
		series: series,
		now:    time.Now,
		logger: logger.With(slog.String("component", "series_oracle")),
	}
}

// SetClock replaces the time source.
func (o *SeriesOracle) SetClock(now func() time.Time) { o.now = now }

// TWAP waits for the window to close if it is still open, bounded by ctx,
// then averages the ticks inside it.
func (o *SeriesOracle) TWAP(ctx context.Context, asset string, start time.Time, duration time.Duration) (decimal.Decimal, error) {
	end := start.Add(duration)
	if wait := end.Sub(o.now()); wait > 0 {
		o.logger.DebugContext(ctx, "waiting for twap window to close",
			slog.String("asset", asset),
			slog.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return decimal.Zero, fmt.Errorf("oracle: wait for window %s: %w", asset, ctx.Err())
		case <-timer.C:
		}
	}

	ticks, err := o.series.Range(ctx, asset, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: read ticks %s: %w", asset, err)
	}
	price, err := TimeWeighted(ticks, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: %s [%s, %s): %w",
			asset, start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	return price, nil
}

// TimeWeighted averages ticks over [start, end). Each price holds from its
// tick until the next one; a tick before start carries into the window.
// Ticks must be in time order.
func TimeWeighted(ticks []domain.PriceTick, start, end time.Time) (decimal.Decimal, error) {
	if len(ticks) == 0 {
		return decimal.Zero, domain.ErrNoPriceData
	}
	if !end.After(start) {
		return ticks[len(ticks)-1].Price, nil
	}

	sum := decimal.Zero
	weight := decimal.Zero
	for i, t := range ticks {
		from := t.At
		if from.Before(start) {
			from = start
		}
		to := end
		if i+1 < len(ticks) && ticks[i+1].At.Before(end) {
			to = ticks[i+1].At
		}
		if !to.After(from) {
			continue
		}
		w := decimal.NewFromInt(to.Sub(from).Milliseconds())
		sum = sum.Add(t.Price.Mul(w))
		weight = weight.Add(w)
	}
	if weight.IsZero() {
		last := ticks[len(ticks)-1]
		if last.At.Before(end) {
			return last.Price, nil
		}
		return decimal.Zero, domain.ErrNoPriceData
	}
	return domain.TruncAmount(sum.Div(weight)), nil
}

var (
	_ domain.PriceOracle = Func(nil)
	_ domain.PriceOracle = Static{}
	_ domain.PriceOracle = (*SeriesOracle)(nil)
)
