package oracle

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC)

func tick(price string, offset time.Duration) domain.PriceTick {
	return domain.PriceTick{Price: decimal.RequireFromString(price), At: t0.Add(offset)}
}

func TestTimeWeightedFlat(t *testing.T) {
	got, err := TimeWeighted([]domain.PriceTick{tick("95000", 0)}, t0, t0.Add(15*time.Second))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(95000)))
}

func TestTimeWeightedCarriesPriorTick(t *testing.T) {
	ticks := []domain.PriceTick{
		tick("100", -time.Second), // holds for the first 5s of the window
		tick("200", 5*time.Second),
	}
	got, err := TimeWeighted(ticks, t0, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(150)), "got %s", got)
}

func TestTimeWeightedUnevenSpacing(t *testing.T) {
	ticks := []domain.PriceTick{
		tick("100", 0),
		tick("400", 9*time.Second),
	}
	got, err := TimeWeighted(ticks, t0, t0.Add(10*time.Second))
	require.NoError(t, err)
	// 100 for 9s, 400 for 1s.
	assert.True(t, got.Equal(decimal.NewFromInt(130)), "got %s", got)
}

func TestTimeWeightedNoTicks(t *testing.T) {
	_, err := TimeWeighted(nil, t0, t0.Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrNoPriceData)
}

type fakeSeries struct {
	mu    sync.Mutex
	ticks map[string][]domain.PriceTick
}

func (f *fakeSeries) Append(_ context.Context, asset string, t domain.PriceTick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ticks == nil {
		f.ticks = map[string][]domain.PriceTick{}
	}
	f.ticks[asset] = append(f.ticks[asset], t)
	sort.Slice(f.ticks[asset], func(i, j int) bool { return f.ticks[asset][i].At.Before(f.ticks[asset][j].At) })
	return nil
}

func (f *fakeSeries) Range(_ context.Context, asset string, from, to time.Time) ([]domain.PriceTick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PriceTick
	var prior *domain.PriceTick
	for _, t := range f.ticks[asset] {
		t := t
		if t.At.Before(from) {
			prior = &t
			continue
		}
		if t.At.Before(to) {
			out = append(out, t)
		}
	}
	if prior != nil {
		out = append([]domain.PriceTick{*prior}, out...)
	}
	return out, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSeriesOracleClosedWindow(t *testing.T) {
	s := &fakeSeries{}
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "BTC", tick("95000", -7*time.Second)))
	require.NoError(t, s.Append(ctx, "BTC", tick("95100", 0)))

	o := NewSeriesOracle(s, discard())
	o.SetClock(func() time.Time { return t0.Add(time.Minute) })
	got, err := o.TWAP(ctx, "BTC", t0.Add(-7500*time.Millisecond), 15*time.Second)
	require.NoError(t, err)
	assert.True(t, got.GreaterThan(decimal.NewFromInt(95000)))
	assert.True(t, got.LessThan(decimal.NewFromInt(95100)))
}

func TestSeriesOracleOpenWindowRespectsContext(t *testing.T) {
	o := NewSeriesOracle(&fakeSeries{}, discard())
	o.SetClock(func() time.Time { return t0 })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := o.TWAP(ctx, "BTC", t0, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatic(t *testing.T) {
	p, err := Static{Price: decimal.NewFromInt(42)}.TWAP(context.Background(), "BTC", t0, time.Second)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(42)))
}
