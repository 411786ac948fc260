package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/macrobet/internal/cache/memory"
	"github.com/alanyoungcy/macrobet/internal/config"
	"github.com/alanyoungcy/macrobet/internal/oracle"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func devConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "dev"
	cfg.Feed.Enabled = false
	cfg.Oracle.StaticPrice = "95000"
	return &cfg
}

func TestWireDevUsesMemory(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), devConfig(), discard())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Events)
	assert.NotNil(t, deps.Queue)
	assert.NotNil(t, deps.Alerter)
	assert.Nil(t, deps.Archive)
	assert.Empty(t, deps.Health)
}

func TestBuildDevComponents(t *testing.T) {
	cfg := devConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	c := build(cfg, deps, discard())
	assert.NotNil(t, c.dispatcher)
	assert.Nil(t, c.feed, "static price disables the trade feed")
	assert.NotNil(t, c.watchdog)

	u, err := c.users.Create(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(10000)))
}

func TestPriceOracleSelection(t *testing.T) {
	series := memcache.NewSeries(0)

	got := priceOracle(config.OracleConfig{StaticPrice: "42.5"}, series, discard())
	require.IsType(t, oracle.Static{}, got)
	p, err := got.TWAP(context.Background(), "BTC", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "42.5", p.String())

	assert.IsType(t, &oracle.SeriesOracle{}, priceOracle(config.OracleConfig{}, series, discard()))
	assert.IsType(t, &oracle.SeriesOracle{}, priceOracle(config.OracleConfig{StaticPrice: "abc"}, series, discard()))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := devConfig()
	cfg.Mode = "trade"
	err := New(cfg, discard()).Run(context.Background())
	assert.ErrorContains(t, err, "unsupported mode")
}

func TestRunDevStopsOnCancel(t *testing.T) {
	cfg := devConfig()
	cfg.Server.Port = 0
	cfg.Watchdog.Enabled = false
	ctx, cancel := context.WithCancel(context.Background())
	a := New(cfg, discard())
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop")
	}
}
