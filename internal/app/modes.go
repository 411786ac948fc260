package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/macrobet/internal/config"
	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/feed"
	"github.com/alanyoungcy/macrobet/internal/indicator"
	"github.com/alanyoungcy/macrobet/internal/judge"
	"github.com/alanyoungcy/macrobet/internal/odds"
	"github.com/alanyoungcy/macrobet/internal/oracle"
	"github.com/alanyoungcy/macrobet/internal/scheduler"
	"github.com/alanyoungcy/macrobet/internal/server"
	"github.com/alanyoungcy/macrobet/internal/server/handler"
	"github.com/alanyoungcy/macrobet/internal/server/ws"
	"github.com/alanyoungcy/macrobet/internal/service"
	"github.com/alanyoungcy/macrobet/internal/settlement"
	"github.com/alanyoungcy/macrobet/internal/watchdog"
)

const shutdownTimeout = 10 * time.Second

// roles selects which halves of the process run.
type roles struct {
	api    bool // HTTP API and websocket hub
	worker bool // stage dispatcher, trade feed and watchdog
}

// components are the services built on top of Dependencies.
type components struct {
	deps       *Dependencies
	events     *service.EventService
	bets       *service.BetService
	users      *service.UserService
	dispatcher *scheduler.Dispatcher
	feed       *feed.TradeFeed
	watchdog   *watchdog.Watchdog
}

func build(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *components {
	calc := odds.NewCalculator(cfg.Market.HouseFee)
	sc := cfg.Scheduler
	sched := scheduler.New(deps.Queue, scheduler.Offsets{
		Betting: sc.BettingOffset.Duration,
		Locked:  sc.LockedOffset.Duration,
		Live:    sc.LiveOffset.Duration,
		Settle:  sc.SettleOffset.Duration,
	}, logger)

	c := &components{deps: deps}
	c.events = service.NewEventService(deps.Events, deps.Ledger, sched, calc, service.EventDefaults{
		Asset:            cfg.Oracle.Asset,
		SettlementWindow: domain.SettlementWindow(cfg.Market.SettlementWindow),
	}, logger).WithAudit(deps.Audit)
	if deps.Archive != nil {
		c.events.WithArchive(deps.Archive)
	}
	c.bets = service.NewBetService(deps.Bets, deps.Events, deps.Ledger, calc, service.BetRules{
		ExposureCap:   cfg.Market.ExposureCap,
		RegularCutoff: cfg.Market.RegularCutoff.Duration,
	}, logger).WithBus(deps.Bus)
	c.users = service.NewUserService(deps.Users, cfg.Market.InitialBalance, logger)

	orc := priceOracle(cfg.Oracle, deps.Series, logger)
	price := settlement.PriceWindow{
		Width:   cfg.Oracle.TWAPWindow.Duration,
		Timeout: cfg.Oracle.Timeout.Duration,
	}
	executor := settlement.NewExecutor(deps.Events, deps.Ledger, orc, calc, settlement.Config{
		Rules: judge.Rules{
			Margin:           cfg.Market.Margin,
			CalmThreshold:    cfg.Market.CalmThreshold,
			TsunamiThreshold: cfg.Market.TsunamiThreshold,
		},
		SettleOffset: sc.SettleOffset.Duration,
		Price:        price,
		LockTTL:      sc.JobTimeout.Duration,
	}, logger).
		WithLocks(deps.Locks).
		WithAudit(deps.Audit).
		WithBus(deps.Bus).
		WithAlerter(deps.Alerter)
	if deps.Archive != nil {
		executor.WithArchive(deps.Archive)
	}
	if cfg.Indicator.URL != "" {
		executor.WithIndicators(indicator.NewHTTPSource(cfg.Indicator.URL, cfg.Indicator.APIKey, cfg.Indicator.Timeout.Duration, logger))
	}
	stages := settlement.NewStageHandler(deps.Events, deps.Ledger, orc, executor, price, logger).
		WithAudit(deps.Audit)

	c.dispatcher = scheduler.NewDispatcher(deps.Queue, scheduler.DispatcherConfig{
		Workers:      sc.Workers,
		BatchSize:    sc.BatchSize,
		PollInterval: sc.PollInterval.Duration,
		JobTimeout:   sc.JobTimeout.Duration,
		MaxAttempts:  sc.MaxAttempts,
		BaseBackoff:  sc.BaseBackoff.Duration,
		MaxBackoff:   sc.MaxBackoff.Duration,
	}, logger)
	c.dispatcher.Register(domain.JobProcessSettlement, executor.Handle)
	c.dispatcher.Register(domain.JobShockwaveStage, stages.Handle)
	c.dispatcher.SetAlerter(deps.Alerter)
	c.dispatcher.SetAudit(deps.Audit)

	if cfg.Feed.Enabled && cfg.Oracle.StaticPrice == "" {
		c.feed = feed.NewTradeFeed(cfg.Feed.URL, cfg.Oracle.Asset, deps.Series, logger).WithBus(deps.Bus)
	}
	if cfg.Watchdog.Enabled {
		c.watchdog = watchdog.New(deps.Events, deps.Alerter, watchdog.Config{
			Grace:        cfg.Watchdog.Grace.Duration,
			SettleOffset: sc.SettleOffset.Duration,
		}, logger)
	}
	return c
}

// priceOracle returns a fixed-price oracle when one is configured, else one
// averaging the recorded trade ticks.
func priceOracle(cfg config.OracleConfig, series domain.PriceSeries, logger *slog.Logger) domain.PriceOracle {
	if cfg.StaticPrice != "" {
		if p, err := decimal.NewFromString(cfg.StaticPrice); err == nil {
			logger.Warn("using static price oracle", slog.String("price", p.String()))
			return oracle.Static{Price: p}
		}
		logger.Error("invalid static price, falling back to tick series", slog.String("price", cfg.StaticPrice))
	}
	return oracle.NewSeriesOracle(series, logger)
}

func (a *App) serve(ctx context.Context, c *components, r roles) error {
	g, ctx := errgroup.WithContext(ctx)

	if r.worker {
		g.Go(func() error { return c.dispatcher.Run(ctx) })
		if c.feed != nil {
			g.Go(func() error {
				defer c.feed.Close()
				return c.feed.Run(ctx)
			})
		}
		if c.watchdog != nil {
			g.Go(func() error { return c.watchdog.Run(ctx, a.cfg.Watchdog.Cron) })
		}
	}

	if r.api {
		deps := c.deps
		hub := ws.NewHub(deps.Bus, a.logger)
		g.Go(func() error { return hub.Run(ctx) })

		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		}, server.Handlers{
			Health: handler.NewHealthHandler(deps.Health),
			Events: handler.NewEventHandler(c.events, a.logger),
			Bets:   handler.NewBetHandler(c.bets, a.logger),
			Users:  handler.NewUserHandler(c.users, a.logger),
		}, hub, deps.Limiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.InfoContext(ctx, "components started",
		slog.Bool("api", r.api),
		slog.Bool("worker", r.worker),
		slog.Bool("feed", r.worker && c.feed != nil),
		slog.Bool("watchdog", r.worker && c.watchdog != nil),
	)
	return g.Wait()
}
