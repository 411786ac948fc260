package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/odds"
	"github.com/alanyoungcy/macrobet/internal/scheduler"
	"github.com/alanyoungcy/macrobet/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var release = time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type env struct {
	store  *memory.Store
	queue  *scheduler.MemoryQueue
	clock  *clock
	events *EventService
	bets   *BetService
	users  *UserService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: memory.New(), clock: &clock{t: release.Add(-time.Hour)}}
	e.queue = scheduler.NewMemoryQueue(time.Minute)
	e.queue.SetClock(e.clock.Now)
	sched := scheduler.New(e.queue, scheduler.DefaultOffsets(), discard())
	sched.SetClock(e.clock.Now)
	calc := odds.NewCalculator(dec("0.05"))
	e.events = NewEventService(e.store, e.store, sched, calc, EventDefaults{Asset: "BTC", SettlementWindow: domain.Window24h}, discard()).WithAudit(e.store)
	e.events.SetClock(e.clock.Now)
	e.bets = NewBetService(e.store, e.store, e.store, calc, BetRules{ExposureCap: dec("1000"), RegularCutoff: 5 * time.Minute}, discard())
	e.bets.SetClock(e.clock.Now)
	e.users = NewUserService(e.store.Users(), dec("10000"), discard())
	return e
}

func shockwaveInput() CreateEventInput {
	return CreateEventInput{
		IndicatorName: "CPI YoY",
		ReleaseTime:   release,
		ExpectedValue: dec("3.1"),
		EventType:     domain.EventTypeShockwave,
		Options: []OptionInput{
			{RangeLabel: domain.LabelDovish, SubMode: domain.SubModeDataSniper},
			{RangeLabel: domain.LabelNeutral, SubMode: domain.SubModeDataSniper},
			{RangeLabel: domain.LabelHawkish, SubMode: domain.SubModeDataSniper},
			{RangeLabel: domain.LabelCalm, SubMode: domain.SubModeVolatilityHunter},
			{RangeLabel: domain.LabelTsunami, SubMode: domain.SubModeVolatilityHunter},
			{RangeLabel: "97k-98k", SubMode: domain.SubModeJackpot, RangeMin: nd("97000"), RangeMax: nd("98000"), Odds: nd("50")},
		},
	}
}

func regularInput() CreateEventInput {
	return CreateEventInput{
		IndicatorName: "NFP",
		ReleaseTime:   release,
		EventType:     domain.EventTypeRegular,
		Options: []OptionInput{
			{RangeLabel: "down", RangeMax: nd("0")},
			{RangeLabel: "up", RangeMin: nd("0")},
		},
	}
}

func optionID(t *testing.T, ev domain.Event, label string) string {
	t.Helper()
	for _, o := range ev.Options {
		if o.RangeLabel == label {
			return o.ID
		}
	}
	t.Fatalf("no option %s", label)
	return ""
}

func (e *env) user(t *testing.T, name string) domain.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), name)
	require.NoError(t, err)
	return u
}

func (e *env) setStatus(t *testing.T, id string, s domain.EventStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.InTx(ctx, func(tx domain.LedgerTx) error {
		ev, err := tx.EventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ev.Status = s
		return tx.UpdateEvent(ctx, ev)
	}))
}

func TestCreateShockwaveSchedulesFourStages(t *testing.T) {
	e := newEnv(t)
	ev, err := e.events.Create(context.Background(), shockwaveInput())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUpcoming, ev.Status)
	assert.Equal(t, "BTC", ev.Asset)
	assert.Empty(t, ev.SettlementWindow)

	got, err := e.events.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Len(t, got.Options, 6)
	for _, o := range got.Options {
		assert.Equal(t, ev.ID, o.EventID)
		assert.True(t, o.TotalExposure.IsZero())
	}

	pending := e.queue.Pending()
	require.Len(t, pending, 4)
	assert.Equal(t, domain.StageBetting, pending[0].Stage)
	assert.Equal(t, domain.StageT5, pending[3].Stage)
	due, ok := e.queue.DueAt(scheduler.JobID(ev.ID, domain.StageLocked))
	require.True(t, ok)
	assert.Equal(t, release.Add(-15*time.Minute), due)
}

func TestCreateRegularDefaultsWindow(t *testing.T) {
	e := newEnv(t)
	ev, err := e.events.Create(context.Background(), regularInput())
	require.NoError(t, err)
	assert.Equal(t, domain.Window24h, ev.SettlementWindow)
	pending := e.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.JobProcessSettlement, pending[0].Type)
	assert.Equal(t, release.Add(24*time.Hour), pending[0].FireAt)
}

func TestCreateRejectsInvalidEvents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateEventInput)
	}{
		{"no options", func(in *CreateEventInput) { in.Options = nil }},
		{"no indicator", func(in *CreateEventInput) { in.IndicatorName = "" }},
		{"bad type", func(in *CreateEventInput) { in.EventType = "BINARY" }},
		{"jackpot without odds", func(in *CreateEventInput) { in.Options[5].Odds = decimal.NullDecimal{} }},
		{"unknown sub-mode", func(in *CreateEventInput) { in.Options[0].SubMode = "LOTTO" }},
		{"empty range", func(in *CreateEventInput) { in.Options[5].RangeMax = nd("97000") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			in := shockwaveInput()
			tt.mutate(&in)
			_, err := e.events.Create(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, e.queue.Pending())
		})
	}
}

func TestCreateRegularRejectsSubMode(t *testing.T) {
	e := newEnv(t)
	in := regularInput()
	in.Options[0].SubMode = domain.SubModeJackpot
	_, err := e.events.Create(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPlaceBetDebitsAndAddsExposure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, err := e.events.Create(ctx, shockwaveInput())
	require.NoError(t, err)
	e.setStatus(t, ev.ID, domain.StatusBetting)
	u := e.user(t, "alice")

	bet, err := e.bets.PlaceBet(ctx, PlaceBetInput{UserID: u.ID, OptionID: optionID(t, ev, domain.LabelDovish), Amount: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, domain.BetPending, bet.Status)
	assert.True(t, bet.PayoutOdds.IsZero())

	jp, err := e.bets.PlaceBet(ctx, PlaceBetInput{UserID: u.ID, OptionID: optionID(t, ev, "97k-98k"), Amount: dec("10")})
	require.NoError(t, err)
	assert.True(t, jp.PayoutOdds.Equal(dec("50")))

	got, err := e.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("9890")))

	entries := e.store.Entries(u.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.LedgerStake, entries[0].Kind)
	assert.True(t, entries[0].Amount.Equal(dec("-100")))
	assert.True(t, entries[1].BalanceAfter.Equal(dec("9890")))

	bets, err := e.bets.ListByUser(ctx, u.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bets, 2)
	assert.Equal(t, "CPI YoY", bets[0].IndicatorName)
}

func TestOddsBoardAfterBets(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, err := e.events.Create(ctx, shockwaveInput())
	require.NoError(t, err)
	e.setStatus(t, ev.ID, domain.StatusBetting)
	u := e.user(t, "alice")
	_, err = e.bets.PlaceBet(ctx, PlaceBetInput{UserID: u.ID, OptionID: optionID(t, ev, domain.LabelDovish), Amount: dec("100")})
	require.NoError(t, err)
	_, err = e.bets.PlaceBet(ctx, PlaceBetInput{UserID: u.ID, OptionID: optionID(t, ev, domain.LabelHawkish), Amount: dec("300")})
	require.NoError(t, err)

	board, err := e.events.Odds(ctx, ev.ID)
	require.NoError(t, err)
	var sniper *odds.Pool
	for i := range board.Pools {
		if board.Pools[i].Market == domain.SubModeDataSniper {
			sniper = &board.Pools[i]
		}
	}
	require.NotNil(t, sniper)
	assert.True(t, sniper.TotalExposure.Equal(dec("400")))
	assert.True(t, sniper.NetPool.Equal(dec("380")))
	for _, o := range sniper.Options {
		switch o.Label {
		case domain.LabelDovish:
			assert.True(t, o.Odds.Equal(dec("3.8")), "dovish %s", o.Odds)
		case domain.LabelHawkish:
			assert.True(t, o.Odds.Equal(dec("1.2667")), "hawkish %s", o.Odds)
		case domain.LabelNeutral:
			assert.True(t, o.Odds.IsZero())
		}
	}
}

// Every rejection leaves balance, exposure and bets untouched.
func TestPlaceBetRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.EventStatus
		balance string
		amount  string
		label   string
		want    error
	}{
		{"insufficient balance", domain.StatusBetting, "50", "100", domain.LabelDovish, domain.ErrInsufficientBalance},
		{"upcoming shockwave", domain.StatusUpcoming, "10000", "100", domain.LabelDovish, domain.ErrBettingClosed},
		{"locked", domain.StatusLocked, "10000", "100", domain.LabelDovish, domain.ErrBettingClosed},
		{"over cap", domain.StatusBetting, "10000", "1000.00000001", domain.LabelDovish, domain.ErrExposureCapExceeded},
		{"zero amount", domain.StatusBetting, "10000", "0", domain.LabelDovish, domain.ErrInvalidInput},
		{"too precise", domain.StatusBetting, "10000", "1.000000001", domain.LabelDovish, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			ev, err := e.events.Create(ctx, shockwaveInput())
			require.NoError(t, err)
			e.setStatus(t, ev.ID, tt.status)
			u := domain.User{ID: "u1", Username: "u1", Balance: dec(tt.balance)}
			require.NoError(t, e.store.Users().Create(ctx, u))

			_, err = e.bets.PlaceBet(ctx, PlaceBetInput{UserID: u.ID, OptionID: optionID(t, ev, tt.label), Amount: dec(tt.amount)})
			assert.ErrorIs(t, err, tt.want)

			got, err := e.users.Get(ctx, u.ID)
			require.NoError(t, err)
			assert.True(t, got.Balance.Equal(dec(tt.balance)))
			after, err := e.events.Get(ctx, ev.ID)
			require.NoError(t, err)
			for _, o := range after.Options {
				assert.True(t, o.TotalExposure.IsZero())
			}
			bets, err := e.bets.ListByUser(ctx, u.ID, domain.ListOpts{})
			require.NoError(t, err)
			assert.Empty(t, bets)
			assert.Empty(t, e.store.Entries(u.ID))
		})
	}
}

func TestPlaceBetRegularCutoff(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, err := e.events.Create(ctx, regularInput())
	require.NoError(t, err)
	u := e.user(t, "bob")

	e.clock.Set(release.Add(-6 * time.Minute))
	_, err = e.bets.PlaceBet(ctx, PlaceBetInput{UserID: u.ID, OptionID: optionID(t, ev, "up"), Amount: dec("10")})
	require.NoError(t, err)

	e.clock.Set(release.Add(-5 * time.Minute))
	_, err = e.bets.PlaceBet(ctx, PlaceBetInput{UserID: u.ID, OptionID: optionID(t, ev, "up"), Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrBettingClosed)
}

func TestPlaceBetUnknownOption(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "carol")
	_, err := e.bets.PlaceBet(context.Background(), PlaceBetInput{UserID: u.ID, OptionID: "nope", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetActualValue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, err := e.events.Create(ctx, shockwaveInput())
	require.NoError(t, err)

	got, err := e.events.SetActualValue(ctx, ev.ID, dec("2.9"))
	require.NoError(t, err)
	assert.True(t, got.ActualValue.Decimal.Equal(dec("2.9")))
	_, err = e.events.SetActualValue(ctx, ev.ID, dec("3.0"))
	require.NoError(t, err)

	audit, err := e.store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "2.9", audit[0].Detail["previous"])

	e.setStatus(t, ev.ID, domain.StatusSettled)
	_, err = e.events.SetActualValue(ctx, ev.ID, dec("3.3"))
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestReportWithoutArchive(t *testing.T) {
	e := newEnv(t)
	_, err := e.events.Report(context.Background(), "any")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserServiceInitialBalance(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "dave")
	assert.True(t, u.Balance.Equal(dec("10000")))
	_, err := e.users.Create(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.users.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
