package watchdog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var release = time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC)

type alerts struct {
	mu  sync.Mutex
	got []domain.Alert
}

func (a *alerts) Alert(_ context.Context, al domain.Alert) error {
	a.mu.Lock()
	a.got = append(a.got, al)
	a.mu.Unlock()
	return nil
}

func seed(t *testing.T, st *memory.Store, ev domain.Event) {
	t.Helper()
	require.NoError(t, st.InTx(context.Background(), func(tx domain.LedgerTx) error {
		return tx.CreateEvent(context.Background(), ev)
	}))
}

func setStatus(t *testing.T, st *memory.Store, id string, s domain.EventStatus) {
	t.Helper()
	require.NoError(t, st.InTx(context.Background(), func(tx domain.LedgerTx) error {
		ev, err := tx.EventForUpdate(context.Background(), id)
		if err != nil {
			return err
		}
		ev.Status = s
		return tx.UpdateEvent(context.Background(), ev)
	}))
}

func TestSweepReportsOverdueOnce(t *testing.T) {
	st := memory.New()
	seed(t, st, domain.Event{
		ID: "sw", IndicatorName: "CPI", EventType: domain.EventTypeShockwave,
		ReleaseTime: release, Status: domain.StatusLive, ExpectedValue: decimal.NewFromInt(3),
	})
	seed(t, st, domain.Event{
		ID: "reg", IndicatorName: "NFP", EventType: domain.EventTypeRegular,
		ReleaseTime: release, SettlementWindow: domain.Window24h, Status: domain.StatusUpcoming,
		ExpectedValue: decimal.NewFromInt(3),
	})

	al := &alerts{}
	w := New(st, al, Config{Grace: 10 * time.Minute, SettleOffset: 5 * time.Minute},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	now := release.Add(14 * time.Minute)
	w.SetClock(func() time.Time { return now })
	ids, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "still inside grace")

	now = release.Add(16 * time.Minute)
	ids, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sw"}, ids, "regular event is not due for 24h")
	require.Len(t, al.got, 1)
	assert.Equal(t, domain.AlertEventOverdue, al.got[0].Kind)
	assert.Equal(t, "sw", al.got[0].EventID)

	ids, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "already reported")
	assert.Len(t, al.got, 1)

	setStatus(t, st, "sw", domain.StatusSettled)
	ids, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunRejectsBadSpec(t *testing.T) {
	w := New(memory.New(), nil, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := w.Run(context.Background(), "not a cron spec")
	assert.Error(t, err)
}
