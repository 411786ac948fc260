package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Users().Create(ctx, domain.User{ID: "u1", Username: "alice", Balance: decimal.NewFromInt(100)}))
	require.NoError(t, s.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreateEvent(ctx, domain.Event{
			ID:          "e1",
			EventType:   domain.EventTypeShockwave,
			Status:      domain.StatusBetting,
			ReleaseTime: time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC),
			Options: []domain.Option{
				{ID: "o2", RangeLabel: domain.LabelHawkish, SubMode: domain.SubModeDataSniper},
				{ID: "o1", RangeLabel: domain.LabelDovish, SubMode: domain.SubModeDataSniper},
			},
		})
	}))
	return s
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.UpdateBalance(ctx, "u1", decimal.NewFromInt(1)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := s.Users().GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(100)))
}

func TestUpdateBalanceRejectsNegative(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	err := s.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdateBalance(ctx, "u1", decimal.NewFromInt(-1))
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEventWithOptionsKeepsCreationOrder(t *testing.T) {
	s := seed(t)
	ev, err := s.GetByID(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, ev.Options, 2)
	assert.Equal(t, "o2", ev.Options[0].ID)
	assert.Equal(t, "e1", ev.Options[0].EventID)
}

func TestOptionsForUpdateSortedByID(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx domain.LedgerTx) error {
		opts, err := tx.OptionsForUpdate(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, opts, 2)
		assert.Equal(t, "o1", opts[0].ID)
		return nil
	}))
}

func TestListByUserJoinsOptionAndEvent(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreateBet(ctx, domain.Bet{ID: "b1", UserID: "u1", OptionID: "o1", Amount: decimal.NewFromInt(5), Status: domain.BetPending, CreatedAt: now})
	}))
	bets, err := s.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, "alice", bets[0].Username)
	assert.Equal(t, domain.LabelDovish, bets[0].Option.RangeLabel)
	assert.Equal(t, domain.StatusBetting, bets[0].EventStatus)
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := s.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Users().GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
