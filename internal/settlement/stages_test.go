package settlement

import (
	"context"
	"testing"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBettingStageAfterLockedIsNoOp(t *testing.T) {
	f := newFixture(t)
	ev := shockwave("sw")
	ev.Status = domain.StatusLocked
	f.event(t, ev)

	require.NoError(t, f.stage(t, "sw", domain.StageBetting))
	assert.Equal(t, domain.StatusLocked, f.status(t, "sw"))
}

func TestStagesApplyInOrder(t *testing.T) {
	f := newFixture(t)
	f.event(t, shockwave("sw"))
	f.prices[release] = dec("95000")

	require.NoError(t, f.stage(t, "sw", domain.StageBetting))
	assert.Equal(t, domain.StatusBetting, f.status(t, "sw"))
	require.NoError(t, f.stage(t, "sw", domain.StageLocked))
	assert.Equal(t, domain.StatusLocked, f.status(t, "sw"))
	require.NoError(t, f.stage(t, "sw", domain.StageT0))
	assert.Equal(t, domain.StatusLive, f.status(t, "sw"))

	audit, err := f.store.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, audit, 3)
}

func TestLateT0OvertakesLocked(t *testing.T) {
	f := newFixture(t)
	ev := shockwave("sw")
	ev.Status = domain.StatusBetting
	f.event(t, ev)
	f.prices[release] = dec("95000")

	require.NoError(t, f.stage(t, "sw", domain.StageT0))
	assert.Equal(t, domain.StatusLive, f.status(t, "sw"))

	// The overtaken LOCKED job arrives afterwards.
	require.NoError(t, f.stage(t, "sw", domain.StageLocked))
	assert.Equal(t, domain.StatusLive, f.status(t, "sw"))
}

func TestT0RedeliveryDoesNotRecapture(t *testing.T) {
	f := newFixture(t)
	ev := shockwave("sw")
	ev.Status = domain.StatusLocked
	f.event(t, ev)
	f.prices[release] = dec("95000")

	require.NoError(t, f.stage(t, "sw", domain.StageT0))
	require.NoError(t, f.stage(t, "sw", domain.StageT0))
	assert.Equal(t, int32(1), f.calls.Load())

	got, err := f.store.GetByID(context.Background(), "sw")
	require.NoError(t, err)
	assert.True(t, got.BasePrice.Decimal.Equal(dec("95000")))
}

func TestT0OracleFailureKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ev := shockwave("sw")
	ev.Status = domain.StatusLocked
	f.event(t, ev)

	err := f.stage(t, "sw", domain.StageT0)
	assert.ErrorIs(t, err, domain.ErrNoPriceData)
	assert.Equal(t, domain.StatusLocked, f.status(t, "sw"))
}

func TestStageRejectsRegularEvent(t *testing.T) {
	f := newFixture(t)
	f.event(t, regular("r"))
	err := f.stage(t, "r", domain.StageBetting)
	assert.True(t, scheduler.IsPermanent(err))
	assert.Equal(t, domain.StatusUpcoming, f.status(t, "r"))
}

func TestUnknownStageIsPermanent(t *testing.T) {
	f := newFixture(t)
	err := f.stages.Handle(context.Background(), domain.Job{EventID: "sw", Stage: "T9"})
	assert.True(t, scheduler.IsPermanent(err))
}
