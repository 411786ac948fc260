package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var release = time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestPlanShockwave(t *testing.T) {
	ev := domain.Event{ID: "sw", EventType: domain.EventTypeShockwave, ReleaseTime: release}
	jobs := Plan(ev, DefaultOffsets())
	require.Len(t, jobs, 4)

	want := []struct {
		stage domain.Stage
		at    time.Time
	}{
		{domain.StageBetting, release.Add(-30 * time.Minute)},
		{domain.StageLocked, release.Add(-15 * time.Minute)},
		{domain.StageT0, release},
		{domain.StageT5, release.Add(5 * time.Minute)},
	}
	for i, w := range want {
		assert.Equal(t, w.stage, jobs[i].Stage)
		assert.Equal(t, w.at, jobs[i].FireAt)
		assert.Equal(t, domain.JobShockwaveStage, jobs[i].Type)
		assert.Equal(t, "sw", jobs[i].EventID)
		assert.Equal(t, JobID("sw", w.stage), jobs[i].ID)
	}
}

func TestPlanRegular(t *testing.T) {
	ev := domain.Event{ID: "r", EventType: domain.EventTypeRegular, ReleaseTime: release, SettlementWindow: domain.Window30m}
	jobs := Plan(ev, DefaultOffsets())
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobProcessSettlement, jobs[0].Type)
	assert.Equal(t, release.Add(30*time.Minute), jobs[0].FireAt)
}

func TestDelayClampsToZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(release, release.Add(time.Hour)))
	assert.Equal(t, time.Duration(0), Delay(release, release))
	assert.Equal(t, 90*time.Second, Delay(release, release.Add(-90*time.Second)))
}

func TestScheduleEventPastDueFiresNow(t *testing.T) {
	clk := &clock{t: release.Add(-20 * time.Minute)}
	q := NewMemoryQueue(time.Minute)
	q.SetClock(clk.Now)
	s := New(q, DefaultOffsets(), discard())
	s.SetClock(clk.Now)

	ev := domain.Event{ID: "sw", EventType: domain.EventTypeShockwave, ReleaseTime: release}
	ids, err := s.ScheduleEvent(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, ids, 4)

	at, ok := q.DueAt(JobID("sw", domain.StageBetting))
	require.True(t, ok)
	assert.Equal(t, clk.Now(), at, "past-due BETTING fires immediately")

	at, ok = q.DueAt(JobID("sw", domain.StageT5))
	require.True(t, ok)
	assert.Equal(t, release.Add(5*time.Minute), at)

	jobs, err := q.Claim(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.StageBetting, jobs[0].Stage)
}

func TestScheduleEventTwiceDoesNotDuplicate(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	s := New(q, DefaultOffsets(), discard())
	ev := domain.Event{ID: "sw", EventType: domain.EventTypeShockwave, ReleaseTime: time.Now().Add(time.Hour)}
	_, err := s.ScheduleEvent(context.Background(), ev)
	require.NoError(t, err)
	_, err = s.ScheduleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Len(t, q.Pending(), 4)
}

func TestMemoryQueueRedeliversAfterVisibility(t *testing.T) {
	clk := &clock{t: release}
	q := NewMemoryQueue(30 * time.Second)
	q.SetClock(clk.Now)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, domain.Job{ID: "j"}, 0)
	require.NoError(t, err)
	jobs, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs, "in flight job is invisible")

	clk.Advance(31 * time.Second)
	jobs, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "job redelivered once visibility lapses")
	require.NoError(t, q.Ack(ctx, jobs[0]))
	assert.Empty(t, q.Pending())
}

func newDispatcher(q domain.JobQueue, attempts int) *Dispatcher {
	return NewDispatcher(q, DispatcherConfig{
		Workers:     2,
		BatchSize:   4,
		MaxAttempts: attempts,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}, discard())
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a domain.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

func claimOne(t *testing.T, q *MemoryQueue) domain.Job {
	t.Helper()
	jobs, err := q.Claim(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestProcessAcksSuccess(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	d := newDispatcher(q, 3)
	var calls int
	d.Register(domain.JobProcessSettlement, func(context.Context, domain.Job) error {
		calls++
		return nil
	})
	_, _ = q.Enqueue(context.Background(), domain.Job{ID: "j", Type: domain.JobProcessSettlement}, 0)
	d.Process(context.Background(), claimOne(t, q))

	assert.Equal(t, 1, calls)
	assert.Empty(t, q.Pending())
	assert.Empty(t, q.Dead())
}

func TestProcessRetriesWithBackoff(t *testing.T) {
	clk := &clock{t: release}
	q := NewMemoryQueue(time.Minute)
	q.SetClock(clk.Now)
	d := newDispatcher(q, 3)
	d.Register(domain.JobProcessSettlement, func(context.Context, domain.Job) error {
		return domain.ErrNoPriceData
	})
	_, _ = q.Enqueue(context.Background(), domain.Job{ID: "j", Type: domain.JobProcessSettlement}, 0)

	d.Process(context.Background(), claimOne(t, q))
	at, ok := q.DueAt("j")
	require.True(t, ok)
	assert.Equal(t, release.Add(time.Second), at)

	clk.Advance(time.Second)
	d.Process(context.Background(), claimOne(t, q))
	at, _ = q.DueAt("j")
	assert.Equal(t, clk.Now().Add(2*time.Second), at)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "no price data")

	clk.Advance(2 * time.Second)
	d.Process(context.Background(), claimOne(t, q))
	require.Len(t, q.Dead(), 1, "third failure exhausts attempts")
}

func TestProcessDeadLettersPermanent(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	d := newDispatcher(q, 10)
	alerts := &recordingAlerter{}
	d.SetAlerter(alerts)
	d.Register(domain.JobProcessSettlement, func(context.Context, domain.Job) error {
		return Permanent(domain.ErrNoWinningOption)
	})
	_, _ = q.Enqueue(context.Background(), domain.Job{ID: "j", Type: domain.JobProcessSettlement, EventID: "e"}, 0)
	d.Process(context.Background(), claimOne(t, q))

	dead := q.Dead()
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].Attempts)
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, domain.AlertJobDeadLettered, alerts.alerts[0].Kind)
	assert.Equal(t, "e", alerts.alerts[0].EventID)
}

func TestProcessUnknownTypeDeadLetters(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	d := newDispatcher(q, 10)
	_, _ = q.Enqueue(context.Background(), domain.Job{ID: "j", Type: "mystery"}, 0)
	d.Process(context.Background(), claimOne(t, q))
	assert.Len(t, q.Dead(), 1)
}

func TestProcessRecoversPanic(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	d := newDispatcher(q, 5)
	d.Register(domain.JobProcessSettlement, func(context.Context, domain.Job) error {
		panic("nil map")
	})
	_, _ = q.Enqueue(context.Background(), domain.Job{ID: "j", Type: domain.JobProcessSettlement}, 0)
	d.Process(context.Background(), claimOne(t, q))
	require.Len(t, q.Pending(), 1)
	assert.Contains(t, q.Pending()[0].LastError, "panic")
}

func TestPermanentUnwraps(t *testing.T) {
	err := Permanent(domain.ErrNoWinningOption)
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, domain.ErrNoWinningOption))
	assert.False(t, IsPermanent(domain.ErrNoWinningOption))
	assert.Nil(t, Permanent(nil))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(1, time.Second, time.Minute))
	assert.Equal(t, 4*time.Second, Backoff(3, time.Second, time.Minute))
	assert.Equal(t, time.Minute, Backoff(20, time.Second, time.Minute))
}

func TestRunDeliversAllJobs(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	d := NewDispatcher(q, DispatcherConfig{Workers: 3, BatchSize: 2, PollInterval: 5 * time.Millisecond, MaxAttempts: 1}, discard())
	var done atomic.Int32
	d.Register(domain.JobShockwaveStage, func(context.Context, domain.Job) error {
		done.Add(1)
		return nil
	})
	for _, st := range []domain.Stage{domain.StageBetting, domain.StageLocked, domain.StageT0, domain.StageT5, domain.StageSettle} {
		_, err := q.Enqueue(context.Background(), domain.Job{ID: string(st), Type: domain.JobShockwaveStage, Stage: st}, 0)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return done.Load() == 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestProcessWaitingNeverDeadLetters(t *testing.T) {
	clk := &clock{t: release}
	q := NewMemoryQueue(time.Minute)
	q.SetClock(clk.Now)
	d := newDispatcher(q, 2)
	alerts := &recordingAlerter{}
	d.SetAlerter(alerts)
	d.Register(domain.JobShockwaveStage, func(context.Context, domain.Job) error {
		return fmt.Errorf("settlement: event e: %w", domain.ErrActualValueMissing)
	})
	_, _ = q.Enqueue(context.Background(), domain.Job{ID: "j", Type: domain.JobShockwaveStage, EventID: "e"}, 0)

	for i := 0; i < 20; i++ {
		d.Process(context.Background(), claimOne(t, q))
		clk.Advance(time.Minute)
	}

	assert.Empty(t, q.Dead())
	assert.Empty(t, alerts.alerts)
	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 20, pending[0].Attempts)
	at, _ := q.DueAt("j")
	assert.Equal(t, clk.Now(), at, "waiting retries stay capped at max backoff")
}

func TestProcessPermanentBeatsWaiting(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	d := newDispatcher(q, 10)
	d.Register(domain.JobShockwaveStage, func(context.Context, domain.Job) error {
		return Permanent(domain.ErrStageNotReady)
	})
	_, _ = q.Enqueue(context.Background(), domain.Job{ID: "j", Type: domain.JobShockwaveStage}, 0)
	d.Process(context.Background(), claimOne(t, q))
	assert.Len(t, q.Dead(), 1)
}

func TestIsWaiting(t *testing.T) {
	assert.True(t, IsWaiting(fmt.Errorf("x: %w", domain.ErrStageNotReady)))
	assert.True(t, IsWaiting(domain.ErrActualValueMissing))
	assert.False(t, IsWaiting(domain.ErrNoPriceData))
}
