package redis

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickCodec(t *testing.T) {
	at := time.Date(2026, 3, 12, 12, 30, 0, 123_000_000, time.UTC)
	tick := domain.PriceTick{Price: decimal.RequireFromString("95123.45"), At: at}
	m := encodeTick(tick)
	assert.Equal(t, "1773318600123:95123.45", m)

	got, err := decodeTick(m)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(tick.Price))
	assert.True(t, got.At.Equal(at))

	for _, bad := range []string{"nocolon", "abc:1", "1:xyz"} {
		_, err := decodeTick(bad)
		assert.Error(t, err, bad)
	}
}

func TestJobCodec(t *testing.T) {
	job := domain.Job{
		ID:      "e1:T0",
		Type:    domain.JobShockwaveStage,
		EventID: "e1",
		Stage:   domain.StageT0,
		FireAt:  time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC),
	}
	job = failed(job, errors.New("oracle timeout"))
	assert.Equal(t, 1, job.Attempts)

	payload, err := encodeJob(job)
	require.NoError(t, err)
	jobs, err := decodeJobs([]string{payload})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job, jobs[0])

	_, err = decodeJobs([]string{"{"})
	assert.Error(t, err)
}

func TestKeysUsePrefix(t *testing.T) {
	c := &Client{prefix: "macrobet:"}
	q := NewJobQueue(c, time.Minute)
	assert.Equal(t, "macrobet:jobs:delayed", q.delayedKey())
	assert.Equal(t, "macrobet:jobs:inflight", q.inflightKey())
	assert.Equal(t, "macrobet:jobs:data", q.dataKey())
	assert.Equal(t, "macrobet:jobs:dead", q.deadKey())

	s := NewPriceSeries(c, time.Hour)
	assert.Equal(t, "macrobet:ticks:BTC", s.ticksKey("BTC"))
}

func TestScriptsEmbedded(t *testing.T) {
	assert.True(t, strings.Contains(claimJobsLua, "ZRANGEBYSCORE"))
	assert.True(t, strings.Contains(enqueueJobLua, "ZSCORE"))
	assert.True(t, strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("odds:*"))
	assert.False(t, hasPattern("settlement"))
}
