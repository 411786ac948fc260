package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Signal bus channels.
const (
	ChannelOdds       = "odds"
	ChannelSettlement = "settlement"
	ChannelPrice      = "price"
)

// PriceTick is one observed trade price.
type PriceTick struct {
	Price decimal.Decimal
	At    time.Time
}

// PriceSeries stores recent ticks per asset for TWAP computation.
type PriceSeries interface {
	Append(ctx context.Context, asset string, tick PriceTick) error
	// Range returns ticks in [from, to) ordered by time, plus the last tick
	// before from when one exists.
	Range(ctx context.Context, asset string, from, to time.Time) ([]PriceTick, error)
}

// PriceOracle returns a time-weighted average price for a window.
type PriceOracle interface {
	TWAP(ctx context.Context, asset string, start time.Time, duration time.Duration) (decimal.Decimal, error)
}

// IndicatorSource looks up released macro indicator values. ActualValue
// returns ErrActualValueMissing while the figure is not yet published.
type IndicatorSource interface {
	ActualValue(ctx context.Context, ev Event) (decimal.Decimal, error)
}

// JobQueue is a durable delayed queue with at-least-once delivery. A
// claimed job is invisible to other consumers until it is acked, retried,
// dead-lettered or its visibility timeout lapses.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) (string, error)
	Claim(ctx context.Context, n int) ([]Job, error)
	Ack(ctx context.Context, job Job) error
	Retry(ctx context.Context, job Job, delay time.Duration, cause error) error
	DeadLetter(ctx context.Context, job Job, cause error) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of live updates.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
