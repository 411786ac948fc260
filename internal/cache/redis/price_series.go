package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceSeries implements domain.PriceSeries. Each asset's ticks live in a
// sorted set "ticks:{asset}" scored by Unix milliseconds, with members
// "{ms}:{price}". The latest tick is mirrored in the hash "price:{asset}".
type PriceSeries struct {
	c         *Client
	retention time.Duration
}

// NewPriceSeries creates a PriceSeries that trims ticks older than
// retention on each append.
func NewPriceSeries(c *Client, retention time.Duration) *PriceSeries {
	return &PriceSeries{c: c, retention: retention}
}

func (s *PriceSeries) ticksKey(asset string) string { return s.c.Key("ticks:" + asset) }
func (s *PriceSeries) latestKey(asset string) string { return s.c.Key("price:" + asset) }

// Append records one tick.
func (s *PriceSeries) Append(ctx context.Context, asset string, tick domain.PriceTick) error {
	ms := tick.At.UnixMilli()
	_, err := s.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.ticksKey(asset), redis.Z{Score: float64(ms), Member: encodeTick(tick)})
		if s.retention > 0 {
			cutoff := tick.At.Add(-s.retention).UnixMilli()
			p.ZRemRangeByScore(ctx, s.ticksKey(asset), "-inf", "("+strconv.FormatInt(cutoff, 10))
		}
		p.HSet(ctx, s.latestKey(asset), "price", tick.Price.String(), "ts", strconv.FormatInt(ms, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: append tick %s: %w", asset, err)
	}
	return nil
}

// Range returns ticks in [from, to) plus the last tick before from.
func (s *PriceSeries) Range(ctx context.Context, asset string, from, to time.Time) ([]domain.PriceTick, error) {
	key := s.ticksKey(asset)
	fromMs := strconv.FormatInt(from.UnixMilli(), 10)
	toMs := strconv.FormatInt(to.UnixMilli(), 10)

	var prior *redis.StringSliceCmd
	var inside *redis.StringSliceCmd
	_, err := s.c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		prior = p.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{Max: "(" + fromMs, Min: "-inf", Count: 1})
		inside = p.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: fromMs, Max: "(" + toMs})
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: range ticks %s: %w", asset, err)
	}

	members := append(prior.Val(), inside.Val()...)
	out := make([]domain.PriceTick, 0, len(members))
	for _, m := range members {
		t, err := decodeTick(m)
		if err != nil {
			return nil, fmt.Errorf("redis: range ticks %s: %w", asset, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Latest returns the most recent tick of asset.
func (s *PriceSeries) Latest(ctx context.Context, asset string) (domain.PriceTick, error) {
	vals, err := s.c.rdb.HGetAll(ctx, s.latestKey(asset)).Result()
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: latest price %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	return decodeTick(vals["ts"] + ":" + vals["price"])
}

func encodeTick(t domain.PriceTick) string {
	return strconv.FormatInt(t.At.UnixMilli(), 10) + ":" + t.Price.String()
}

func decodeTick(member string) (domain.PriceTick, error) {
	ms, price, ok := strings.Cut(member, ":")
	if !ok {
		return domain.PriceTick{}, fmt.Errorf("malformed tick %q", member)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("tick time %q: %w", ms, err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("tick price %q: %w", price, err)
	}
	return domain.PriceTick{Price: p, At: time.UnixMilli(n).UTC()}, nil
}

var _ domain.PriceSeries = (*PriceSeries)(nil)
