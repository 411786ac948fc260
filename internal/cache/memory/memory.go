// Package memory provides in-process stand-ins for the Redis-backed cache
// services, used by dev mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
)

// Bus is a fan-out SignalBus. Slow subscribers drop messages rather than
// block publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: map[string][]chan []byte{}}
}

// Publish delivers payload to every current subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that receives messages until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Series keeps price ticks per asset, trimmed to a retention window.
type Series struct {
	mu        sync.Mutex
	ticks     map[string][]domain.PriceTick
	retention time.Duration
}

// NewSeries returns a Series. A zero retention keeps every tick.
func NewSeries(retention time.Duration) *Series {
	return &Series{ticks: map[string][]domain.PriceTick{}, retention: retention}
}

// Append records tick, keeping the series ordered by time.
func (s *Series) Append(_ context.Context, asset string, tick domain.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.ticks[asset]
	i := sort.Search(len(ts), func(i int) bool { return ts[i].At.After(tick.At) })
	ts = append(ts, domain.PriceTick{})
	copy(ts[i+1:], ts[i:])
	ts[i] = tick
	if s.retention > 0 {
		cutoff := ts[len(ts)-1].At.Add(-s.retention)
		j := sort.Search(len(ts), func(i int) bool { return !ts[i].At.Before(cutoff) })
		// Keep one tick before the cutoff so a window starting there still
		// has a carried-in price.
		if j > 0 {
			j--
		}
		ts = ts[j:]
	}
	s.ticks[asset] = ts
	return nil
}

// Range returns ticks in [from, to) plus the last tick before from.
func (s *Series) Range(_ context.Context, asset string, from, to time.Time) ([]domain.PriceTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.ticks[asset]
	lo := sort.Search(len(ts), func(i int) bool { return !ts[i].At.Before(from) })
	hi := sort.Search(len(ts), func(i int) bool { return !ts[i].At.Before(to) })
	if lo > 0 {
		lo--
	}
	return append([]domain.PriceTick(nil), ts[lo:hi]...), nil
}

// Locks is a process-local LockManager.
type Locks struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: map[string]time.Time{}}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (l *Locks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, domain.ErrLockHeld
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(exp) {
			delete(l.held, key)
		}
	}, nil
}

// Limiter is a fixed-window RateLimiter.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]window
}

type window struct {
	start time.Time
	count int
}

// NewLimiter returns an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{now: time.Now, windows: map[string]window{}}
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Allow counts one request against key.
func (l *Limiter) Allow(_ context.Context, key string, limit int, per time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w := l.windows[key]
	if now.Sub(w.start) >= per {
		w = window{start: now}
	}
	if w.count >= limit {
		l.windows[key] = w
		return false, nil
	}
	w.count++
	l.windows[key] = w
	return true, nil
}

var (
	_ domain.SignalBus   = (*Bus)(nil)
	_ domain.PriceSeries = (*Series)(nil)
	_ domain.LockManager = (*Locks)(nil)
	_ domain.RateLimiter = (*Limiter)(nil)
)
