// Package feed streams live trade prices into the tick series the price
// oracle averages over.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	writeWait         = 10 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

var errSkip = errors.New("feed: not a trade frame")

// trade is the subset of a Binance-style trade frame we read. Combined
// streams wrap it as {"stream": ..., "data": {...}}.
type trade struct {
	Price string          `json:"p"`
	Time  int64           `json:"T"`
	Data  json.RawMessage `json:"data"`
}

// ParseTrade decodes one websocket frame into a tick.
func ParseTrade(frame []byte) (domain.PriceTick, error) {
	var t trade
	if err := json.Unmarshal(frame, &t); err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: decode frame: %w", err)
	}
	if len(t.Data) > 0 && t.Price == "" {
		return ParseTrade(t.Data)
	}
	if t.Price == "" || t.Time == 0 {
		return domain.PriceTick{}, errSkip
	}
	p, err := decimal.NewFromString(strings.TrimSpace(t.Price))
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: price %q: %w", t.Price, err)
	}
	if !p.IsPositive() {
		return domain.PriceTick{}, fmt.Errorf("feed: price %s: %w", p, domain.ErrInvalidInput)
	}
	return domain.PriceTick{Price: p, At: time.UnixMilli(t.Time).UTC()}, nil
}

// TradeFeed connects to a trade websocket and appends every trade of one
// asset to the series. It reconnects with exponential backoff.
type TradeFeed struct {
	url    string
	asset  string
	series domain.PriceSeries
	bus    domain.SignalBus
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewTradeFeed creates a feed for asset reading from url.
func NewTradeFeed(url, asset string, series domain.PriceSeries, logger *slog.Logger) *TradeFeed {
	return &TradeFeed{
		url:    url,
		asset:  asset,
		series: series,
		logger: logger.With(slog.String("component", "trade_feed"), slog.String("asset", asset)),
		done:   make(chan struct{}),
	}
}

// WithBus also publishes each tick on the price channel.
func (f *TradeFeed) WithBus(bus domain.SignalBus) *TradeFeed {
	f.bus = bus
	return f
}

// Run streams until ctx is cancelled or Close is called.
func (f *TradeFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		start := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("trade feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *TradeFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-f.done:
				_ = conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	f.logger.Info("trade feed connected")
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := f.handle(ctx, frame); err != nil && !errors.Is(err, errSkip) {
			f.logger.Debug("trade frame dropped", slog.String("error", err.Error()))
		}
	}
}

func (f *TradeFeed) handle(ctx context.Context, frame []byte) error {
	tick, err := ParseTrade(frame)
	if err != nil {
		return err
	}
	if err := f.series.Append(ctx, f.asset, tick); err != nil {
		return err
	}
	if f.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"asset": f.asset,
			"price": tick.Price.String(),
			"ts":    tick.At.UnixMilli(),
		})
		_ = f.bus.Publish(ctx, domain.ChannelPrice, payload)
	}
	return nil
}

// Close stops the feed.
func (f *TradeFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
