package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/cache/memory"
	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrade(t *testing.T) {
	tick, err := ParseTrade([]byte(`{"e":"trade","s":"BTCUSDT","p":"95123.45000000","q":"0.01","T":1773318600123}`))
	require.NoError(t, err)
	assert.Equal(t, "95123.45", tick.Price.String())
	assert.Equal(t, int64(1773318600123), tick.At.UnixMilli())

	tick, err = ParseTrade([]byte(`{"stream":"btcusdt@trade","data":{"p":"95000","T":1773318600000}}`))
	require.NoError(t, err)
	assert.Equal(t, "95000", tick.Price.String())
}

func TestParseTradeRejects(t *testing.T) {
	cases := map[string]string{
		"not json":  `{`,
		"bad price": `{"p":"abc","T":1}`,
		"zero":      `{"p":"0","T":1}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTrade([]byte(frame))
			assert.Error(t, err)
		})
	}

	_, err := ParseTrade([]byte(`{"result":null,"id":1}`))
	assert.True(t, errors.Is(err, errSkip))
}

func TestTradeFeedAppendsTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range []string{
			`{"p":"100","T":1773318600000}`,
			`{"result":null,"id":1}`,
			`{"p":"101.5","T":1773318601000}`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	series := memory.NewSeries(0)
	bus := memory.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prices, err := bus.Subscribe(ctx, domain.ChannelPrice)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewTradeFeed(url, "BTC", series, slog.New(slog.NewTextHandler(io.Discard, nil))).WithBus(bus)
	go func() { _ = f.Run(ctx) }()
	defer f.Close()

	from := time.UnixMilli(1773318600000)
	require.Eventually(t, func() bool {
		ticks, _ := series.Range(ctx, "BTC", from, from.Add(time.Minute))
		return len(ticks) == 2
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case msg := <-prices:
		assert.Contains(t, string(msg), `"price":"100"`)
	case <-time.After(time.Second):
		t.Fatal("no price published")
	}
}
