package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perpflow/internal/market"
	"perpflow/internal/types"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertAggTradeEvent(t *testing.T) {
	te, ok := convertAggTradeEvent(&futures.WsAggTradeEvent{
		AggregateTradeID: 42,
		Price:            "100.5",
		Quantity:         "0.25",
		TradeTime:        1700000000000,
		Maker:            true,
	})
	require.True(t, ok)
	assert.Equal(t, int64(42), te.ID)
	assert.Equal(t, market.SideSell, te.Side)
	assert.Equal(t, 0.25, te.Size)
	assert.Equal(t, time.UnixMilli(1700000000000), te.Timestamp)

	te, ok = convertAggTradeEvent(&futures.WsAggTradeEvent{Price: "1", Quantity: "2", Time: 5})
	require.True(t, ok)
	assert.Equal(t, market.SideBuy, te.Side)

	_, ok = convertAggTradeEvent(&futures.WsAggTradeEvent{Price: "bad", Quantity: "1"})
	assert.False(t, ok)
	_, ok = convertAggTradeEvent(nil)
	assert.False(t, ok)
}

func TestPositionFromRisk(t *testing.T) {
	now := time.Now()
	pos := positionFromRisk(&futures.PositionRisk{
		Symbol:           "BTCUSDT",
		PositionAmt:      "-0.010",
		EntryPrice:       "30000",
		MarkPrice:        "29900",
		UnRealizedProfit: "1.0",
		Leverage:         "20",
	}, now)
	require.NotNil(t, pos)
	assert.Equal(t, types.Short, pos.Side)
	assert.InDelta(t, 0.01, pos.Size, 1e-12)
	assert.Equal(t, 20.0, pos.Leverage)

	assert.Nil(t, positionFromRisk(&futures.PositionRisk{PositionAmt: "0"}, now))
}

func TestStreamLevels(t *testing.T) {
	assert.Equal(t, 5, streamLevels(3))
	assert.Equal(t, 10, streamLevels(10))
	assert.Equal(t, 20, streamLevels(15))
	assert.Equal(t, 20, streamLevels(0))
}

func TestSubscribeBook(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"E":1700000000000,"b":[["100.0","2.0"],["99.5","0"],["bad","1"]],"a":[["100.5","1.0"]]}`))
		// 保持连接直到客户端关闭
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	src, err := New(Config{WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	books, err := src.SubscribeBook(ctx, "BTC/USDT", 20, market.SubscribeOptions{})
	require.NoError(t, err)

	select {
	case snap := <-books:
		require.Len(t, snap.Bids, 1)
		require.Len(t, snap.Asks, 1)
		assert.Equal(t, 100.0, snap.Bids[0].Price)
		assert.Equal(t, time.UnixMilli(1700000000000), snap.Timestamp)
	case <-time.After(3 * time.Second):
		t.Fatal("no book snapshot received")
	}
	assert.Equal(t, "/btcusdt@depth20@100ms", <-paths)

	cancel()
	require.NoError(t, src.Close())
	assert.False(t, src.Stats().LastMessage.IsZero())
}
