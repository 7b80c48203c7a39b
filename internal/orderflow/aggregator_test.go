package orderflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"perpflow/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func trade(id int64, offset time.Duration, size float64, side market.Side) market.TradeEvent {
	return market.TradeEvent{ID: id, Timestamp: base.Add(offset), Price: 100, Size: size, Side: side}
}

func newTestAgg(capacity int) *Aggregator {
	return NewAggregator(capacity, WithClock(func() time.Time { return base }), WithStaleAfter(time.Minute))
}

func TestDeltaWindows(t *testing.T) {
	a := newTestAgg(100)
	require.NoError(t, a.Ingest(trade(1, 0, 5, market.SideBuy)))
	require.NoError(t, a.Ingest(trade(2, 3*time.Minute, 2, market.SideSell)))
	require.NoError(t, a.Ingest(trade(3, 4*time.Minute+30*time.Second, 1, market.SideBuy)))
	require.NoError(t, a.Ingest(trade(4, 5*time.Minute, 4, market.SideBuy)))

	m := a.Snapshot(base)
	t.Run("one minute counts only trailing 60s", func(t *testing.T) {
		assert.InDelta(t, 5.0, m.Delta1m, 1e-9)
	})
	t.Run("five minute excludes boundary trade", func(t *testing.T) {
		assert.InDelta(t, 3.0, m.Delta5m, 1e-9)
	})
	t.Run("cvd covers everything", func(t *testing.T) {
		assert.InDelta(t, 8.0, m.CVD, 1e-9)
	})

	t.Run("late out-of-window trade leaves delta_1m unchanged", func(t *testing.T) {
		require.NoError(t, a.Ingest(trade(5, time.Minute, 50, market.SideSell)))
		m2 := a.Snapshot(base)
		assert.InDelta(t, m.Delta1m, m2.Delta1m, 1e-9)
		assert.InDelta(t, -42.0, m2.CVD, 1e-9)
	})
}

func TestCapacityEviction(t *testing.T) {
	a := newTestAgg(3)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, a.Ingest(trade(i, time.Duration(i)*time.Second, 1, market.SideBuy)))
	}
	require.NoError(t, a.Ingest(trade(6, 6*time.Second, 3, market.SideSell)))

	m := a.Snapshot(base)
	assert.Equal(t, 3, m.TradeCount)
	assert.InDelta(t, 2.0/5.0, m.TakerBuyRatio, 1e-9)
	assert.InDelta(t, 2.0, m.CVD, 1e-9)
}

func TestTakerBuyRatioEmpty(t *testing.T) {
	a := newTestAgg(10)
	m := a.Snapshot(base)
	assert.Equal(t, 0.5, m.TakerBuyRatio)
	assert.True(t, m.Stale)
}

func TestImbalance(t *testing.T) {
	lv := func(sizes ...float64) []market.PriceLevel {
		out := make([]market.PriceLevel, len(sizes))
		for i, s := range sizes {
			out[i] = market.PriceLevel{Price: float64(100 + i), Size: s}
		}
		return out
	}
	cases := []struct {
		name  string
		book  market.BookSnapshot
		depth int
		want  float64
	}{
		{"empty", market.BookSnapshot{}, 5, 0},
		{"bids heavier", market.BookSnapshot{Bids: lv(3, 3), Asks: lv(1, 1)}, 5, 0.5},
		{"asks heavier", market.BookSnapshot{Bids: lv(1), Asks: lv(4)}, 5, -0.6},
		{"only bids", market.BookSnapshot{Bids: lv(2)}, 5, 1},
		{"depth limits levels", market.BookSnapshot{Bids: lv(1, 100), Asks: lv(1, 1)}, 1, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Imbalance(c.book, c.depth)
			assert.InDelta(t, c.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, -1.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestIngestRejectsInvalid(t *testing.T) {
	a := newTestAgg(10)
	assert.Error(t, a.Ingest(market.TradeEvent{Price: 100, Size: 0, Side: market.SideBuy}))
	assert.Error(t, a.Ingest(market.TradeEvent{Price: 100, Size: 1, Side: "x"}))
	assert.Error(t, a.Ingest("bogus"))
	assert.Equal(t, 0, a.Snapshot(base).TradeCount)
}

func TestStaleFlagKeepsLastMetrics(t *testing.T) {
	a := newTestAgg(10)
	require.NoError(t, a.Ingest(trade(1, 0, 2, market.SideBuy)))
	a.IngestDerivatives(market.DerivativesUpdate{OpenInterest: 10, FundingRate: 0.0001})

	fresh := a.Snapshot(base.Add(10 * time.Second))
	assert.False(t, fresh.Stale)

	stale := a.Snapshot(base.Add(5 * time.Minute))
	assert.True(t, stale.Stale)
	assert.Equal(t, fresh.CVD, stale.CVD)
	assert.Equal(t, 10.0, stale.OpenInterest)
}

func TestPublishThrottle(t *testing.T) {
	now := base
	a := NewAggregator(10, WithClock(func() time.Time { return now }), WithPublishEvery(time.Second))
	require.NoError(t, a.Ingest(trade(1, 0, 1, market.SideBuy)))
	now = now.Add(100 * time.Millisecond)
	require.NoError(t, a.Ingest(trade(2, 0, 1, market.SideBuy)))
	assert.Equal(t, 1, a.Snapshot(now).TradeCount)

	a.Flush()
	assert.Equal(t, 2, a.Snapshot(now).TradeCount)
}

type MockSource struct {
	mock.Mock
}

func (m *MockSource) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *MockSource) SubscribeTrades(ctx context.Context, symbol string, opts market.SubscribeOptions) (<-chan market.TradeEvent, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(<-chan market.TradeEvent), args.Error(1)
}

func (m *MockSource) SubscribeBook(ctx context.Context, symbol string, depth int, opts market.SubscribeOptions) (<-chan market.BookSnapshot, error) {
	args := m.Called(ctx, symbol, depth)
	return args.Get(0).(<-chan market.BookSnapshot), args.Error(1)
}

func (m *MockSource) FundingRate(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockSource) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockSource) Stats() market.SourceStats { return market.SourceStats{} }

func (m *MockSource) Close() error { return nil }

func TestFeedConsumesStreams(t *testing.T) {
	trades := make(chan market.TradeEvent, 4)
	books := make(chan market.BookSnapshot, 1)
	src := new(MockSource)
	src.On("SubscribeTrades", mock.Anything, "BTCUSDT").Return((<-chan market.TradeEvent)(trades), nil)
	src.On("SubscribeBook", mock.Anything, "BTCUSDT", 20).Return((<-chan market.BookSnapshot)(books), nil)

	agg := newTestAgg(10)
	feed := &Feed{Agg: agg, Source: src, Symbol: "BTCUSDT", Depth: 20, FlushEvery: 10 * time.Millisecond}

	trades <- trade(1, 0, 2, market.SideBuy)
	books <- market.BookSnapshot{Bids: []market.PriceLevel{{Price: 1, Size: 1}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	assert.Eventually(t, func() bool {
		m := agg.Snapshot(base)
		return m.TradeCount == 1 && m.Imbalance == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestFeedReportsPanic(t *testing.T) {
	trades := make(chan market.TradeEvent, 1)
	src := new(MockSource)
	src.On("SubscribeTrades", mock.Anything, "BTCUSDT").Return((<-chan market.TradeEvent)(trades), nil)
	src.On("SubscribeBook", mock.Anything, "BTCUSDT", 20).Return((<-chan market.BookSnapshot)(nil), errors.New("no depth"))

	feed := &Feed{
		Agg:      newTestAgg(10),
		Source:   src,
		Symbol:   "BTCUSDT",
		Depth:    20,
		OnReject: func(err error) { panic(err) },
	}
	trades <- market.TradeEvent{ID: 1, Timestamp: base, Price: 0, Size: 1, Side: market.SideBuy}

	err := feed.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}
