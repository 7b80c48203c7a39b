package middlewares

import (
	"context"
	"errors"
	"testing"
	"time"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/gateway/exchange"
	"perpflow/internal/market"
	"perpflow/internal/orderflow"
	"perpflow/internal/pipeline"
	"perpflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	candles, _ := args.Get(0).([]market.Candle)
	return candles, args.Error(1)
}

func (m *MockSource) SubscribeTrades(ctx context.Context, symbol string, opts market.SubscribeOptions) (<-chan market.TradeEvent, error) {
	return nil, errors.New("not used")
}

func (m *MockSource) SubscribeBook(ctx context.Context, symbol string, depth int, opts market.SubscribeOptions) (<-chan market.BookSnapshot, error) {
	return nil, errors.New("not used")
}

func (m *MockSource) FundingRate(ctx context.Context, symbol string) (float64, error)  { return 0, nil }
func (m *MockSource) OpenInterest(ctx context.Context, symbol string) (float64, error) { return 0, nil }
func (m *MockSource) Stats() market.SourceStats                                        { return market.SourceStats{} }
func (m *MockSource) Close() error                                                     { return nil }

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) Name() string { return "mock" }

func (m *MockExchange) Account(ctx context.Context) (types.AccountSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.AccountSnapshot), args.Error(1)
}

func (m *MockExchange) Position(ctx context.Context, symbol string) (*types.Position, error) {
	args := m.Called(ctx, symbol)
	pos, _ := args.Get(0).(*types.Position)
	return pos, args.Error(1)
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Fill, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.Fill), args.Error(1)
}

type fixedFlow struct{ m orderflow.FlowMetrics }

func (f fixedFlow) Snapshot(time.Time) orderflow.FlowMetrics { return f.m }

func candle(openMin int64, close float64) market.Candle {
	return market.Candle{OpenTime: openMin * 60000, CloseTime: openMin*60000 + 59999, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1}
}

func TestCandleFetcher(t *testing.T) {
	buf := market.NewBarBuffer(10)
	buf.Merge([]market.Candle{candle(1, 100)})
	src := new(MockSource)
	src.On("FetchCandles", mock.Anything, "BTCUSDT", "15m", 96).Return([]market.Candle{candle(1, 101), candle(2, 102)}, nil).Once()
	src.On("FetchCandles", mock.Anything, "BTCUSDT", "15m", 96).Return(nil, errors.New("timeout")).Once()
	mw := NewCandleFetcher(CandleFetcherConfig{Interval: "15M"}, src, buf)
	assert.Equal(t, "kline_fetcher", mw.Meta().Name)

	tc := pipeline.NewContext("BTCUSDT", "t", time.Now())
	require.NoError(t, mw.Handle(context.Background(), tc))
	bars, fresh := tc.Candles()
	assert.True(t, fresh)
	require.Len(t, bars, 2)
	assert.Equal(t, 101.0, bars[0].Close)

	tc = pipeline.NewContext("BTCUSDT", "t", time.Now())
	assert.Error(t, mw.Handle(context.Background(), tc))
	bars, fresh = tc.Candles()
	assert.False(t, fresh)
	assert.Len(t, bars, 2)
	src.AssertExpectations(t)
}

func TestAccountReader(t *testing.T) {
	t.Run("both succeed", func(t *testing.T) {
		ex := new(MockExchange)
		ex.On("Account", mock.Anything).Return(types.AccountSnapshot{Total: 1000, Available: 900}, nil)
		ex.On("Position", mock.Anything, "BTCUSDT").Return(&types.Position{Side: types.Long, Size: 1, EntryPrice: 100}, nil)
		tc := pipeline.NewContext("BTCUSDT", "t", time.Now())
		require.NoError(t, NewAccountReader(0, time.Second, ex).Handle(context.Background(), tc))
		acct, ok := tc.Account()
		assert.True(t, ok)
		assert.Equal(t, 900.0, acct.Available)
		pos, known := tc.Position()
		assert.True(t, known)
		assert.True(t, pos.Open())
	})

	t.Run("account failure keeps position", func(t *testing.T) {
		ex := new(MockExchange)
		ex.On("Account", mock.Anything).Return(types.AccountSnapshot{}, errors.New("503"))
		ex.On("Position", mock.Anything, "BTCUSDT").Return(nil, nil)
		tc := pipeline.NewContext("BTCUSDT", "t", time.Now())
		err := NewAccountReader(0, time.Second, ex).Handle(context.Background(), tc)
		assert.ErrorContains(t, err, "account")
		_, ok := tc.Account()
		assert.False(t, ok)
		pos, known := tc.Position()
		assert.True(t, known)
		assert.Nil(t, pos)
	})
}

func TestFlowAndIndicators(t *testing.T) {
	tc := pipeline.NewContext("BTCUSDT", "t", time.Now())
	require.NoError(t, NewFlowReader(0, fixedFlow{orderflow.FlowMetrics{Delta1m: 3}}).Handle(context.Background(), tc))
	assert.Equal(t, 3.0, tc.Flow().Delta1m)

	require.NoError(t, NewFlowReader(0, nil).Handle(context.Background(), tc))
	assert.True(t, tc.Flow().Stale)

	tc.SetCandles([]market.Candle{candle(1, 100)}, true)
	err := NewIndicatorStage(1, indicatorSettings()).Handle(context.Background(), tc)
	assert.Error(t, err)
	assert.False(t, tc.Indicators().Ready)
	assert.Equal(t, 50.0, tc.Indicators().RSI)
}

func indicatorSettings() indicator.Settings { return indicator.Settings{ZoneBodyATR: 1.5} }
