package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func bar(openMin int64, close float64) Candle {
	return Candle{OpenTime: openMin * 60_000, Open: close, High: close + 1, Low: close - 1, Close: close}
}

func TestBarBufferMerge(t *testing.T) {
	b := NewBarBuffer(3)

	assert.Equal(t, 2, b.Merge([]Candle{bar(1, 10), bar(2, 11)}))
	t.Run("forming bar replaced", func(t *testing.T) {
		assert.Equal(t, 0, b.Merge([]Candle{bar(2, 12)}))
		last, ok := b.Last()
		assert.True(t, ok)
		assert.Equal(t, 12.0, last.Close)
	})
	t.Run("older bar ignored", func(t *testing.T) {
		assert.Equal(t, 0, b.Merge([]Candle{bar(1, 99)}))
		assert.Equal(t, 10.0, b.Bars()[0].Close)
	})
	t.Run("capacity evicts oldest", func(t *testing.T) {
		b.Merge([]Candle{bar(3, 13), bar(4, 14)})
		bars := b.Bars()
		assert.Len(t, bars, 3)
		assert.Equal(t, int64(2*60_000), bars[0].OpenTime)
	})
	t.Run("invalid skipped", func(t *testing.T) {
		assert.Equal(t, 0, b.Merge([]Candle{{OpenTime: 10 * 60_000}}))
	})
}

type MockSource struct {
	mock.Mock
}

func (m *MockSource) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	return args.Get(0).([]Candle), args.Error(1)
}

func (m *MockSource) SubscribeTrades(ctx context.Context, symbol string, opts SubscribeOptions) (<-chan TradeEvent, error) {
	args := m.Called(ctx, symbol, opts)
	return args.Get(0).(<-chan TradeEvent), args.Error(1)
}

func (m *MockSource) SubscribeBook(ctx context.Context, symbol string, depth int, opts SubscribeOptions) (<-chan BookSnapshot, error) {
	args := m.Called(ctx, symbol, depth, opts)
	return args.Get(0).(<-chan BookSnapshot), args.Error(1)
}

func (m *MockSource) FundingRate(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockSource) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockSource) Stats() SourceStats { return SourceStats{} }

func (m *MockSource) Close() error { return nil }

func TestDerivativesPollerKeepsPreviousOnFailure(t *testing.T) {
	src := new(MockSource)
	src.On("OpenInterest", mock.Anything, "BTCUSDT").Return(1000.0, nil).Once()
	src.On("FundingRate", mock.Anything, "BTCUSDT").Return(0.0001, nil).Once()
	src.On("OpenInterest", mock.Anything, "BTCUSDT").Return(0.0, errors.New("timeout")).Once()
	src.On("FundingRate", mock.Anything, "BTCUSDT").Return(0.0002, nil).Once()

	p := NewDerivativesPoller(src, "btcusdt", time.Minute)
	first, ok := p.Poll(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 1000.0, first.OpenInterest)

	second, ok := p.Poll(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 1000.0, second.OpenInterest)
	assert.Equal(t, 0.0002, second.FundingRate)
	_, errText := p.Last()
	assert.Contains(t, errText, "timeout")
	src.AssertExpectations(t)
}

func TestDerivativesPollerFirstFailure(t *testing.T) {
	src := new(MockSource)
	src.On("OpenInterest", mock.Anything, "BTCUSDT").Return(0.0, errors.New("down"))
	src.On("FundingRate", mock.Anything, "BTCUSDT").Return(0.0, errors.New("down"))

	p := NewDerivativesPoller(src, "BTCUSDT", time.Minute)
	_, ok := p.Poll(context.Background())
	assert.False(t, ok)
}
