package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/gateway/exchange"
	"perpflow/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	out, _ := args.Get(0).([]market.Candle)
	return out, args.Error(1)
}

func (m *MockSource) SubscribeTrades(ctx context.Context, symbol string, opts market.SubscribeOptions) (<-chan market.TradeEvent, error) {
	args := m.Called(ctx, symbol, opts)
	ch, _ := args.Get(0).(<-chan market.TradeEvent)
	return ch, args.Error(1)
}

func (m *MockSource) SubscribeBook(ctx context.Context, symbol string, depth int, opts market.SubscribeOptions) (<-chan market.BookSnapshot, error) {
	args := m.Called(ctx, symbol, depth, opts)
	ch, _ := args.Get(0).(<-chan market.BookSnapshot)
	return ch, args.Error(1)
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

func (m *MockSource) Close() error {
	return m.Called().Error(0)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.HTTP.Enabled = false
	cfg.Store.JournalPath = filepath.Join(dir, "journal.db")
	cfg.Store.IntentLogPath = filepath.Join(dir, "intents.db")
	return &cfg
}

func stubStack(src market.Source) func(context.Context, *config.Config) (*MarketStack, error) {
	return func(_ context.Context, cfg *config.Config) (*MarketStack, error) {
		return assembleMarketStack(cfg, src), nil
	}
}

func TestBuildPaperApp(t *testing.T) {
	cfg := testConfig(t)
	src := new(MockSource)
	src.On("Close").Return(nil).Once()

	built, err := NewAppBuilder(cfg, WithMarketStack(stubStack(src))).Build(context.Background())
	require.NoError(t, err)
	require.NotNil(t, built.Engine())
	assert.Nil(t, built.httpServer)
	assert.NotNil(t, built.feed)
	assert.Len(t, built.closers, 3)
	assert.Equal(t, "paper", built.Summary.Trading.Exchange)
	assert.False(t, built.Summary.Judgment.Enabled)
	assert.Nil(t, built.Engine().State())

	built.Close()
	built.Close()
	src.AssertExpectations(t)
}

func TestBuildClosesSourceOnFailure(t *testing.T) {
	cfg := testConfig(t)
	src := new(MockSource)
	src.On("Close").Return(nil).Once()

	_, err := NewAppBuilder(cfg,
		WithMarketStack(stubStack(src)),
		WithExchange(func(*config.Config, *MarketStack) (exchange.Exchange, error) {
			return nil, errors.New("no account")
		}),
	).Build(context.Background())
	require.Error(t, err)
	src.AssertExpectations(t)
}

func TestBuildExchange(t *testing.T) {
	t.Run("paper", func(t *testing.T) {
		cfg := testConfig(t)
		ex, err := buildExchange(cfg, assembleMarketStack(cfg, new(MockSource)))
		require.NoError(t, err)
		assert.Equal(t, "paper", ex.Name())
	})
	t.Run("live_requires_binance_source", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Trading.Mode = "live"
		_, err := buildExchange(cfg, assembleMarketStack(cfg, new(MockSource)))
		require.Error(t, err)
	})
}

func TestMarketStackLastPrice(t *testing.T) {
	cfg := testConfig(t)
	stack := assembleMarketStack(cfg, new(MockSource))
	assert.Zero(t, stack.LastPrice())

	stack.Buffer.Merge([]market.Candle{{OpenTime: 60_000, Open: 99, High: 101, Low: 98, Close: 100}})
	assert.Equal(t, 100.0, stack.LastPrice())
}

func TestWarmupDropsFormingBar(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()
	closed := now.Add(-45 * time.Minute).UnixMilli()
	forming := now.Add(-time.Minute).UnixMilli()
	src := new(MockSource)
	src.On("FetchCandles", mock.Anything, cfg.Trading.Symbol, cfg.Trading.Timeframe, cfg.Trading.DataPoints).
		Return([]market.Candle{
			{OpenTime: closed, Open: 100, High: 102, Low: 99, Close: 101},
			{OpenTime: forming, Open: 101, High: 103, Low: 100, Close: 102},
		}, nil).Once()

	buf := market.NewBarBuffer(cfg.Trading.DataPoints)
	summary := warmup(context.Background(), cfg.Trading, src, buf)
	require.Len(t, buf.Bars(), 1)
	assert.Equal(t, 101.0, buf.Bars()[0].Close)
	assert.Contains(t, summary, "bars=1/")

	src.On("FetchCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout")).Once()
	summary = warmup(context.Background(), cfg.Trading, src, market.NewBarBuffer(10))
	assert.Contains(t, summary, "warmup failed")
}

func TestBuildStoresOptional(t *testing.T) {
	stores, err := buildStores(&config.Config{})
	require.NoError(t, err)
	assert.Empty(t, stores.closers())
}

func TestStartupSummaryPrint(t *testing.T) {
	cfg := testConfig(t)
	s := newStartupSummary(cfg, "paper", &MarketStack{WarmupSummary: "BTCUSDT 15m bars=96/96"}, nil, nil, nil)
	var buf bytes.Buffer
	s.Fprint(&buf)
	out := buf.String()
	assert.Contains(t, out, cfg.Trading.Symbol)
	assert.Contains(t, out, "bars=96/96")
	assert.Contains(t, out, "(未启用)")
}

func TestBuildJudgment(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig(t)
		svc, err := buildJudgment(cfg, nil)
		require.NoError(t, err)
		assert.Nil(t, svc)
	})
	t.Run("enabled_with_builtin_prompt", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Judgment.Enabled = true
		cfg.Judgment.APIKey = "sk-test"
		svc, err := buildJudgment(cfg, nil)
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.True(t, svc.Enabled())
		assert.Equal(t, "veto", svc.Mode())
	})
	t.Run("missing_prompt_file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Judgment.Enabled = true
		cfg.Judgment.APIKey = "sk-test"
		cfg.Judgment.PromptPath = filepath.Join(t.TempDir(), "absent.txt")
		_, err := buildJudgment(cfg, nil)
		require.Error(t, err)
	})
}
