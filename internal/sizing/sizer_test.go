package sizing

import (
	"testing"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/config"
	"perpflow/internal/regime"
	"perpflow/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSizing() config.SizingConfig {
	return config.SizingConfig{
		Intelligent:           true,
		FixedContracts:        0.05,
		BaseRatios:            config.TierValues{Low: 0.03, Medium: 0.08, High: 0.15},
		ConfidenceMultipliers: config.TierValues{Low: 0.8, Medium: 1.8, High: 3.0},
		ExpectedProfit:        config.TierValues{Low: 0.003, Medium: 0.005, High: 0.008},
		MaxPositionRatio:      0.8,
		MinMargin:             2,
		MarginSafety:          0.95,
		ReducedAllocation:     0.5,
		MinProfitFeeRatio:     2,
	}
}

func testTrading() config.TradingConfig {
	return config.TradingConfig{Leverage: 20, ContractSize: 0.01, MinLot: 0.01, LotStep: 0.01, FeeRate: 0.0005}
}

func strongUp() indicator.Trend {
	return indicator.Trend{Direction: indicator.DirectionBull, Overall: indicator.OverallStrongUp, Strength: indicator.StrengthStrong}
}

func TestSizeHighConfidence(t *testing.T) {
	s := NewSizer(testSizing(), testTrading())
	res, err := s.Size(Request{
		Equity: 1000, FreeBalance: 1000, Price: 50000,
		Confidence: signal.High, Trend: strongUp(), Regime: regime.Trending,
		RSI: 50, ATRPct: 0.01,
	})
	require.NoError(t, err)
	// 150 * 3.0 * 1.5 * 1.1 = 742.5 USDT -> 742.5*20/500
	assert.InDelta(t, 742.5, res.Margin, 1e-6)
	assert.InDelta(t, 29.7, res.Contracts, 1e-9)
	assert.True(t, res.Fits)
	assert.False(t, res.Reduced)
	assert.False(t, res.FeeWarning)
	assert.LessOrEqual(t, res.RequiredMargin, res.MarginCap)
}

func TestSizeClampsToMaxPositionRatio(t *testing.T) {
	s := NewSizer(testSizing(), testTrading())
	res, err := s.Size(Request{
		Equity: 1000, FreeBalance: 1000, Price: 50000,
		Confidence: signal.High, Trend: strongUp(), Regime: regime.Trending,
		RSI: 50, ATRPct: 0.001,
	})
	require.NoError(t, err)
	// 742.5 * 1.2 > 800
	assert.InDelta(t, 800, res.Margin, 1e-9)
	assert.InDelta(t, 32.0, res.Contracts, 1e-9)
}

func TestSizeReducesWhenFreeMarginShort(t *testing.T) {
	s := NewSizer(testSizing(), testTrading())
	res, err := s.Size(Request{
		Equity: 1000, FreeBalance: 100, Price: 50000,
		Confidence: signal.High, Trend: strongUp(), Regime: regime.Trending,
		RSI: 50, ATRPct: 0.01,
	})
	require.NoError(t, err)
	assert.True(t, res.Reduced)
	assert.True(t, res.Fits)
	assert.InDelta(t, 1.9, res.Contracts, 1e-9)
	assert.InDelta(t, 95, res.MarginCap, 1e-9)
	assert.LessOrEqual(t, res.RequiredMargin, res.MarginCap)
}

func TestSizeMinimumLotMayNotFit(t *testing.T) {
	s := NewSizer(testSizing(), testTrading())
	res, err := s.Size(Request{
		Equity: 10, FreeBalance: 10, Price: 5_000_000,
		Confidence: signal.Low, Regime: regime.Ranging, RSI: 85, ATRPct: 0.03,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.01, res.Contracts)
	assert.False(t, res.Fits)
}

func TestSizeNeverBelowMinLotNorAboveSafeMargin(t *testing.T) {
	s := NewSizer(testSizing(), testTrading())
	tiers := []signal.Confidence{signal.Low, signal.Medium, signal.High}
	for _, free := range []float64{1, 5, 20, 100, 1000, 10000} {
		for _, price := range []float64{100, 3000, 60000} {
			for _, tier := range tiers {
				res, err := s.Size(Request{Equity: free, FreeBalance: free, Price: price, Confidence: tier, RSI: 45, ATRPct: 0.01})
				require.NoError(t, err)
				assert.GreaterOrEqual(t, res.Contracts, 0.01)
				if res.Fits {
					assert.LessOrEqual(t, res.RequiredMargin, free*0.95+1e-9, "free=%v price=%v tier=%s", free, price, tier)
				}
			}
		}
	}
}

func TestFixedSizing(t *testing.T) {
	cfg := testSizing()
	cfg.Intelligent = false
	res, err := NewSizer(cfg, testTrading()).Size(Request{Equity: 1000, FreeBalance: 1000, Price: 3000, Confidence: signal.Medium})
	require.NoError(t, err)
	assert.Equal(t, 0.05, res.Contracts)
	assert.True(t, res.Fits)
}

func TestFeeWarning(t *testing.T) {
	tc := testTrading()
	tc.FeeRate = 0.002
	res, err := NewSizer(testSizing(), tc).Size(Request{Equity: 1000, FreeBalance: 1000, Price: 3000, Confidence: signal.Low, RSI: 50})
	require.NoError(t, err)
	assert.True(t, res.FeeWarning)
	assert.InDelta(t, res.Notional*0.004, res.Fee, 1e-9)
}

func TestSizeRejectsInvalidInput(t *testing.T) {
	s := NewSizer(testSizing(), testTrading())
	_, err := s.Size(Request{Equity: 100, FreeBalance: 100, Price: 0})
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = s.Size(Request{Equity: -1, FreeBalance: 100, Price: 10})
	assert.ErrorIs(t, err, ErrInvalidEquity)
}

func TestMultiplierTables(t *testing.T) {
	assert.Equal(t, 0.6, RSIMultiplier(85))
	assert.Equal(t, 0.6, RSIMultiplier(15))
	assert.Equal(t, 0.8, RSIMultiplier(77))
	assert.Equal(t, 1.1, RSIMultiplier(50))
	assert.Equal(t, 1.0, RSIMultiplier(65))

	assert.Equal(t, 0.8, VolatilityMultiplier(0.03))
	assert.Equal(t, 1.2, VolatilityMultiplier(0.004))
	assert.Equal(t, 1.0, VolatilityMultiplier(0.01))

	assert.Equal(t, 1.5, TrendMultiplier(strongUp(), regime.Trending))
	assert.Equal(t, 1.1, TrendMultiplier(indicator.Trend{Direction: indicator.DirectionBear}, regime.Neutral))
	assert.Equal(t, 0.9, TrendMultiplier(strongUp(), regime.Ranging))
	assert.Equal(t, 0.9, TrendMultiplier(indicator.Trend{Direction: indicator.DirectionRanging}, regime.Neutral))
}
