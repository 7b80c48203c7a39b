package regime

import (
	"testing"

	"perpflow/internal/config"
	"perpflow/internal/market"

	"github.com/stretchr/testify/assert"
)

func testConfig() config.RegimeConfig {
	return config.RegimeConfig{
		Lookback:         14,
		ChoppinessHigh:   61.8,
		ChoppinessLow:    38.2,
		EfficiencyLow:    0.3,
		ChaosEfficiency:  0.4,
		ChaosVolRatio:    2.0,
		LongWindowFactor: 5,
		History:          12,
		RangingInertia:   0.6,
		TrendInertia:     0.7,
	}
}

func candlesFrom(closes []float64, wick float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{OpenTime: int64(i+1) * 60_000, Open: c, High: c + wick, Low: c - wick, Close: c}
	}
	return out
}

func TestSingleRangingBlipStaysTrending(t *testing.T) {
	c := NewClassifier(testConfig())
	seq := []Label{Trending, Trending, Trending, Trending, Trending, Ranging,
		Trending, Trending, Trending, Trending, Trending, Trending}
	for i, raw := range seq {
		st := c.Vote(raw)
		assert.Equal(t, Trending, st.Label, "vote %d", i)
	}
	st := c.Vote(Ranging)
	assert.Equal(t, Trending, st.Label)
	assert.Equal(t, Ranging, st.Raw)
	assert.Len(t, st.Votes, 12)
	assert.Contains(t, st.Reason, "趋势中继")
}

func TestHistoricalInertiaTurnsNeutralToRanging(t *testing.T) {
	c := NewClassifier(testConfig())
	for i := 0; i < 8; i++ {
		c.Vote(Ranging)
	}
	st := c.Vote(Neutral)
	assert.Equal(t, Ranging, st.Label)
	assert.Equal(t, 60, st.NoiseScore)
}

func TestHistoryIsBounded(t *testing.T) {
	c := NewClassifier(testConfig())
	for i := 0; i < 30; i++ {
		c.Vote(Neutral)
	}
	assert.Len(t, c.Vote(Neutral).Votes, 12)
}

func TestClassifyTrending(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	candles := candlesFrom(closes, 0.1)
	for i := 1; i < len(candles); i++ {
		candles[i].Low = candles[i-1].Close - 0.1
	}
	st := NewClassifier(testConfig()).Classify(candles)
	assert.Equal(t, Trending, st.Label)
	assert.InDelta(t, 1.0, st.EfficiencyRatio, 1e-9)
	assert.Less(t, st.ChoppinessIndex, 38.2)
}

func TestClassifyRanging(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	st := NewClassifier(testConfig()).Classify(candlesFrom(closes, 0.5))
	assert.Equal(t, Ranging, st.Label)
	assert.Greater(t, st.ChoppinessIndex, 61.8)
	assert.Equal(t, 0.0, st.EfficiencyRatio)
}

func TestClassifyChaotic(t *testing.T) {
	closes := make([]float64, 0, 90)
	for i := 0; i < 75; i++ {
		closes = append(closes, 100+float64(i%2)*0.01)
	}
	for i := 0; i < 15; i++ {
		if i%2 == 0 {
			closes = append(closes, 108)
		} else {
			closes = append(closes, 100)
		}
	}
	st := NewClassifier(testConfig()).Classify(candlesFrom(closes, 0.05))
	assert.Greater(t, st.VolatilityRatio, 2.0)
	assert.Equal(t, Chaotic, st.Label)
	assert.Equal(t, 80, st.NoiseScore)
}

func TestSameBarReplacesVote(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	c := NewClassifier(testConfig())
	candles := candlesFrom(closes, 0.1)
	c.Classify(candles)
	st := c.Classify(candles)
	assert.Len(t, st.Votes, 1)
}

func TestFeatureFallbacks(t *testing.T) {
	assert.Equal(t, 0.5, EfficiencyRatio([]float64{1, 2}, 14))
	assert.Equal(t, 0.0, EfficiencyRatio([]float64{5, 5, 5}, 2))
	assert.Equal(t, 50.0, ChoppinessIndex(candlesFrom([]float64{1, 2}, 0), 14))
	assert.Equal(t, 50.0, ChoppinessIndex(candlesFrom([]float64{3, 3, 3, 3}, 0), 3))
	assert.Equal(t, 0.0, VolatilityRatio([]float64{1, 2, 3}, 14, 70))
}
