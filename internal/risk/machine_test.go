package risk

import (
	"testing"
	"time"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/config"
	"perpflow/internal/market"
	"perpflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxSlippageRatio: 0.005,
		Anomaly: config.AnomalyConfig{
			Enabled: true, MaxChange1m: 0.05, MaxChange5m: 0.10, DeviationThreshold: 0.03, Window: 5, CooldownSeconds: 300,
		},
		Volatility: config.VolatilityConfig{Enabled: true, Window: 20, Max: 0.15},
		Breaker:    config.BreakerConfig{MaxConsecutiveLosses: 3, MaxDailyLossRatio: 0.2},
		Frequency:  config.FrequencyConfig{Enabled: true, MinIntervalSeconds: 0, MaxPerHour: 6, MaxPerDay: 40},
		TrailingStop: config.TrailingStopConfig{
			Enabled: true, ATRMultiplier: 2.5, ActivationRatio: 0.004, BreakEvenBuffer: 0.001,
			MinStepRatio: 0.002, UpdateCooldownSeconds: 120, CloseAllOnHit: true, PartialCloseRatio: 0.5,
		},
		TimeStop:       config.TimeStopConfig{Enabled: true, WindowBars: 2, MinProgressRatio: 0.004},
		StructuralExit: config.StructuralExitConfig{Enabled: true, StabilityThreshold: 50, RequireConflict: true},
	}
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{MinLot: 0.01, LotStep: 0.01}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMachine(cfg config.RiskConfig) (*Machine, *fakeClock) {
	clk := &fakeClock{now: time.Date(2024, 5, 1, 10, 5, 0, 0, time.Local)}
	return NewMachine(cfg, testTradingConfig(), WithClock(clk.Now)), clk
}

func TestFrequencyCapBlocksSeventhTrade(t *testing.T) {
	m, clk := newTestMachine(testRiskConfig())
	for i := 0; i < 6; i++ {
		d := m.AllowEntry(clk.now, 1000)
		require.True(t, d.Allowed, "trade %d", i+1)
		m.RecordEntry(clk.now)
		clk.Advance(time.Minute)
	}
	d := m.AllowEntry(clk.now, 1000)
	assert.False(t, d.Allowed)
	assert.Equal(t, BlockFrequency, d.Kind)
	assert.Contains(t, d.Reason, "this hour")

	// 自然小时边界重置
	clk.now = time.Date(2024, 5, 1, 11, 0, 0, 0, time.Local)
	assert.True(t, m.AllowEntry(clk.now, 1000).Allowed)
	assert.Equal(t, 6, m.Snapshot().TradesToday)
}

func TestFrequencyMinInterval(t *testing.T) {
	cfg := testRiskConfig()
	cfg.Frequency.MinIntervalSeconds = 900
	m, clk := newTestMachine(cfg)
	m.RecordEntry(clk.now)
	clk.Advance(10 * time.Minute)
	d := m.AllowEntry(clk.now, 1000)
	assert.Equal(t, BlockFrequency, d.Kind)
	assert.Contains(t, d.Reason, "min interval")
	clk.Advance(5 * time.Minute)
	assert.True(t, m.AllowEntry(clk.now, 1000).Allowed)
}

func TestBreakerLatchesUntilReset(t *testing.T) {
	m, clk := newTestMachine(testRiskConfig())
	m.RecordTradeResult(-1)
	m.RecordTradeResult(-1)
	assert.True(t, m.AllowEntry(clk.now, 1000).Allowed)
	m.RecordTradeResult(-1)

	d := m.AllowEntry(clk.now, 1000)
	assert.Equal(t, BlockBreaker, d.Kind)

	// 盈利不会解除熔断
	m.RecordTradeResult(5)
	clk.Advance(2 * time.Hour)
	assert.Equal(t, BlockBreaker, m.AllowEntry(clk.now, 1000).Kind)
	assert.True(t, m.Snapshot().CircuitBreakerActive)

	m.ResetBreaker()
	assert.True(t, m.AllowEntry(clk.now, 1000).Allowed)
	assert.Equal(t, 0, m.Snapshot().ConsecutiveLosses)
}

func TestBreakerDailyLossUsesStartOfDayBalance(t *testing.T) {
	m, clk := newTestMachine(testRiskConfig())
	m.RecordTradeResult(-150)
	m.RecordTradeResult(10)
	// 860 当前余额 → 开盘约 1000，亏损 14%
	assert.True(t, m.AllowEntry(clk.now, 860).Allowed)
	m.RecordTradeResult(-70)
	// 790 当前余额 → 开盘约 1000，亏损 21%
	d := m.AllowEntry(clk.now, 790)
	assert.Equal(t, BlockBreaker, d.Kind)
	assert.Contains(t, d.Reason, "daily loss")
}

func TestEmergencyStopFirst(t *testing.T) {
	cfg := testRiskConfig()
	cfg.EmergencyStop = true
	m, clk := newTestMachine(cfg)
	d := m.AllowEntry(clk.now, 1000)
	assert.Equal(t, BlockEmergency, d.Kind)
}

func TestAnomalySuspendsWithCooldown(t *testing.T) {
	m, clk := newTestMachine(testRiskConfig())
	for i := 0; i < 5; i++ {
		rep := m.BeginTick(clk.now, 100, 1000)
		assert.False(t, rep.AnomalyTripped)
		clk.Advance(time.Minute)
	}
	rep := m.BeginTick(clk.now, 107, 1000)
	require.True(t, rep.AnomalyTripped)
	assert.Contains(t, rep.AnomalyReason, "1-step")
	assert.Equal(t, BlockSuspended, m.AllowEntry(clk.now, 1000).Kind)

	// 冷却期内不再检测
	clk.Advance(time.Minute)
	rep = m.BeginTick(clk.now, 80, 1000)
	assert.False(t, rep.AnomalyTripped)
	assert.Equal(t, BlockSuspended, m.AllowEntry(clk.now, 1000).Kind)

	clk.Advance(5 * time.Minute)
	rep = m.BeginTick(clk.now, 80, 1000)
	assert.True(t, rep.SuspensionLifted)
}

func TestAnomalyNeedsHistory(t *testing.T) {
	m, clk := newTestMachine(testRiskConfig())
	m.BeginTick(clk.now, 100, 1000)
	rep := m.BeginTick(clk.now, 150, 1000)
	assert.False(t, rep.AnomalyTripped)
}

func TestVolatilityGate(t *testing.T) {
	cfg := testRiskConfig()
	cfg.Anomaly.Enabled = false
	cfg.Volatility = config.VolatilityConfig{Enabled: true, Window: 5, Max: 0.15}
	m, clk := newTestMachine(cfg)
	for _, p := range []float64{100, 130, 90, 140, 80} {
		m.BeginTick(clk.now, p, 1000)
		clk.Advance(time.Minute)
	}
	d := m.AllowEntry(clk.now, 1000)
	assert.Equal(t, BlockVolatility, d.Kind)

	for _, p := range []float64{80, 80.1, 80.2, 80.1, 80} {
		m.BeginTick(clk.now, p, 1000)
	}
	assert.True(t, m.AllowEntry(clk.now, 1000).Allowed)
}

func TestSlippage(t *testing.T) {
	m, _ := newTestMachine(testRiskConfig())
	ratio, exceeded := m.CheckSlippage(100, 100.3)
	assert.InDelta(t, 0.003, ratio, 1e-9)
	assert.False(t, exceeded)
	_, exceeded = m.CheckSlippage(100, 101)
	assert.True(t, exceeded)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m, clk := newTestMachine(testRiskConfig())
	m.BeginTick(clk.now, 100, 1000)
	snap := m.Snapshot()
	snap.PriceHistory[0].Price = 1
	assert.Equal(t, 100.0, m.Snapshot().PriceHistory[0].Price)
}

func TestRestoreRollsCalendar(t *testing.T) {
	m, clk := newTestMachine(testRiskConfig())
	st := State{
		CircuitBreakerActive: true,
		BreakerReason:        "3 consecutive losses",
		TradesThisHour:       6,
		TradesToday:          12,
		HourKey:              "2024-04-30T22",
		DayKey:               "2024-04-30",
		PnLDay:               "2024-04-30",
		DailyPnL:             -50,
	}
	m.Restore(st)
	snap := m.Snapshot()
	assert.True(t, snap.CircuitBreakerActive)
	assert.Equal(t, 0, snap.TradesThisHour)
	assert.Equal(t, 0, snap.TradesToday)
	assert.Equal(t, 0.0, snap.DailyPnL)
	assert.Equal(t, clk.now.Format(dayKeyLayout), snap.DayKey)
}

func longPosition(entry, size float64) *types.Position {
	return &types.Position{Symbol: "BTCUSDT", Side: types.Long, Size: size, EntryPrice: entry, Leverage: 20}
}

func steadyTrend() indicator.Trend {
	return indicator.Trend{Direction: indicator.DirectionBull, Clear: true, Stability: 80}
}

func bar(openMinute int) market.Candle {
	open := time.Date(2024, 5, 1, 10, openMinute, 0, 0, time.UTC).UnixMilli()
	return market.Candle{OpenTime: open, High: 101, Low: 99, Close: 100}
}
