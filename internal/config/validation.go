package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行启动期校验，任何一项失败即拒绝启动。
func validate(c *Config) error {
	checks := []func() error{
		c.Market.validate,
		c.Trading.validate,
		c.OrderFlow.validate,
		c.Regime.validate,
		c.Scoring.validate,
		c.Sizing.validate,
		c.Risk.validate,
		c.Delay.validate,
		c.Judgment.validate,
		c.Notify.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Source {
	case "binance":
	default:
		return fmt.Errorf("market.source only supports 'binance', got %s", m.Source)
	}
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("trading.symbol cannot be empty")
	}
	if !IsValidInterval(t.Timeframe) {
		return fmt.Errorf("trading.timeframe invalid: %s", t.Timeframe)
	}
	if t.DataPoints < 50 || t.DataPoints > 1500 {
		return fmt.Errorf("trading.data_points must be in [50,1500]")
	}
	if t.Mode != "paper" && t.Mode != "live" {
		return fmt.Errorf("trading.mode must be 'paper' or 'live', got %s", t.Mode)
	}
	if t.Leverage <= 0 || t.Leverage > 125 {
		return fmt.Errorf("trading.leverage must be in (0,125]")
	}
	if t.ContractSize <= 0 || t.MinLot <= 0 || t.LotStep <= 0 {
		return fmt.Errorf("trading.contract_size, min_lot and lot_step must be > 0")
	}
	if t.FeeRate < 0 || t.FeeRate >= 0.01 {
		return fmt.Errorf("trading.fee_rate must be in [0,0.01)")
	}
	if t.OrderTimeoutSeconds <= 0 {
		return fmt.Errorf("trading.order_timeout_seconds must be > 0")
	}
	return nil
}

func (o *OrderFlowConfig) validate() error {
	if o.Capacity < 10 {
		return fmt.Errorf("orderflow.capacity must be >= 10")
	}
	if o.Depth < 0 {
		return fmt.Errorf("orderflow.depth must be >= 0")
	}
	return nil
}

func (r *RegimeConfig) validate() error {
	if r.Lookback < 2 {
		return fmt.Errorf("regime.lookback must be >= 2")
	}
	if r.ChoppinessLow >= r.ChoppinessHigh {
		return fmt.Errorf("regime.choppiness_low must be < choppiness_high")
	}
	if r.History <= 0 {
		return fmt.Errorf("regime.history must be > 0")
	}
	if r.RangingInertia <= 0 || r.RangingInertia > 1 || r.TrendInertia <= 0 || r.TrendInertia > 1 {
		return fmt.Errorf("regime inertia ratios must be in (0,1]")
	}
	return nil
}

func (s *ScoringConfig) validate() error {
	w := s.Weights
	if w.Trend < 0 || w.Zone < 0 || w.Delta < 0 || w.Imbalance < 0 || w.MACD < 0 || w.RSI < 0 {
		return fmt.Errorf("scoring.weights must be >= 0")
	}
	if w.Sum() <= 0 {
		return fmt.Errorf("scoring.weights must not all be zero")
	}
	if s.Threshold <= 0 || s.Threshold > 100 {
		return fmt.Errorf("scoring.threshold must be in (0,100]")
	}
	if s.RSIOversold >= s.RSIOverbought {
		return fmt.Errorf("scoring.rsi_oversold must be < rsi_overbought")
	}
	return nil
}

func (s *SizingConfig) validate() error {
	b := s.BaseRatios
	if !(b.Low <= b.Medium && b.Medium <= b.High) {
		return fmt.Errorf("sizing.base_ratios must be non-decreasing low<=medium<=high")
	}
	if s.MaxPositionRatio <= 0 || s.MaxPositionRatio > 1 {
		return fmt.Errorf("sizing.max_position_ratio must be in (0,1]")
	}
	if s.MarginSafety <= 0 || s.MarginSafety > 1 {
		return fmt.Errorf("sizing.margin_safety must be in (0,1]")
	}
	if s.ReducedAllocation <= 0 || s.ReducedAllocation > 1 {
		return fmt.Errorf("sizing.reduced_allocation must be in (0,1]")
	}
	if !s.Intelligent && s.FixedContracts <= 0 {
		return fmt.Errorf("sizing.fixed_contracts must be > 0 when intelligent sizing is off")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.Breaker.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.breaker.max_consecutive_losses must be > 0")
	}
	if r.Breaker.MaxDailyLossRatio <= 0 || r.Breaker.MaxDailyLossRatio >= 1 {
		return fmt.Errorf("risk.breaker.max_daily_loss_ratio must be in (0,1)")
	}
	if r.Anomaly.Window < 2 {
		return fmt.Errorf("risk.anomaly.window must be >= 2")
	}
	if r.Volatility.Window < 2 {
		return fmt.Errorf("risk.volatility.window must be >= 2")
	}
	ts := r.TrailingStop
	if ts.PartialCloseRatio <= 0 || ts.PartialCloseRatio > 1 {
		return fmt.Errorf("risk.trailing_stop.partial_close_ratio must be in (0,1]")
	}
	if ts.ATRMultiplier <= 0 {
		return fmt.Errorf("risk.trailing_stop.atr_multiplier must be > 0")
	}
	if r.TimeStop.WindowBars <= 0 {
		return fmt.Errorf("risk.time_stop.window_bars must be > 0")
	}
	return nil
}

func (d *DelayConfig) validate() error {
	if d.Enabled && d.ExpirySeconds <= 0 {
		return fmt.Errorf("delay.expiry_seconds must be > 0")
	}
	return nil
}

func (j *JudgmentConfig) validate() error {
	switch j.Mode {
	case "veto", "confirm", "off":
	default:
		return fmt.Errorf("judgment.mode must be veto, confirm or off, got %s", j.Mode)
	}
	if !j.Enabled {
		return nil
	}
	if strings.TrimSpace(j.APIKey) == "" {
		return fmt.Errorf("judgment enabled but api_key is empty")
	}
	if j.MaxAttempts <= 0 || j.MaxAttempts > 5 {
		return fmt.Errorf("judgment.max_attempts must be in [1,5]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled && (n.Telegram.BotToken == "" || n.Telegram.ChatID == "") {
		return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	switch s[len(s)-1] {
	case 'm', 'h', 'd', 'w':
	default:
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
