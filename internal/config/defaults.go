package config

import (
	"os"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "data/logs/perpflow.log"
	defaultJudgmentLogPath = "data/logs/perpflow-judgment.log"

	defaultMarketSource = "binance"
	defaultMarketREST   = "https://fapi.binance.com"
	defaultMarketWS     = "wss://fstream.binance.com"
	defaultHTTPTimeout  = 15

	defaultSymbol          = "BTCUSDT"
	defaultTimeframe       = "15m"
	defaultDataPoints      = 96
	defaultTradingMode     = "paper"
	defaultLeverage        = 20
	defaultContractSize    = 0.01
	defaultMinLot          = 0.01
	defaultLotStep         = 0.01
	defaultFeeRate         = 0.0005
	defaultPaperBalance    = 1000
	defaultTickOffset      = 5
	defaultTickTimeout     = 60
	defaultOrderTimeout    = 10
	defaultDuplicateWindow = 30
	defaultGuardThreshold  = 3
	defaultGuardCooldown   = 300

	defaultFlowCapacity    = 1000
	defaultFlowDepth       = 20
	defaultFlowStaleAfter  = 30
	defaultDerivativesPoll = 60

	defaultRegimeLookback   = 14
	defaultChoppinessHigh   = 61.8
	defaultChoppinessLow    = 38.2
	defaultEfficiencyLow    = 0.3
	defaultChaosEfficiency  = 0.4
	defaultChaosVolRatio    = 2.0
	defaultLongWindowFactor = 5
	defaultRegimeHistory    = 12
	defaultRangingInertia   = 0.6
	defaultTrendInertia     = 0.7

	defaultScoreThreshold = 60
	defaultRSIOverbought  = 70
	defaultRSIOversold    = 30
	defaultImbalanceMin   = 0.1
	defaultZoneTolerance  = 0.001
	defaultZoneBodyATR    = 1.5
	defaultHighConfidence = 80

	defaultMaxPositionRatio  = 0.8
	defaultMinMargin         = 2
	defaultMarginSafety      = 0.95
	defaultReducedAllocation = 0.5
	defaultMinProfitFeeRatio = 2

	defaultMaxSlippage         = 0.005
	defaultAnomalyChange1m     = 0.05
	defaultAnomalyChange5m     = 0.10
	defaultAnomalyDeviation    = 0.03
	defaultAnomalyWindow       = 5
	defaultAnomalyCooldown     = 300
	defaultVolatilityWindow    = 20
	defaultVolatilityMax       = 0.15
	defaultMaxConsecutiveLoss  = 3
	defaultMaxDailyLossRatio   = 0.20
	defaultMinTradeInterval    = 900
	defaultMaxTradesPerHour    = 6
	defaultMaxTradesPerDay     = 40
	defaultTrailingATRWindow   = 14
	defaultTrailingMultiplier  = 2.5
	defaultTrailingActivation  = 0.004
	defaultTrailingBreakEven   = 0.001
	defaultTrailingMinStep     = 0.002
	defaultTrailingCooldown    = 120
	defaultTrailingPartial     = 0.5
	defaultTimeStopBars        = 2
	defaultTimeStopProgress    = 0.004
	defaultStructuralStability = 50
	defaultNoiseFastBand       = 0.006
	defaultNoiseSlowBand       = 0.010

	defaultDelayExpiry           = 300
	defaultDelayCapacity         = 8
	defaultCounterTrendStability = 85
	defaultWithTrendStability    = 60
	defaultLateEntryRatio        = 0.02

	defaultJudgmentMode        = "veto"
	defaultJudgmentBaseURL     = "https://api.deepseek.com/v1"
	defaultJudgmentModel       = "deepseek-chat"
	defaultJudgmentTimeout     = 30
	defaultJudgmentAttempts    = 2
	defaultJudgmentRetryDelay  = 1000
	defaultJudgmentRate        = 6
	defaultJudgmentAlertAfter  = 3
	defaultJudgmentBreaker     = 3
	defaultJudgmentBreakerCool = 300

	defaultNotifyTimeout = 10
	defaultNotifyQueue   = 64

	defaultJournalPath   = "data/perpflow.db"
	defaultIntentLogPath = "data/intents.db"
	defaultHTTPAddr      = ":9991"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.OrderFlow.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
	c.Scoring.applyDefaults(keys)
	c.Sizing.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Delay.applyDefaults(keys)
	c.Judgment.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.judgment_log_path", &a.JudgmentLogPath, defaultJudgmentLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.ws_base_url", &m.WSBaseURL, defaultMarketWS),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultHTTPTimeout),
	)
	m.APIKey = os.ExpandEnv(m.APIKey)
	m.APISecret = os.ExpandEnv(m.APISecret)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("trading.symbol", &t.Symbol, defaultSymbol),
		stringFieldDefault("trading.timeframe", &t.Timeframe, defaultTimeframe),
		intFieldDefault("trading.data_points", &t.DataPoints, defaultDataPoints),
		stringFieldDefault("trading.mode", &t.Mode, defaultTradingMode),
		intFieldDefault("trading.leverage", &t.Leverage, defaultLeverage),
		floatFieldDefault("trading.contract_size", &t.ContractSize, defaultContractSize),
		floatFieldDefault("trading.min_lot", &t.MinLot, defaultMinLot),
		floatFieldDefault("trading.lot_step", &t.LotStep, defaultLotStep),
		floatFieldDefault("trading.fee_rate", &t.FeeRate, defaultFeeRate),
		floatFieldDefault("trading.paper_balance", &t.PaperBalance, defaultPaperBalance),
		intFieldDefault("trading.tick_offset_seconds", &t.TickOffsetSeconds, defaultTickOffset),
		intFieldDefault("trading.tick_timeout_seconds", &t.TickTimeoutSeconds, defaultTickTimeout),
		boolFieldDefault("trading.run_immediately", &t.RunImmediately, true),
		intFieldDefault("trading.order_timeout_seconds", &t.OrderTimeoutSeconds, defaultOrderTimeout),
		intFieldDefault("trading.duplicate_window_seconds", &t.DuplicateWindowSeconds, defaultDuplicateWindow),
		intFieldDefault("trading.guard_failure_threshold", &t.GuardFailureThreshold, defaultGuardThreshold),
		intFieldDefault("trading.guard_cooldown_seconds", &t.GuardCooldownSeconds, defaultGuardCooldown),
	)
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
}

func (o *OrderFlowConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("orderflow.capacity", &o.Capacity, defaultFlowCapacity),
		intFieldDefault("orderflow.stale_after_seconds", &o.StaleAfterSeconds, defaultFlowStaleAfter),
		intFieldDefault("orderflow.derivatives_poll_seconds", &o.DerivativesPollSeconds, defaultDerivativesPoll),
		intFieldDefault("orderflow.depth", &o.Depth, defaultFlowDepth),
	)
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("regime.lookback", &r.Lookback, defaultRegimeLookback),
		floatFieldDefault("regime.choppiness_high", &r.ChoppinessHigh, defaultChoppinessHigh),
		floatFieldDefault("regime.choppiness_low", &r.ChoppinessLow, defaultChoppinessLow),
		floatFieldDefault("regime.efficiency_low", &r.EfficiencyLow, defaultEfficiencyLow),
		floatFieldDefault("regime.chaos_efficiency", &r.ChaosEfficiency, defaultChaosEfficiency),
		floatFieldDefault("regime.chaos_vol_ratio", &r.ChaosVolRatio, defaultChaosVolRatio),
		intFieldDefault("regime.long_window_factor", &r.LongWindowFactor, defaultLongWindowFactor),
		intFieldDefault("regime.history", &r.History, defaultRegimeHistory),
		floatFieldDefault("regime.ranging_inertia", &r.RangingInertia, defaultRangingInertia),
		floatFieldDefault("regime.trend_inertia", &r.TrendInertia, defaultTrendInertia),
	)
}

// DefaultWeights 返回基础因子权重（合计 100）。
func DefaultWeights() FactorWeights {
	return FactorWeights{Trend: 25, Zone: 15, Delta: 15, Imbalance: 10, MACD: 20, RSI: 15}
}

func (s *ScoringConfig) applyDefaults(keys keySet) {
	if !keys.isSet("scoring.weights") && s.Weights.Sum() == 0 {
		s.Weights = DefaultWeights()
	}
	applyFieldDefaults(keys,
		floatFieldDefault("scoring.threshold", &s.Threshold, defaultScoreThreshold),
		floatFieldDefault("scoring.rsi_overbought", &s.RSIOverbought, defaultRSIOverbought),
		floatFieldDefault("scoring.rsi_oversold", &s.RSIOversold, defaultRSIOversold),
		floatFieldDefault("scoring.imbalance_min", &s.ImbalanceMin, defaultImbalanceMin),
		floatFieldDefault("scoring.zone_tolerance", &s.ZoneTolerance, defaultZoneTolerance),
		floatFieldDefault("scoring.zone_body_atr", &s.ZoneBodyATR, defaultZoneBodyATR),
		floatFieldDefault("scoring.high_confidence", &s.HighConfidence, defaultHighConfidence),
	)
}

func (s *SizingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("sizing.intelligent", &s.Intelligent, true),
		floatFieldDefault("sizing.base_ratios.low", &s.BaseRatios.Low, 0.03),
		floatFieldDefault("sizing.base_ratios.medium", &s.BaseRatios.Medium, 0.08),
		floatFieldDefault("sizing.base_ratios.high", &s.BaseRatios.High, 0.15),
		floatFieldDefault("sizing.confidence_multipliers.low", &s.ConfidenceMultipliers.Low, 0.8),
		floatFieldDefault("sizing.confidence_multipliers.medium", &s.ConfidenceMultipliers.Medium, 1.8),
		floatFieldDefault("sizing.confidence_multipliers.high", &s.ConfidenceMultipliers.High, 3.0),
		floatFieldDefault("sizing.expected_profit.low", &s.ExpectedProfit.Low, 0.003),
		floatFieldDefault("sizing.expected_profit.medium", &s.ExpectedProfit.Medium, 0.005),
		floatFieldDefault("sizing.expected_profit.high", &s.ExpectedProfit.High, 0.008),
		floatFieldDefault("sizing.max_position_ratio", &s.MaxPositionRatio, defaultMaxPositionRatio),
		floatFieldDefault("sizing.min_margin", &s.MinMargin, defaultMinMargin),
		floatFieldDefault("sizing.margin_safety", &s.MarginSafety, defaultMarginSafety),
		floatFieldDefault("sizing.reduced_allocation", &s.ReducedAllocation, defaultReducedAllocation),
		floatFieldDefault("sizing.min_profit_fee_ratio", &s.MinProfitFeeRatio, defaultMinProfitFeeRatio),
		boolFieldDefault("sizing.block_on_fee_warning", &s.BlockOnFeeWarning, true),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	a, v, b, f := &r.Anomaly, &r.Volatility, &r.Breaker, &r.Frequency
	ts, tm, se, nf := &r.TrailingStop, &r.TimeStop, &r.StructuralExit, &r.NoiseFilter
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_slippage_ratio", &r.MaxSlippageRatio, defaultMaxSlippage),

		boolFieldDefault("risk.anomaly.enabled", &a.Enabled, true),
		floatFieldDefault("risk.anomaly.max_price_change_1m", &a.MaxChange1m, defaultAnomalyChange1m),
		floatFieldDefault("risk.anomaly.max_price_change_5m", &a.MaxChange5m, defaultAnomalyChange5m),
		floatFieldDefault("risk.anomaly.price_deviation_threshold", &a.DeviationThreshold, defaultAnomalyDeviation),
		intFieldDefault("risk.anomaly.window", &a.Window, defaultAnomalyWindow),
		intFieldDefault("risk.anomaly.cooldown_seconds", &a.CooldownSeconds, defaultAnomalyCooldown),

		boolFieldDefault("risk.volatility.enabled", &v.Enabled, true),
		intFieldDefault("risk.volatility.window", &v.Window, defaultVolatilityWindow),
		floatFieldDefault("risk.volatility.max_threshold", &v.Max, defaultVolatilityMax),

		intFieldDefault("risk.breaker.max_consecutive_losses", &b.MaxConsecutiveLosses, defaultMaxConsecutiveLoss),
		floatFieldDefault("risk.breaker.max_daily_loss_ratio", &b.MaxDailyLossRatio, defaultMaxDailyLossRatio),

		boolFieldDefault("risk.frequency.enabled", &f.Enabled, true),
		intFieldDefault("risk.frequency.min_interval_seconds", &f.MinIntervalSeconds, defaultMinTradeInterval),
		intFieldDefault("risk.frequency.max_trades_per_hour", &f.MaxPerHour, defaultMaxTradesPerHour),
		intFieldDefault("risk.frequency.max_trades_per_day", &f.MaxPerDay, defaultMaxTradesPerDay),

		boolFieldDefault("risk.trailing_stop.enabled", &ts.Enabled, true),
		intFieldDefault("risk.trailing_stop.atr_window", &ts.ATRWindow, defaultTrailingATRWindow),
		floatFieldDefault("risk.trailing_stop.atr_multiplier", &ts.ATRMultiplier, defaultTrailingMultiplier),
		floatFieldDefault("risk.trailing_stop.activation_ratio", &ts.ActivationRatio, defaultTrailingActivation),
		floatFieldDefault("risk.trailing_stop.break_even_buffer_ratio", &ts.BreakEvenBuffer, defaultTrailingBreakEven),
		floatFieldDefault("risk.trailing_stop.min_step_ratio", &ts.MinStepRatio, defaultTrailingMinStep),
		intFieldDefault("risk.trailing_stop.update_cooldown_seconds", &ts.UpdateCooldownSeconds, defaultTrailingCooldown),
		boolFieldDefault("risk.trailing_stop.close_all_on_hit", &ts.CloseAllOnHit, true),
		floatFieldDefault("risk.trailing_stop.partial_close_ratio", &ts.PartialCloseRatio, defaultTrailingPartial),

		boolFieldDefault("risk.time_stop.enabled", &tm.Enabled, true),
		intFieldDefault("risk.time_stop.window_bars", &tm.WindowBars, defaultTimeStopBars),
		floatFieldDefault("risk.time_stop.min_progress_ratio", &tm.MinProgressRatio, defaultTimeStopProgress),

		boolFieldDefault("risk.structural_exit.enabled", &se.Enabled, true),
		floatFieldDefault("risk.structural_exit.stability_threshold", &se.StabilityThreshold, defaultStructuralStability),
		boolFieldDefault("risk.structural_exit.require_conflict", &se.RequireConflict, true),

		boolFieldDefault("risk.noise_filter.enabled", &nf.Enabled, true),
		floatFieldDefault("risk.noise_filter.ema_fast_band", &nf.FastBand, defaultNoiseFastBand),
		floatFieldDefault("risk.noise_filter.ema_slow_band", &nf.SlowBand, defaultNoiseSlowBand),
	)
}

func (d *DelayConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("delay.enabled", &d.Enabled, true),
		intFieldDefault("delay.expiry_seconds", &d.ExpirySeconds, defaultDelayExpiry),
		intFieldDefault("delay.capacity", &d.Capacity, defaultDelayCapacity),
		floatFieldDefault("delay.counter_trend_stability", &d.CounterTrendStability, defaultCounterTrendStability),
		floatFieldDefault("delay.with_trend_stability", &d.WithTrendStability, defaultWithTrendStability),
		floatFieldDefault("delay.late_entry_ratio", &d.LateEntryRatio, defaultLateEntryRatio),
	)
}

func (j *JudgmentConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("judgment.mode", &j.Mode, defaultJudgmentMode),
		stringFieldDefault("judgment.base_url", &j.BaseURL, defaultJudgmentBaseURL),
		stringFieldDefault("judgment.model", &j.Model, defaultJudgmentModel),
		intFieldDefault("judgment.timeout_seconds", &j.TimeoutSeconds, defaultJudgmentTimeout),
		intFieldDefault("judgment.max_attempts", &j.MaxAttempts, defaultJudgmentAttempts),
		intFieldDefault("judgment.retry_delay_ms", &j.RetryDelayMillis, defaultJudgmentRetryDelay),
		floatFieldDefault("judgment.rate_per_minute", &j.RatePerMinute, defaultJudgmentRate),
		intFieldDefault("judgment.alert_after", &j.AlertAfter, defaultJudgmentAlertAfter),
		intFieldDefault("judgment.breaker_threshold", &j.BreakerThreshold, defaultJudgmentBreaker),
		intFieldDefault("judgment.breaker_cooldown_seconds", &j.BreakerCooldownSeconds, defaultJudgmentBreakerCool),
	)
	j.Mode = strings.ToLower(strings.TrimSpace(j.Mode))
	j.APIKey = os.ExpandEnv(j.APIKey)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("notify.timeout_seconds", &n.TimeoutSeconds, defaultNotifyTimeout),
		intFieldDefault("notify.queue_size", &n.QueueSize, defaultNotifyQueue),
	)
	n.Telegram.BotToken = os.ExpandEnv(n.Telegram.BotToken)
	n.Telegram.ChatID = os.ExpandEnv(n.Telegram.ChatID)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
		stringFieldDefault("store.intent_log_path", &s.IntentLogPath, defaultIntentLogPath),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

// 布尔值无法区分“未设置”与 false，只看 key 是否出现。
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
