package config

import "strings"

// Config 是 perpflow 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Trading   TradingConfig   `toml:"trading"`
	OrderFlow OrderFlowConfig `toml:"orderflow"`
	Regime    RegimeConfig    `toml:"regime"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Sizing    SizingConfig    `toml:"sizing"`
	Risk      RiskConfig      `toml:"risk"`
	Delay     DelayConfig     `toml:"delay"`
	Judgment  JudgmentConfig  `toml:"judgment"`
	Notify    NotifyConfig    `toml:"notify"`
	Store     StoreConfig     `toml:"store"`
	HTTP      HTTPConfig      `toml:"http"`
}

type AppConfig struct {
	Env             string `toml:"env"`
	LogLevel        string `toml:"log_level"`
	LogPath         string `toml:"log_path"`
	JudgmentLogPath string `toml:"judgment_log_path"`
	JudgmentDump    bool   `toml:"judgment_dump"`
}

// MarketConfig 描述行情/交易所接入。
type MarketConfig struct {
	Source             string `toml:"source"`
	RESTBaseURL        string `toml:"rest_base_url"`
	WSBaseURL          string `toml:"ws_base_url"`
	Proxy              string `toml:"proxy"`
	APIKey             string `toml:"api_key"`
	APISecret          string `toml:"api_secret"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	Testnet            bool   `toml:"testnet"`
}

// TradingConfig 标的、周期与下单参数。
type TradingConfig struct {
	Symbol                 string  `toml:"symbol"`
	Timeframe              string  `toml:"timeframe"`
	DataPoints             int     `toml:"data_points"`
	Mode                   string  `toml:"mode"`
	Leverage               int     `toml:"leverage"`
	ContractSize           float64 `toml:"contract_size"`
	MinLot                 float64 `toml:"min_lot"`
	LotStep                float64 `toml:"lot_step"`
	FeeRate                float64 `toml:"fee_rate"`
	PaperBalance           float64 `toml:"paper_balance"`
	TickOffsetSeconds      int     `toml:"tick_offset_seconds"`
	TickTimeoutSeconds     int     `toml:"tick_timeout_seconds"`
	RunImmediately         bool    `toml:"run_immediately"`
	OrderTimeoutSeconds    int     `toml:"order_timeout_seconds"`
	DuplicateWindowSeconds int     `toml:"duplicate_window_seconds"`
	GuardFailureThreshold  int     `toml:"guard_failure_threshold"`
	GuardCooldownSeconds   int     `toml:"guard_cooldown_seconds"`
}

type OrderFlowConfig struct {
	Capacity               int `toml:"capacity"`
	Depth                  int `toml:"depth"`
	StaleAfterSeconds      int `toml:"stale_after_seconds"`
	DerivativesPollSeconds int `toml:"derivatives_poll_seconds"`
}

type RegimeConfig struct {
	Lookback         int     `toml:"lookback"`
	ChoppinessHigh   float64 `toml:"choppiness_high"`
	ChoppinessLow    float64 `toml:"choppiness_low"`
	EfficiencyLow    float64 `toml:"efficiency_low"`
	ChaosEfficiency  float64 `toml:"chaos_efficiency"`
	ChaosVolRatio    float64 `toml:"chaos_vol_ratio"`
	LongWindowFactor int     `toml:"long_window_factor"`
	History          int     `toml:"history"`
	RangingInertia   float64 `toml:"ranging_inertia"`
	TrendInertia     float64 `toml:"trend_inertia"`
}

// FactorWeights 六个评分因子的基础权重。
type FactorWeights struct {
	Trend     float64 `toml:"trend" yaml:"trend" json:"trend"`
	Zone      float64 `toml:"zone" yaml:"zone" json:"zone"`
	Delta     float64 `toml:"delta" yaml:"delta" json:"delta"`
	Imbalance float64 `toml:"imbalance" yaml:"imbalance" json:"imbalance"`
	MACD      float64 `toml:"macd" yaml:"macd" json:"macd"`
	RSI       float64 `toml:"rsi" yaml:"rsi" json:"rsi"`
}

func (w FactorWeights) Sum() float64 {
	return w.Trend + w.Zone + w.Delta + w.Imbalance + w.MACD + w.RSI
}

type ScoringConfig struct {
	Weights        FactorWeights `toml:"weights"`
	Threshold      float64       `toml:"threshold"`
	RSIOverbought  float64       `toml:"rsi_overbought"`
	RSIOversold    float64       `toml:"rsi_oversold"`
	ImbalanceMin   float64       `toml:"imbalance_min"`
	ZoneTolerance  float64       `toml:"zone_tolerance"`
	ZoneBodyATR    float64       `toml:"zone_body_atr"`
	ProfilesPath   string        `toml:"profiles_path"`
	HighConfidence float64       `toml:"high_confidence"`
}

// TierValues 按置信度档位取值。
type TierValues struct {
	Low    float64 `toml:"low"`
	Medium float64 `toml:"medium"`
	High   float64 `toml:"high"`
}

func (t TierValues) For(tier string) float64 {
	switch strings.ToUpper(strings.TrimSpace(tier)) {
	case "HIGH":
		return t.High
	case "MEDIUM":
		return t.Medium
	case "LOW":
		return t.Low
	default:
		return 0
	}
}

type SizingConfig struct {
	Intelligent           bool       `toml:"intelligent"`
	FixedContracts        float64    `toml:"fixed_contracts"`
	BaseRatios            TierValues `toml:"base_ratios"`
	ConfidenceMultipliers TierValues `toml:"confidence_multipliers"`
	ExpectedProfit        TierValues `toml:"expected_profit"`
	MaxPositionRatio      float64    `toml:"max_position_ratio"`
	MinMargin             float64    `toml:"min_margin"`
	MarginSafety          float64    `toml:"margin_safety"`
	ReducedAllocation     float64    `toml:"reduced_allocation"`
	MinProfitFeeRatio     float64    `toml:"min_profit_fee_ratio"`
	BlockOnFeeWarning     bool       `toml:"block_on_fee_warning"`
}

type RiskConfig struct {
	EmergencyStop    bool                 `toml:"emergency_stop"`
	MaxSlippageRatio float64              `toml:"max_slippage_ratio"`
	Anomaly          AnomalyConfig        `toml:"anomaly"`
	Volatility       VolatilityConfig     `toml:"volatility"`
	Breaker          BreakerConfig        `toml:"breaker"`
	Frequency        FrequencyConfig      `toml:"frequency"`
	TrailingStop     TrailingStopConfig   `toml:"trailing_stop"`
	TimeStop         TimeStopConfig       `toml:"time_stop"`
	StructuralExit   StructuralExitConfig `toml:"structural_exit"`
	NoiseFilter      NoiseFilterConfig    `toml:"noise_filter"`
}

type AnomalyConfig struct {
	Enabled            bool    `toml:"enabled"`
	MaxChange1m        float64 `toml:"max_price_change_1m"`
	MaxChange5m        float64 `toml:"max_price_change_5m"`
	DeviationThreshold float64 `toml:"price_deviation_threshold"`
	Window             int     `toml:"window"`
	CooldownSeconds    int     `toml:"cooldown_seconds"`
}

type VolatilityConfig struct {
	Enabled bool    `toml:"enabled"`
	Window  int     `toml:"window"`
	Max     float64 `toml:"max_threshold"`
}

type BreakerConfig struct {
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	MaxDailyLossRatio    float64 `toml:"max_daily_loss_ratio"`
}

type FrequencyConfig struct {
	Enabled            bool `toml:"enabled"`
	MinIntervalSeconds int  `toml:"min_interval_seconds"`
	MaxPerHour         int  `toml:"max_trades_per_hour"`
	MaxPerDay          int  `toml:"max_trades_per_day"`
}

type TrailingStopConfig struct {
	Enabled               bool    `toml:"enabled"`
	ATRWindow             int     `toml:"atr_window"`
	ATRMultiplier         float64 `toml:"atr_multiplier"`
	ActivationRatio       float64 `toml:"activation_ratio"`
	BreakEvenBuffer       float64 `toml:"break_even_buffer_ratio"`
	MinStepRatio          float64 `toml:"min_step_ratio"`
	UpdateCooldownSeconds int     `toml:"update_cooldown_seconds"`
	CloseAllOnHit         bool    `toml:"close_all_on_hit"`
	PartialCloseRatio     float64 `toml:"partial_close_ratio"`
}

type TimeStopConfig struct {
	Enabled          bool    `toml:"enabled"`
	WindowBars       int     `toml:"window_bars"`
	MinProgressRatio float64 `toml:"min_progress_ratio"`
}

type StructuralExitConfig struct {
	Enabled            bool    `toml:"enabled"`
	StabilityThreshold float64 `toml:"stability_threshold"`
	RequireConflict    bool    `toml:"require_conflict"`
}

type NoiseFilterConfig struct {
	Enabled     bool    `toml:"enabled"`
	FastBand    float64 `toml:"ema_fast_band"`
	SlowBand    float64 `toml:"ema_slow_band"`
	ApplyToHigh bool    `toml:"apply_to_high"`
}

// DelayConfig 控制延迟信号队列。
type DelayConfig struct {
	Enabled               bool    `toml:"enabled"`
	ExpirySeconds         int     `toml:"expiry_seconds"`
	Capacity              int     `toml:"capacity"`
	CounterTrendStability float64 `toml:"counter_trend_stability"`
	WithTrendStability    float64 `toml:"with_trend_stability"`
	LateEntryRatio        float64 `toml:"late_entry_ratio"`
}

type JudgmentConfig struct {
	Enabled                bool    `toml:"enabled"`
	Mode                   string  `toml:"mode"`
	BaseURL                string  `toml:"base_url"`
	APIKey                 string  `toml:"api_key"`
	Model                  string  `toml:"model"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	MaxAttempts            int     `toml:"max_attempts"`
	RetryDelayMillis       int     `toml:"retry_delay_ms"`
	RatePerMinute          float64 `toml:"rate_per_minute"`
	AlertAfter             int     `toml:"alert_after"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
	PromptPath             string  `toml:"prompt_path"`
}

type NotifyConfig struct {
	Telegram       TelegramConfig `toml:"telegram"`
	TimeoutSeconds int            `toml:"timeout_seconds"`
	QueueSize      int            `toml:"queue_size"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	JournalPath      string `toml:"journal_path"`
	IntentLogPath    string `toml:"intent_log_path"`
	RestoreRiskState bool   `toml:"restore_risk_state"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	if path = strings.ToLower(strings.TrimSpace(path)); path != "" {
		k[path] = struct{}{}
	}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault 仅在用户未显式设置 key 且 need() 成立时应用默认值。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
