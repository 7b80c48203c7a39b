package risk

import (
	"time"

	"perpflow/internal/types"
)

// BlockKind 入场被拒绝的类别。
type BlockKind string

const (
	BlockNone       BlockKind = ""
	BlockEmergency  BlockKind = "emergency_stop"
	BlockBreaker    BlockKind = "circuit_breaker"
	BlockSuspended  BlockKind = "trading_suspended"
	BlockVolatility BlockKind = "volatility"
	BlockFrequency  BlockKind = "frequency"
)

// Decision 入场闸门结果。被拒绝属于正常控制流，不是错误。
type Decision struct {
	Allowed bool      `json:"allowed"`
	Kind    BlockKind `json:"kind,omitempty"`
	Reason  string    `json:"reason"`
}

type ExitKind string

const (
	ExitTimeStop        ExitKind = "time_stop"
	ExitStructural      ExitKind = "structural_exit"
	ExitTrailingStop    ExitKind = "trailing_stop"
	ExitTrailingPartial ExitKind = "trailing_partial"
)

// ExitAction 强制退出指令，一律 reduce-only。
type ExitAction struct {
	Kind       ExitKind           `json:"kind"`
	Side       types.PositionSide `json:"side"`
	Size       float64            `json:"size"`
	Full       bool               `json:"full"`
	ReduceOnly bool               `json:"reduce_only"`
	Price      float64            `json:"price"`
	Reason     string             `json:"reason"`
	Campaign   Campaign           `json:"campaign"` // 触发时的战役快照
}

// Trailing 追踪止损子状态，StopPrice=0 表示未激活。
type Trailing struct {
	StopPrice  float64   `json:"stop_price"`
	HighWater  float64   `json:"high_water"`
	LowWater   float64   `json:"low_water"`
	LastUpdate time.Time `json:"last_update"`
}

// Campaign 单次持仓从开仓到平仓的跟踪记录。
type Campaign struct {
	Active      bool               `json:"active"`
	Side        types.PositionSide `json:"side"`
	EntryPrice  float64            `json:"entry_price"`
	StartedAt   time.Time          `json:"started_at"`
	LastBarOpen int64              `json:"last_bar_open"`
	BarsElapsed int                `json:"bars_elapsed"`
	MAE         float64            `json:"mae"`
	MFE         float64            `json:"mfe"`
}

type PriceSample struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// State 风控全量状态。只由决策 tick 写入，其余读者通过 Snapshot 拿副本。
type State struct {
	EmergencyStop bool `json:"emergency_stop"`

	CircuitBreakerActive bool      `json:"circuit_breaker_active"`
	BreakerReason        string    `json:"breaker_reason,omitempty"`
	BreakerTrippedAt     time.Time `json:"breaker_tripped_at"`
	ConsecutiveLosses    int       `json:"consecutive_losses"`
	DailyPnL             float64   `json:"daily_pnl"`
	PnLDay               string    `json:"pnl_day"`

	TradingSuspended bool      `json:"trading_suspended"`
	SuspendedUntil   time.Time `json:"suspended_until"`
	SuspendReason    string    `json:"suspend_reason,omitempty"`
	LastAnomalyAt    time.Time `json:"last_anomaly_at"`

	TradesThisHour int       `json:"trades_this_hour"`
	TradesToday    int       `json:"trades_today"`
	HourKey        string    `json:"hour_key"`
	DayKey         string    `json:"day_key"`
	LastTradeAt    time.Time `json:"last_trade_at"`

	PriceHistory   []PriceSample `json:"price_history"`
	LastVolatility float64       `json:"last_volatility"`

	Trailing Trailing `json:"trailing"`
	Campaign Campaign `json:"campaign"`
}

func (s State) clone() State {
	out := s
	out.PriceHistory = append([]PriceSample(nil), s.PriceHistory...)
	return out
}

// TickReport BeginTick 期间发生的状态变化，供通知使用。
type TickReport struct {
	AnomalyTripped   bool
	AnomalyReason    string
	SuspensionLifted bool
	BreakerTripped   bool
	BreakerReason    string
	Volatility       float64
	HourRolled       bool
	DayRolled        bool
}
