package engine

import (
	"time"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/judgment"
	"perpflow/internal/orderflow"
	"perpflow/internal/regime"
	"perpflow/internal/risk"
	"perpflow/internal/signal"
	"perpflow/internal/types"
)

// StateSnapshot 最近一个 tick 的只读视图，供 HTTP 与日志使用。
type StateSnapshot struct {
	TraceID    string                 `json:"trace_id"`
	Symbol     string                 `json:"symbol"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Price      float64                `json:"price"`
	Flow       orderflow.FlowMetrics  `json:"flow"`
	Indicators indicator.Snapshot     `json:"indicators"`
	Regime     regime.State           `json:"regime"`
	Scored     signal.Result          `json:"scored"`
	Verdict    *judgment.Verdict      `json:"verdict,omitempty"`
	Risk       risk.State             `json:"risk"`
	Position   *types.Position        `json:"position,omitempty"`
	Account    *types.AccountSnapshot `json:"account,omitempty"`
	Delayed    int                    `json:"delayed_queue"`
	LastIntent *types.TradeIntent     `json:"last_intent,omitempty"`
	Outcome    string                 `json:"outcome"`
	Warnings   []string               `json:"warnings,omitempty"`
	Duration   time.Duration          `json:"duration"`
}
