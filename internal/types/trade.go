package types

import "time"

// ClosedTrade 一笔完整的开平仓记录，平仓后写入交易日志。
type ClosedTrade struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Size       float64      `json:"size"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	PnL        float64      `json:"pnl"`
	Fees       float64      `json:"fees"`
	Reason     string       `json:"reason"`
	MAE        float64      `json:"mae"`
	MFE        float64      `json:"mfe"`
	Bars       int          `json:"bars"`
	Rationale  []string     `json:"rationale"`
	OpenedAt   time.Time    `json:"opened_at"`
	ClosedAt   time.Time    `json:"closed_at"`
}

// IntentRecord 意图审计日志的一行。
type IntentRecord struct {
	TraceID string      `json:"trace_id"`
	Symbol  string      `json:"symbol"`
	Intent  TradeIntent `json:"intent"`
	Allowed bool        `json:"allowed"`
	Reason  string      `json:"reason"`
}
