package types

import (
	"time"
)

type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Opposite long<->short。
func (s PositionSide) Opposite() PositionSide {
	if s == Long {
		return Short
	}
	return Long
}

// Position 交易所持仓的只读镜像，只在单个 tick 内使用。
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price,omitempty"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	Leverage      float64      `json:"leverage"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Open 持仓数量为正且有开仓价。
func (p *Position) Open() bool {
	return p != nil && p.Size > 0 && p.EntryPrice > 0
}

// ProfitRatio 按方向计算相对开仓价的盈亏比例。
func (p *Position) ProfitRatio(price float64) float64 {
	if !p.Open() || price <= 0 {
		return 0
	}
	if p.Side == Short {
		return (p.EntryPrice - price) / p.EntryPrice
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

type AccountSnapshot struct {
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	Used      float64   `json:"used"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}
