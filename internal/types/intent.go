package types

import "time"

// TradeIntent 每个 tick 的决策输出，不落库。
type TradeIntent struct {
	Signal          string    `json:"signal"`
	Confidence      string    `json:"confidence"`
	ConfidenceScore float64   `json:"confidence_score"`
	Size            float64   `json:"size"`
	ReduceOnly      bool      `json:"reduce_only"`
	Source          string    `json:"source"`
	Rationale       []string  `json:"rationale"`
	Price           float64   `json:"price"`
	CreatedAt       time.Time `json:"created_at"`
}

// Actionable 非 HOLD 且数量为正。
func (t TradeIntent) Actionable() bool {
	return t.Signal != "HOLD" && t.Signal != "" && t.Size > 0
}
