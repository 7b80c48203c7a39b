package signal

import (
	"perpflow/internal/analysis/indicator"
	"perpflow/internal/orderflow"
	"perpflow/internal/regime"
)

type Signal string

const (
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
	Hold Signal = "HOLD"
)

// Opposite BUY<->SELL，HOLD 不变。
func (s Signal) Opposite() Signal {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return Hold
	}
}

type Confidence string

const (
	High   Confidence = "HIGH"
	Medium Confidence = "MEDIUM"
	Low    Confidence = "LOW"
)

// Rank 便于比较置信度高低。
func (c Confidence) Rank() int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// Input 一次评分所需的全部输入。
type Input struct {
	Indicators indicator.Snapshot
	Regime     regime.State
	Flow       orderflow.FlowMetrics
}

// Result 评分结果，Rationale 可逐项复原得分。
type Result struct {
	Signal     Signal       `json:"signal"`
	Score      float64      `json:"score"`
	LongScore  float64      `json:"long_score"`
	ShortScore float64      `json:"short_score"`
	Confidence Confidence   `json:"confidence"`
	Regime     regime.Label `json:"regime"`
	InDemand   bool         `json:"in_demand"`
	InSupply   bool         `json:"in_supply"`
	Rationale  []string     `json:"rationale"`
}

// Adjustment 某一市场状态下的权重倍率与 RSI 阈值。
type Adjustment struct {
	Trend         float64 `json:"trend" yaml:"trend"`
	Zone          float64 `json:"zone" yaml:"zone"`
	Delta         float64 `json:"delta" yaml:"delta"`
	Imbalance     float64 `json:"imbalance" yaml:"imbalance"`
	MACD          float64 `json:"macd" yaml:"macd"`
	RSI           float64 `json:"rsi" yaml:"rsi"`
	RSIOverbought float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold   float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
}

// AdjustmentSource 提供可热更新的状态调整表。
type AdjustmentSource interface {
	Adjustment(label regime.Label) (Adjustment, bool)
}

// DefaultAdjustment 内置调整表。趋势放宽 RSI 区间并加重趋势类因子，震荡收窄区间并加重 RSI/供需区。
func DefaultAdjustment(label regime.Label, overbought, oversold float64) Adjustment {
	switch label {
	case regime.Trending:
		return Adjustment{Trend: 1.3, Zone: 1, Delta: 1.2, Imbalance: 1, MACD: 1.2, RSI: 0.7, RSIOverbought: 80, RSIOversold: 20}
	case regime.Ranging:
		return Adjustment{Trend: 0.5, Zone: 1.4, Delta: 1, Imbalance: 1, MACD: 1, RSI: 1.4, RSIOverbought: 65, RSIOversold: 35}
	default:
		return Adjustment{Trend: 1, Zone: 1, Delta: 1, Imbalance: 1, MACD: 1, RSI: 1, RSIOverbought: overbought, RSIOversold: oversold}
	}
}
