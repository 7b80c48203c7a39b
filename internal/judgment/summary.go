package judgment

import (
	"fmt"
	"strings"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/orderflow"
	"perpflow/internal/regime"
	"perpflow/internal/signal"
	"perpflow/internal/types"
)

// Request 一次判断调用的行情摘要。
type Request struct {
	TraceID    string
	Symbol     string
	Price      float64
	Indicators indicator.Snapshot
	Regime     regime.State
	Flow       orderflow.FlowMetrics
	Scored     signal.Result
	Position   *types.Position
}

// Render 生成发给模型的用户消息。
func (r Request) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s  Price: %.4f\n", r.Symbol, r.Price)
	ind := r.Indicators
	fmt.Fprintf(&b, "Indicators: RSI=%.1f MACD=%.4f/%.4f EMA12=%.4f EMA36=%.4f ATR%%=%.3f%%\n",
		ind.RSI, ind.MACD, ind.MACDSignal, ind.EMA12, ind.EMA36, ind.ATRPct*100)
	fmt.Fprintf(&b, "Trend: direction=%s overall=%s strength=%s stability=%.0f clear=%t\n",
		ind.Trend.Direction, ind.Trend.Overall, ind.Trend.Strength, ind.Trend.Stability, ind.Trend.Clear)
	fmt.Fprintf(&b, "Regime: %s ER=%.2f CI=%.1f vol_ratio=%.2f\n",
		r.Regime.Label, r.Regime.EfficiencyRatio, r.Regime.ChoppinessIndex, r.Regime.VolatilityRatio)
	if r.Flow.Stale {
		b.WriteString("Order flow: stale\n")
	} else {
		fmt.Fprintf(&b, "Order flow: delta1m=%.3f delta5m=%.3f cvd=%.3f imbalance=%.3f taker_buy=%.2f funding=%.5f oi=%.0f\n",
			r.Flow.Delta1m, r.Flow.Delta5m, r.Flow.CVD, r.Flow.Imbalance, r.Flow.TakerBuyRatio, r.Flow.FundingRate, r.Flow.OpenInterest)
	}
	if r.Position.Open() {
		fmt.Fprintf(&b, "Position: %s size=%.4f entry=%.4f upnl=%.2f\n",
			r.Position.Side, r.Position.Size, r.Position.EntryPrice, r.Position.UnrealizedPnL)
	} else {
		b.WriteString("Position: flat\n")
	}
	fmt.Fprintf(&b, "Proposal: %s score=%.1f (long %.1f / short %.1f) confidence=%s\n",
		r.Scored.Signal, r.Scored.Score, r.Scored.LongScore, r.Scored.ShortScore, r.Scored.Confidence)
	for _, line := range r.Scored.Rationale {
		b.WriteString("- " + line + "\n")
	}
	return b.String()
}
