package engine

import (
	"fmt"
	"math"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/config"
	"perpflow/internal/signal"
	"perpflow/internal/types"
)

func emaDistance(price, ema float64) float64 {
	if ema <= 0 || price <= 0 {
		return math.Inf(1)
	}
	return math.Abs(price-ema) / ema
}

// inNoiseBand 价格同时贴近 EMA12 与 EMA36 视为噪音区，均线不作为信号，只用于过滤。
func inNoiseBand(cfg config.NoiseFilterConfig, price float64, ind indicator.Snapshot, conf signal.Confidence) (bool, string) {
	if !cfg.Enabled || !ind.Ready {
		return false, ""
	}
	d12, d36 := emaDistance(price, ind.EMA12), emaDistance(price, ind.EMA36)
	if d12 > cfg.FastBand || d36 > cfg.SlowBand {
		return false, ""
	}
	if conf == signal.High && !cfg.ApplyToHigh {
		return false, ""
	}
	return true, fmt.Sprintf("价格处于噪音带 | EMA12距 %.2f%% <= %.2f%%, EMA36距 %.2f%% <= %.2f%%",
		d12*100, cfg.FastBand*100, d36*100, cfg.SlowBand*100)
}

// confirmTrend 趋势确认。strict=true 用于延迟队列复核：震荡行情对 HIGH 也不放行。
func confirmTrend(cfg config.DelayConfig, sig signal.Signal, conf signal.Confidence, price float64, ind indicator.Snapshot, strict bool) (bool, string) {
	tr := ind.Trend
	if conf != signal.High && cfg.LateEntryRatio > 0 {
		if d := emaDistance(price, ind.EMA12); !math.IsInf(d, 1) && d > cfg.LateEntryRatio {
			return false, fmt.Sprintf("离EMA12过远(%.2f%%)，等待回调", d*100)
		}
	}
	counter := (sig == signal.Buy && tr.Bearish()) || (sig == signal.Sell && tr.Bullish())
	with := (sig == signal.Buy && tr.Bullish()) || (sig == signal.Sell && tr.Bearish())
	switch {
	case counter:
		if tr.Stability < cfg.CounterTrendStability {
			return false, fmt.Sprintf("逆趋势稳定性不足: %.1f%% < %.0f%%", tr.Stability, cfg.CounterTrendStability)
		}
	case with:
		if tr.Stability < cfg.WithTrendStability {
			return false, fmt.Sprintf("顺趋势稳定性不足: %.1f%% < %.0f%%", tr.Stability, cfg.WithTrendStability)
		}
	default:
		if strict || conf != signal.High {
			return false, "仍在震荡行情中"
		}
	}
	return true, "趋势确认"
}

// reversalAction 持仓与信号方向的关系。
type reversalAction int

const (
	reversalNone   reversalAction = iota // 无持仓，正常开仓
	reversalSame                         // 同向加仓请求，忽略
	reversalClose                        // 反向 HIGH，先平仓
	reversalIgnore                       // 反向但置信度不足
)

func checkReversal(pos *types.Position, sig signal.Signal, conf signal.Confidence) reversalAction {
	if !pos.Open() {
		return reversalNone
	}
	want := sideOf(sig)
	if want == pos.Side {
		return reversalSame
	}
	if conf == signal.High {
		return reversalClose
	}
	return reversalIgnore
}

func sideOf(sig signal.Signal) types.PositionSide {
	if sig == signal.Sell {
		return types.Short
	}
	return types.Long
}
