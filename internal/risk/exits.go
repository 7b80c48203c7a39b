package risk

import (
	"fmt"
	"math"
	"time"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/logger"
	"perpflow/internal/market"
	"perpflow/internal/pkg/trading"
	"perpflow/internal/types"
)

// ExitInput 单次退出评估所需的行情上下文。
type ExitInput struct {
	Now      time.Time
	Position *types.Position
	Price    float64
	ATR      float64
	Bar      market.Candle
	Trend    indicator.Trend
}

// EvaluateExits 依次执行 战役更新 → 时间止损 → 结构失效 → 追踪止损。
// 无持仓时清空持仓级状态。触发退出时状态保持不变，成交后由 CommitExit 清空；
// 下单失败时追踪止损与战役计数仍在，下个 tick 会再次触发。
func (m *Machine) EvaluateExits(in ExitInput) (ExitAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := in.Position
	if !pos.Open() || in.Price <= 0 {
		if m.state.Campaign.Active || m.state.Trailing.StopPrice > 0 {
			logger.Infof("风控: 持仓已不存在，重置追踪与战役状态")
		}
		m.resetPositionState()
		return ExitAction{}, false
	}
	m.updateCampaign(in.Now, pos, in.Bar, in.Price)
	profit := pos.ProfitRatio(in.Price)

	if act, ok := m.timeStop(pos, in.Price, profit); ok {
		act.Campaign = m.state.Campaign
		return act, true
	}
	if act, ok := m.structuralExit(pos, in.Price, in.Trend); ok {
		act.Campaign = m.state.Campaign
		return act, true
	}
	if act, ok := m.trailingStop(in.Now, pos, in.Price, profit, in.ATR, in.Bar); ok {
		act.Campaign = m.state.Campaign
		return act, true
	}
	return ExitAction{}, false
}

// CommitExit 退出单成交后调用。全部平仓清空持仓级状态，部分平仓继续跟踪。
func (m *Machine) CommitExit(act ExitAction) {
	if !act.Full {
		return
	}
	m.mu.Lock()
	m.resetPositionState()
	m.mu.Unlock()
}

// ResetPosition 外部平仓后清空持仓级状态，熔断与频率状态不受影响。
func (m *Machine) ResetPosition() {
	m.mu.Lock()
	m.resetPositionState()
	m.mu.Unlock()
}

func (m *Machine) resetPositionState() {
	m.state.Trailing = Trailing{}
	m.state.Campaign = Campaign{}
}

// updateCampaign 方向或开仓价变化视为新战役，bars 按 K 线开盘时间每根只加一次。
func (m *Machine) updateCampaign(now time.Time, pos *types.Position, bar market.Candle, price float64) {
	c := &m.state.Campaign
	if !c.Active || c.Side != pos.Side || c.EntryPrice <= 0 || !sameEntry(c.EntryPrice, pos.EntryPrice) {
		if c.Active {
			logger.Infof("风控: 持仓变化 %s@%.4f -> %s@%.4f，开启新战役", c.Side, c.EntryPrice, pos.Side, pos.EntryPrice)
		}
		*c = Campaign{Active: true, Side: pos.Side, EntryPrice: pos.EntryPrice, StartedAt: now, LastBarOpen: bar.OpenTime}
		m.state.Trailing = Trailing{}
	} else if bar.OpenTime > c.LastBarOpen {
		c.BarsElapsed++
		c.LastBarOpen = bar.OpenTime
	}
	runUp := math.Max(0, pos.ProfitRatio(price))
	drawdown := math.Max(0, -pos.ProfitRatio(price))
	c.MFE = math.Max(c.MFE, runUp)
	c.MAE = math.Max(c.MAE, drawdown)
}

func (m *Machine) timeStop(pos *types.Position, price, profit float64) (ExitAction, bool) {
	ts := m.cfg.TimeStop
	if !ts.Enabled || ts.WindowBars <= 0 {
		return ExitAction{}, false
	}
	bars := m.state.Campaign.BarsElapsed
	if bars < ts.WindowBars || profit >= ts.MinProgressRatio {
		return ExitAction{}, false
	}
	reason := fmt.Sprintf("time stop: %d bars without %.2f%% progress (now %.2f%%)", bars, ts.MinProgressRatio*100, profit*100)
	logger.Warnf("风控: %s", reason)
	return fullExit(ExitTimeStop, pos, price, reason), true
}

func (m *Machine) structuralExit(pos *types.Position, price float64, tr indicator.Trend) (ExitAction, bool) {
	se := m.cfg.StructuralExit
	if !se.Enabled || tr.Stability >= se.StabilityThreshold {
		return ExitAction{}, false
	}
	conflict := (pos.Side == types.Long && tr.Direction == indicator.DirectionBear) ||
		(pos.Side == types.Short && tr.Direction == indicator.DirectionBull)
	if tr.Clear && se.RequireConflict && !conflict {
		return ExitAction{}, false
	}
	reason := fmt.Sprintf("structural exit: stability %.1f < %.1f, direction %s, clear=%v", tr.Stability, se.StabilityThreshold, tr.Direction, tr.Clear)
	logger.Warnf("风控: %s", reason)
	return fullExit(ExitStructural, pos, price, reason), true
}

func (m *Machine) trailingStop(now time.Time, pos *types.Position, price, profit, atr float64, bar market.Candle) (ExitAction, bool) {
	cfg := m.cfg.TrailingStop
	if !cfg.Enabled {
		return ExitAction{}, false
	}
	tr := &m.state.Trailing
	if atr <= 0 {
		atr = math.Abs(bar.High - bar.Low)
		if atr <= 0 {
			atr = math.Max(1e-6, price*0.001)
		}
	}
	var water float64
	if pos.Side == types.Short {
		if tr.LowWater <= 0 {
			tr.LowWater = pos.EntryPrice
		}
		tr.LowWater = math.Min(tr.LowWater, price)
		water = tr.LowWater
	} else {
		if tr.HighWater <= 0 {
			tr.HighWater = pos.EntryPrice
		}
		tr.HighWater = math.Max(tr.HighWater, price)
		water = tr.HighWater
	}
	if tr.StopPrice <= 0 && profit < cfg.ActivationRatio {
		return ExitAction{}, false
	}

	candidate := trailCandidate(pos.Side, pos.EntryPrice, cfg.BreakEvenBuffer, water, atr, cfg.ATRMultiplier)
	old := tr.StopPrice
	next := tighten(pos.Side, old, candidate)
	cooldown := time.Duration(cfg.UpdateCooldownSeconds) * time.Second
	switch {
	case old <= 0:
		tr.StopPrice, tr.LastUpdate = next, now
		logger.Infof("风控: 追踪止损激活 %.4f | ATR %.4f | 盈利 %.2f%%", next, atr, profit*100)
	case now.Sub(tr.LastUpdate) >= cooldown && stepRatio(old, next, pos.EntryPrice) >= cfg.MinStepRatio:
		tr.StopPrice, tr.LastUpdate = next, now
		logger.Infof("风控: 追踪止损上移 %.4f -> %.4f | ATR %.4f", old, next, atr)
	}

	if !stopBreached(pos.Side, price, tr.StopPrice) {
		return ExitAction{}, false
	}
	reason := fmt.Sprintf("trailing stop hit: price %.4f vs stop %.4f", price, tr.StopPrice)
	if cfg.CloseAllOnHit {
		return fullExit(ExitTrailingStop, pos, price, reason), true
	}
	size := trading.CalcCloseAmount(pos.Size, cfg.PartialCloseRatio, m.minLot, m.lotStep)
	full := size >= pos.Size
	kind := ExitTrailingPartial
	if full {
		kind = ExitTrailingStop
	}
	return ExitAction{Kind: kind, Side: pos.Side, Size: size, Full: full, ReduceOnly: true, Price: price, Reason: reason}, true
}

func fullExit(kind ExitKind, pos *types.Position, price float64, reason string) ExitAction {
	return ExitAction{Kind: kind, Side: pos.Side, Size: pos.Size, Full: true, ReduceOnly: true, Price: price, Reason: reason}
}
