package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/logger"
)

const (
	hourKeyLayout = "2006-01-02T15"
	dayKeyLayout  = "2006-01-02"
)

// Machine 风控与退出状态机。写操作只来自决策 tick，读者拿 Snapshot。
type Machine struct {
	cfg     config.RiskConfig
	minLot  float64
	lotStep float64
	nowFn   func() time.Time

	mu    sync.RWMutex
	state State
}

type Option func(*Machine)

func WithClock(fn func() time.Time) Option {
	return func(m *Machine) {
		if fn != nil {
			m.nowFn = fn
		}
	}
}

func NewMachine(cfg config.RiskConfig, tc config.TradingConfig, opts ...Option) *Machine {
	m := &Machine{
		cfg:     cfg,
		minLot:  tc.MinLot,
		lotStep: tc.LotStep,
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.EmergencyStop = cfg.EmergencyStop
	m.rollCalendar(m.nowFn())
	return m
}

// Snapshot 深拷贝当前状态。
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Restore 载入持久化的状态，日/小时计数按当前时钟重新判定。
func (m *Machine) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st.clone()
	if m.cfg.EmergencyStop {
		m.state.EmergencyStop = true
	}
	m.trimHistory()
	m.rollCalendar(m.nowFn())
}

// BeginTick 每个决策 tick 开始时调用：自然小时/日重置、解除到期暂停、异常与波动检测、熔断检查。
func (m *Machine) BeginTick(now time.Time, price, balance float64) TickReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rep TickReport
	rep.HourRolled, rep.DayRolled = m.rollCalendar(now)

	if m.state.TradingSuspended && !now.Before(m.state.SuspendedUntil) {
		m.state.TradingSuspended = false
		m.state.SuspendReason = ""
		rep.SuspensionLifted = true
		logger.Infof("风控: 异常冷却结束，恢复交易")
	}
	if price > 0 {
		if tripped, reason := m.detectAnomaly(now, price); tripped {
			rep.AnomalyTripped, rep.AnomalyReason = true, reason
		}
		m.pushPrice(now, price)
		rep.Volatility = m.volatility()
		m.state.LastVolatility = rep.Volatility
	}
	if tripped, reason := m.checkBreaker(balance); tripped {
		rep.BreakerTripped, rep.BreakerReason = true, reason
	}
	return rep
}

// AllowEntry 入场闸门：紧急停止 → 熔断 → 异常暂停 → 波动率 → 频率。
func (m *Machine) AllowEntry(now time.Time, balance float64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollCalendar(now)
	st := &m.state
	if st.EmergencyStop {
		return Decision{Kind: BlockEmergency, Reason: "emergency stop engaged"}
	}
	m.checkBreaker(balance)
	if st.CircuitBreakerActive {
		return Decision{Kind: BlockBreaker, Reason: "circuit breaker active: " + st.BreakerReason}
	}
	if st.TradingSuspended {
		return Decision{Kind: BlockSuspended, Reason: fmt.Sprintf("trading suspended until %s: %s", st.SuspendedUntil.Format("15:04:05"), st.SuspendReason)}
	}
	if v := m.cfg.Volatility; v.Enabled && v.Max > 0 && st.LastVolatility > v.Max {
		return Decision{Kind: BlockVolatility, Reason: fmt.Sprintf("volatility %.2f%% above %.2f%%", st.LastVolatility*100, v.Max*100)}
	}
	if ok, reason := m.checkFrequency(now); !ok {
		return Decision{Kind: BlockFrequency, Reason: reason}
	}
	return Decision{Allowed: true, Reason: "entry allowed"}
}

// RecordEntry 开仓成功后计入频率统计。
func (m *Machine) RecordEntry(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollCalendar(now)
	m.state.LastTradeAt = now
	m.state.TradesThisHour++
	m.state.TradesToday++
	logger.Infof("风控: 交易频率 本小时 %d 次，今日 %d 次", m.state.TradesThisHour, m.state.TradesToday)
}

// RecordTradeResult 平仓后记录盈亏，盈利清零连续亏损计数。
func (m *Machine) RecordTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollCalendar(m.nowFn())
	m.state.DailyPnL += pnl
	if pnl < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}
	logger.Infof("风控: PnL %+.2f, 日累计 %+.2f, 连续亏损 %d 次", pnl, m.state.DailyPnL, m.state.ConsecutiveLosses)
	m.checkBreaker(0)
}

// ResetBreaker 人工复位熔断、连续亏损、异常暂停与紧急停止。
func (m *Machine) ResetBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CircuitBreakerActive = false
	m.state.BreakerReason = ""
	m.state.ConsecutiveLosses = 0
	m.state.TradingSuspended = false
	m.state.SuspendReason = ""
	m.state.EmergencyStop = false
	logger.Infof("风控: 熔断状态已人工复位")
}

func (m *Machine) SetEmergencyStop(on bool) {
	m.mu.Lock()
	m.state.EmergencyStop = on
	m.mu.Unlock()
}

// CheckSlippage 成交后检查滑点，超限只告警。
func (m *Machine) CheckSlippage(expected, fill float64) (float64, bool) {
	if expected <= 0 || fill <= 0 {
		return 0, false
	}
	ratio := math.Abs(fill-expected) / expected
	return ratio, m.cfg.MaxSlippageRatio > 0 && ratio > m.cfg.MaxSlippageRatio
}

// rollCalendar 自然小时/自然日边界重置计数。
func (m *Machine) rollCalendar(now time.Time) (hourRolled, dayRolled bool) {
	hour, day := now.Format(hourKeyLayout), now.Format(dayKeyLayout)
	st := &m.state
	if st.HourKey != hour {
		hourRolled = st.HourKey != ""
		st.HourKey = hour
		st.TradesThisHour = 0
	}
	if st.DayKey != day {
		dayRolled = st.DayKey != ""
		st.DayKey = day
		st.TradesToday = 0
	}
	if st.PnLDay != day {
		st.PnLDay = day
		st.DailyPnL = 0
	}
	return hourRolled, dayRolled
}

func (m *Machine) checkFrequency(now time.Time) (bool, string) {
	f := m.cfg.Frequency
	if !f.Enabled {
		return true, ""
	}
	st := &m.state
	if !st.LastTradeAt.IsZero() && f.MinIntervalSeconds > 0 {
		minGap := time.Duration(f.MinIntervalSeconds) * time.Second
		if gap := now.Sub(st.LastTradeAt); gap < minGap {
			return false, fmt.Sprintf("frequency limit: min interval %s, wait %s", minGap, (minGap - gap).Round(time.Second))
		}
	}
	if f.MaxPerHour > 0 && st.TradesThisHour >= f.MaxPerHour {
		return false, fmt.Sprintf("frequency limit: %d trades this hour (max %d)", st.TradesThisHour, f.MaxPerHour)
	}
	if f.MaxPerDay > 0 && st.TradesToday >= f.MaxPerDay {
		return false, fmt.Sprintf("frequency limit: %d trades today (max %d)", st.TradesToday, f.MaxPerDay)
	}
	return true, ""
}

// checkBreaker 连续亏损或日亏损超限时锁定熔断，直到人工复位。
// 日亏损分母取 balance-daily_pnl，近似为当日开盘余额，日内出入金会使其失真。
func (m *Machine) checkBreaker(balance float64) (bool, string) {
	st := &m.state
	if st.CircuitBreakerActive {
		return false, ""
	}
	b := m.cfg.Breaker
	reason := ""
	if b.MaxConsecutiveLosses > 0 && st.ConsecutiveLosses >= b.MaxConsecutiveLosses {
		reason = fmt.Sprintf("%d consecutive losses", st.ConsecutiveLosses)
	} else if balance > 0 && st.DailyPnL < 0 && b.MaxDailyLossRatio > 0 {
		initial := balance - st.DailyPnL
		if initial > 0 {
			if ratio := math.Abs(st.DailyPnL) / initial; ratio > b.MaxDailyLossRatio {
				reason = fmt.Sprintf("daily loss %.2f%% above %.2f%%", ratio*100, b.MaxDailyLossRatio*100)
			}
		}
	}
	if reason == "" {
		return false, ""
	}
	st.CircuitBreakerActive = true
	st.BreakerReason = reason
	st.BreakerTrippedAt = m.nowFn()
	logger.Warnf("风控: 触发熔断 %s", reason)
	return true, reason
}

// detectAnomaly 与最近 window 个采样比较，冷却期内跳过。
func (m *Machine) detectAnomaly(now time.Time, price float64) (bool, string) {
	a := m.cfg.Anomaly
	st := &m.state
	if !a.Enabled {
		return false, ""
	}
	cooldown := time.Duration(a.CooldownSeconds) * time.Second
	if !st.LastAnomalyAt.IsZero() && now.Sub(st.LastAnomalyAt) < cooldown {
		return false, ""
	}
	window := a.Window
	if window <= 0 {
		window = 5
	}
	if len(st.PriceHistory) < window {
		return false, ""
	}
	recent := st.PriceHistory[len(st.PriceHistory)-window:]
	last := recent[len(recent)-1].Price
	first := recent[0].Price
	var sum float64
	for _, s := range recent {
		sum += s.Price
	}
	mean := sum / float64(len(recent))

	reason := ""
	switch {
	case last > 0 && math.Abs(price-last)/last > a.MaxChange1m:
		reason = fmt.Sprintf("1-step change %.2f%%", math.Abs(price-last)/last*100)
	case first > 0 && math.Abs(price-first)/first > a.MaxChange5m:
		reason = fmt.Sprintf("%d-step change %.2f%%", window, math.Abs(price-first)/first*100)
	case mean > 0 && math.Abs(price-mean)/mean > a.DeviationThreshold:
		reason = fmt.Sprintf("deviation from mean %.2f%%", math.Abs(price-mean)/mean*100)
	}
	if reason == "" {
		return false, ""
	}
	st.LastAnomalyAt = now
	st.TradingSuspended = true
	st.SuspendedUntil = now.Add(cooldown)
	st.SuspendReason = "price anomaly: " + reason
	logger.Warnf("风控: 价格异常 %s，暂停交易至 %s", reason, st.SuspendedUntil.Format("15:04:05"))
	return true, reason
}

func (m *Machine) pushPrice(now time.Time, price float64) {
	m.state.PriceHistory = append(m.state.PriceHistory, PriceSample{Price: price, At: now})
	m.trimHistory()
}

func (m *Machine) historyCap() int {
	n := m.cfg.Anomaly.Window
	if m.cfg.Volatility.Window > n {
		n = m.cfg.Volatility.Window
	}
	if n < 5 {
		n = 5
	}
	return n
}

func (m *Machine) trimHistory() {
	if limit := m.historyCap(); len(m.state.PriceHistory) > limit {
		m.state.PriceHistory = append([]PriceSample(nil), m.state.PriceHistory[len(m.state.PriceHistory)-limit:]...)
	}
}

// volatility 最近 window 个采样的收益率总体标准差，样本不足返回 0。
func (m *Machine) volatility() float64 {
	window := m.cfg.Volatility.Window
	hist := m.state.PriceHistory
	if window < 2 || len(hist) < window {
		return 0
	}
	hist = hist[len(hist)-window:]
	rets := make([]float64, 0, len(hist)-1)
	for i := 1; i < len(hist); i++ {
		if hist[i-1].Price <= 0 {
			continue
		}
		rets = append(rets, (hist[i].Price-hist[i-1].Price)/hist[i-1].Price)
	}
	if len(rets) == 0 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var variance float64
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / float64(len(rets)))
}
