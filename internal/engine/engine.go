// Package engine 驱动每根 K 线一次的决策 tick：数据收集、评分、风控、执行与通知。
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/config"
	"perpflow/internal/gateway/exchange"
	"perpflow/internal/judgment"
	"perpflow/internal/logger"
	"perpflow/internal/market"
	"perpflow/internal/metrics"
	"perpflow/internal/orderflow"
	"perpflow/internal/pipeline"
	"perpflow/internal/regime"
	"perpflow/internal/risk"
	"perpflow/internal/scheduler"
	"perpflow/internal/signal"
	"perpflow/internal/sizing"
	"perpflow/internal/types"

	"github.com/google/uuid"
)

const (
	defaultTickTimeout = 2 * time.Minute
	storeTimeout       = 5 * time.Second

	sourceDelayed = "delayed"
)

// Components 引擎依赖。Judgment、Notifier、Journal、Intents 可为空。
type Components struct {
	Gather     *pipeline.Pipeline
	Classifier *regime.Classifier
	Scorer     *signal.Scorer
	Sizer      *sizing.Sizer
	Risk       *risk.Machine
	Judgment   *judgment.Service
	Guard      *Guard
	Delayed    *DelayedQueue
	Notifier   *Dispatcher
	Journal    Journal
	Intents    IntentLog
}

type command int

const (
	cmdResetBreaker command = iota + 1
	cmdEmergencyOn
	cmdEmergencyOff
)

func (c command) String() string {
	switch c {
	case cmdResetBreaker:
		return "reset_breaker"
	case cmdEmergencyOn:
		return "emergency_on"
	case cmdEmergencyOff:
		return "emergency_off"
	default:
		return "unknown"
	}
}

// Engine 单协程执行 tick，tick 之间没有并发。
type Engine struct {
	cfg         config.Config
	c           Components
	symbol      string
	tickTimeout time.Duration
	nowFn       func() time.Time

	commands chan command
	state    atomic.Pointer[StateSnapshot]

	// 以下字段只在 tick 内访问
	lastIntent  *types.TradeIntent
	lastPos     *types.Position
	openedAt    time.Time
	entryNotes  []string
	partialPnL  float64
	partialFees float64
}

type Option func(*Engine)

func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nowFn = fn
		}
	}
}

func New(cfg config.Config, c Components, opts ...Option) (*Engine, error) {
	switch {
	case c.Gather == nil:
		return nil, errors.New("engine: gather pipeline is required")
	case c.Classifier == nil || c.Scorer == nil:
		return nil, errors.New("engine: classifier and scorer are required")
	case c.Sizer == nil || c.Risk == nil:
		return nil, errors.New("engine: sizer and risk machine are required")
	case c.Guard == nil:
		return nil, errors.New("engine: execution guard is required")
	}
	if c.Delayed == nil {
		c.Delayed = NewDelayedQueue(time.Duration(cfg.Delay.ExpirySeconds)*time.Second, cfg.Delay.Capacity)
	}
	timeout := time.Duration(cfg.Trading.TickTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTickTimeout
	}
	e := &Engine{
		cfg:         cfg,
		c:           c,
		symbol:      cfg.Trading.Symbol,
		tickTimeout: timeout,
		nowFn:       time.Now,
		commands:    make(chan command, 16),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Restore 启动时按配置恢复持久化的风控状态。
func (e *Engine) Restore(ctx context.Context) error {
	if !e.cfg.Store.RestoreRiskState || e.c.Journal == nil {
		return nil
	}
	st, ok, err := e.c.Journal.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	if !ok {
		logger.Infof("[engine] 无可恢复的风控状态")
		return nil
	}
	e.c.Risk.Restore(st)
	logger.Infof("[engine] 已恢复风控状态 breaker=%t losses=%d daily_pnl=%.2f",
		st.CircuitBreakerActive, st.ConsecutiveLosses, st.DailyPnL)
	return nil
}

// Run 按 K 线收盘对齐调度 tick，ctx 取消后等待当前 tick 完成再返回。
func (e *Engine) Run(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(e.cfg.Trading.Timeframe)
	if !ok {
		return fmt.Errorf("engine: invalid timeframe %q", e.cfg.Trading.Timeframe)
	}
	sched := scheduler.NewAlignedScheduler(interval, time.Duration(e.cfg.Trading.TickOffsetSeconds)*time.Second)
	sched.RunImmediately = e.cfg.Trading.RunImmediately
	return sched.Run(ctx, e.Tick)
}

// RequestBreakerReset 排队一次熔断复位，在下一个 tick 开始时生效。
func (e *Engine) RequestBreakerReset() bool {
	return e.enqueue(cmdResetBreaker)
}

func (e *Engine) RequestEmergencyStop(on bool) bool {
	if on {
		return e.enqueue(cmdEmergencyOn)
	}
	return e.enqueue(cmdEmergencyOff)
}

func (e *Engine) enqueue(cmd command) bool {
	select {
	case e.commands <- cmd:
		logger.Infof("[engine] 已排队管理命令 %s", cmd)
		return true
	default:
		return false
	}
}

// State 最近一次 tick 的快照；尚未运行时返回 nil。
func (e *Engine) State() *StateSnapshot {
	return e.state.Load()
}

// PendingDelayed 延迟队列当前内容。
func (e *Engine) PendingDelayed() []DelayedSignal {
	return e.c.Delayed.Pending()
}

func (e *Engine) applyCommands() {
	for {
		select {
		case cmd := <-e.commands:
			switch cmd {
			case cmdResetBreaker:
				e.c.Risk.ResetBreaker()
			case cmdEmergencyOn:
				e.c.Risk.SetEmergencyStop(true)
			case cmdEmergencyOff:
				e.c.Risk.SetEmergencyStop(false)
			}
			logger.Infof("[engine] 已执行管理命令 %s", cmd)
		default:
			return
		}
	}
}

// tickRun 单次 tick 内共享的数据。
type tickRun struct {
	traceID string
	now     time.Time
	price   float64
	candles []market.Candle
	flow    orderflow.FlowMetrics
	acct    types.AccountSnapshot
	acctOK  bool
	pos     *types.Position
	known   bool
	snap    *StateSnapshot
}

// Tick 执行一次完整决策。任何失败都在本 tick 内降级处理，不向外抛出。
func (e *Engine) Tick(ctx context.Context) {
	start := e.nowFn()
	run := &tickRun{traceID: uuid.NewString(), now: start}
	run.snap = &StateSnapshot{TraceID: run.traceID, Symbol: e.symbol, UpdatedAt: start}
	ctx, cancel := context.WithTimeout(ctx, e.tickTimeout)
	defer cancel()
	defer e.finish(ctx, run, start)

	e.applyCommands()

	tc := pipeline.NewContext(e.symbol, run.traceID, start)
	if err := e.c.Gather.Run(ctx, tc); err != nil {
		logger.Warnf("[engine] %s 数据收集中止: %v", run.traceID, err)
	}
	run.candles, _ = tc.Candles()
	run.flow = tc.Flow()
	run.acct, run.acctOK = tc.Account()
	run.pos, run.known = tc.Position()
	ind := tc.Indicators()
	run.price = currentPrice(run.flow, ind, run.candles)

	snap := run.snap
	snap.Warnings = tc.Warnings()
	snap.Flow, snap.Indicators, snap.Price = run.flow, ind, run.price
	snap.Position = run.pos
	if run.known {
		if err := risk.ValidatePosition(run.pos); err != nil {
			// 不评估退出也不识别外部平仓，入场按持仓未知拒绝
			logger.Errorf("[engine] %s 持仓数据无效: %v", run.traceID, err)
			snap.Warnings = append(snap.Warnings, err.Error())
			run.pos, run.known = nil, false
		}
	}
	if run.acctOK {
		acct := run.acct
		snap.Account = &acct
	}
	metrics.SetBool(metrics.FlowStale, run.flow.Stale)
	if run.price <= 0 {
		snap.Outcome = "no_price"
		logger.Warnf("[engine] %s 无可用价格，跳过本轮", run.traceID)
		return
	}

	snap.Regime = e.c.Classifier.Classify(run.candles)
	snap.Scored = e.c.Scorer.Score(signal.Input{Indicators: ind, Regime: snap.Regime, Flow: run.flow})

	balance := 0.0
	if run.acctOK {
		balance = run.acct.Total
	}
	e.reportTick(e.c.Risk.BeginTick(start, run.price, balance))

	if run.known {
		if e.evaluateExits(ctx, run, ind) {
			return
		}
	}

	intent := e.candidate(ctx, run, ind)
	intent.Price, intent.CreatedAt = run.price, start
	metrics.IntentsTotal.WithLabelValues(intent.Signal).Inc()
	allowed, reason := e.enter(ctx, run, ind, &intent)
	snap.Outcome = reason
	e.lastIntent = &intent
	e.appendIntent(ctx, run, intent, allowed, reason)
}

func (e *Engine) finish(ctx context.Context, run *tickRun, start time.Time) {
	if r := recover(); r != nil {
		logger.Errorf("[engine] tick %s panic: %v\n%s", run.traceID, r, debug.Stack())
		run.snap.Outcome = "panic"
	}
	end := e.nowFn()
	snap := run.snap
	snap.Duration = end.Sub(start)
	snap.Risk = e.c.Risk.Snapshot()
	snap.Delayed = e.c.Delayed.Len()
	snap.LastIntent = e.lastIntent
	e.state.Store(snap)
	metrics.ObserveTick(start, end)
	metrics.SetBool(metrics.BreakerActive, snap.Risk.CircuitBreakerActive)
	logger.Infof("[engine] tick %s 完成 price=%.4f regime=%s signal=%s outcome=%s 耗时=%s",
		run.traceID, snap.Price, snap.Regime.Label, snap.Scored.Signal, snap.Outcome, snap.Duration.Round(time.Millisecond))
	if e.c.Journal != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := e.c.Journal.SaveRiskState(saveCtx, snap.Risk); err != nil {
			logger.Warnf("[engine] 保存风控状态失败: %v", err)
		}
	}
}

func (e *Engine) reportTick(rep risk.TickReport) {
	if !rep.AnomalyTripped && !rep.BreakerTripped {
		return
	}
	st := e.c.Risk.Snapshot()
	if rep.AnomalyTripped {
		e.c.Notifier.Notify(riskTripMessage(e.symbol, "价格异常，暂停开仓", rep.AnomalyReason, st))
	}
	if rep.BreakerTripped {
		e.c.Notifier.Notify(riskTripMessage(e.symbol, "触发熔断", rep.BreakerReason, st))
	}
}

// evaluateExits 持仓跟踪、外部平仓识别与强制退出。返回 true 表示本 tick 已执行退出。
func (e *Engine) evaluateExits(ctx context.Context, run *tickRun, ind indicator.Snapshot) bool {
	pos := run.pos
	if !pos.Open() && e.lastPos.Open() {
		e.externalClose(ctx, run)
	}
	var bar market.Candle
	if n := len(run.candles); n > 0 {
		bar = run.candles[n-1]
	}
	before := e.c.Risk.Snapshot().Trailing.StopPrice
	act, ok := e.c.Risk.EvaluateExits(risk.ExitInput{
		Now:      run.now,
		Position: pos,
		Price:    run.price,
		ATR:      ind.ATR,
		Bar:      bar,
		Trend:    ind.Trend,
	})
	if !ok {
		e.trackPosition(pos, run.now)
		if after := e.c.Risk.Snapshot().Trailing.StopPrice; after > 0 && after != before {
			e.c.Notifier.Notify(trailingMessage(e.symbol, pos, before, after))
		}
		return false
	}
	metrics.ForcedExitsTotal.WithLabelValues(string(act.Kind)).Inc()
	logger.Warnf("[engine] %s 强制退出 %s: %s", run.traceID, act.Kind, act.Reason)
	fill, err := e.closePosition(ctx, run, pos, act.Size, string(act.Kind)+": "+act.Reason)
	if err != nil {
		run.snap.Outcome = "forced_exit_failed"
		return true
	}
	e.c.Risk.CommitExit(act)
	pnl := e.settle(ctx, pos, fill, act.Full, string(act.Kind), act.Campaign, run.price)
	e.c.Notifier.Notify(forcedExitMessage(e.symbol, act, fill, pnl))
	run.snap.Outcome = "forced_exit:" + string(act.Kind)
	return true
}

func (e *Engine) trackPosition(pos *types.Position, now time.Time) {
	if !pos.Open() {
		e.lastPos = nil
		return
	}
	switch {
	case e.lastPos.Open() && e.lastPos.Side != pos.Side:
		e.openedAt, e.entryNotes = now, nil
		e.partialPnL, e.partialFees = 0, 0
	case !e.lastPos.Open() && e.openedAt.IsZero():
		e.openedAt = now
	}
	cp := *pos
	e.lastPos = &cp
}

// externalClose 上一轮仍有持仓而本轮没有：止损单、强平或人工平仓。
func (e *Engine) externalClose(ctx context.Context, run *tickRun) {
	last := e.lastPos
	pnl := directionalPnL(last, run.price, last.Size, e.cfg.Trading.ContractSize)
	logger.Warnf("[engine] 检测到持仓已在外部关闭 %s %.4f @ %.4f，估算盈亏 %+.4f", last.Side, last.Size, last.EntryPrice, pnl)
	camp := e.c.Risk.Snapshot().Campaign
	e.c.Risk.ResetPosition()
	fill := exchange.Fill{Symbol: e.symbol, Size: last.Size, Price: run.price, At: run.now}
	e.record(ctx, last, fill, pnl, 0, "external_close", camp)
}

func (e *Engine) closePosition(ctx context.Context, run *tickRun, pos *types.Position, size float64, reason string) (exchange.Fill, error) {
	if size <= 0 || size > pos.Size {
		size = pos.Size
	}
	req := exchange.OrderRequest{
		Symbol:        e.symbol,
		Side:          exchange.CloseSide(pos.Side),
		Size:          size,
		ReduceOnly:    true,
		ExpectedPrice: run.price,
		ClientID:      clientID(),
		Reason:        reason,
	}
	fill, err := e.c.Guard.PlaceOrder(ctx, req)
	if err != nil {
		logger.Errorf("[engine] %s 平仓失败: %v", run.traceID, err)
		e.c.Notifier.Notify(executionFailedMessage(e.symbol, req, err))
		return exchange.Fill{}, err
	}
	return fill, nil
}

// settle 记录平仓结果。部分平仓只累加，全部平仓时计入风控与交易日志。
func (e *Engine) settle(ctx context.Context, pos *types.Position, fill exchange.Fill, full bool, reason string, camp risk.Campaign, price float64) float64 {
	pnl, fee := e.realized(pos, fill, price)
	if !full {
		e.partialPnL += pnl
		e.partialFees += fee
		if e.lastPos != nil {
			e.lastPos.Size = trimSize(e.lastPos.Size - fill.Size)
		}
		logger.Infof("[engine] 部分平仓 %.4f 张 盈亏 %+.4f，累计 %+.4f", fill.Size, pnl, e.partialPnL)
		return pnl
	}
	e.record(ctx, pos, fill, pnl, fee, reason, camp)
	return pnl
}

func (e *Engine) record(ctx context.Context, pos *types.Position, fill exchange.Fill, pnl, fee float64, reason string, camp risk.Campaign) {
	total := pnl + e.partialPnL
	fees := fee + e.partialFees
	before := e.c.Risk.Snapshot().CircuitBreakerActive
	e.c.Risk.RecordTradeResult(total)
	if st := e.c.Risk.Snapshot(); st.CircuitBreakerActive && !before {
		e.c.Notifier.Notify(riskTripMessage(e.symbol, "触发熔断", st.BreakerReason, st))
	}
	opened := e.openedAt
	if opened.IsZero() {
		opened = camp.StartedAt
	}
	trade := types.ClosedTrade{
		ID:         uuid.NewString(),
		Symbol:     e.symbol,
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill.Price,
		PnL:        total,
		Fees:       fees,
		Reason:     reason,
		MAE:        camp.MAE,
		MFE:        camp.MFE,
		Bars:       camp.BarsElapsed,
		Rationale:  e.entryNotes,
		OpenedAt:   opened,
		ClosedAt:   fill.At,
	}
	if trade.ClosedAt.IsZero() {
		trade.ClosedAt = e.nowFn()
	}
	e.lastPos, e.openedAt, e.entryNotes = nil, time.Time{}, nil
	e.partialPnL, e.partialFees = 0, 0
	if e.c.Journal == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := e.c.Journal.RecordTrade(saveCtx, trade); err != nil {
		logger.Warnf("[engine] 写入交易日志失败: %v", err)
	}
}

// realized 模拟账户直接给出已实现盈亏；实盘按持仓浮盈比例或成交价推算。
func (e *Engine) realized(pos *types.Position, fill exchange.Fill, price float64) (pnl, fee float64) {
	size := fill.Size
	if size <= 0 || size > pos.Size {
		size = pos.Size
	}
	if fill.RealizedPnL != 0 || fill.Fee != 0 {
		return fill.RealizedPnL - fill.Fee, fill.Fee
	}
	exit := fill.Price
	if exit <= 0 {
		exit = price
	}
	fee = exit * size * e.cfg.Trading.ContractSize * e.cfg.Trading.FeeRate
	if pos.UnrealizedPnL != 0 && pos.Size > 0 {
		return pos.UnrealizedPnL*size/pos.Size - fee, fee
	}
	return directionalPnL(pos, exit, size, e.cfg.Trading.ContractSize) - fee, fee
}

// candidate 本 tick 的候选信号：评分结果经判断服务合并；评分为 HOLD 时尝试延迟队列。
func (e *Engine) candidate(ctx context.Context, run *tickRun, ind indicator.Snapshot) types.TradeIntent {
	scored := run.snap.Scored
	sig, source := scored.Signal, "scorer"
	rationale := append([]string(nil), scored.Rationale...)

	if e.c.Judgment.Enabled() && sig != signal.Hold {
		v := e.c.Judgment.Judge(ctx, judgment.Request{
			TraceID:    run.traceID,
			Symbol:     e.symbol,
			Price:      run.price,
			Indicators: ind,
			Regime:     run.snap.Regime,
			Flow:       run.flow,
			Scored:     scored,
			Position:   run.pos,
		})
		run.snap.Verdict = &v
		if v.IsFallback {
			metrics.JudgmentFallbacks.Inc()
		}
		final, why := judgment.Combine(e.c.Judgment.Mode(), sig, v)
		if why != "" {
			rationale = append(rationale, why)
		}
		if final != sig {
			logger.Infof("[engine] %s 判断服务调整信号 %s -> %s", run.traceID, sig, final)
		}
		sig = final
		source = "scorer+judgment"
	}

	intent := types.TradeIntent{
		Signal:          string(sig),
		Confidence:      string(scored.Confidence),
		ConfidenceScore: scored.Score,
		Source:          source,
		Rationale:       rationale,
	}
	if !e.cfg.Delay.Enabled {
		return intent
	}
	var check ConfirmFunc
	if scored.Signal == signal.Hold {
		check = func(rec DelayedSignal) (bool, string) {
			return confirmTrend(e.cfg.Delay, rec.Signal, rec.Confidence, run.price, ind, true)
		}
	}
	rec, expired := e.c.Delayed.Drain(run.now, check)
	for _, x := range expired {
		logger.Infof("[engine] 延迟信号已过期 %s %s: %s", x.Signal, x.ID, x.Reason)
		e.c.Notifier.Notify(delayedMessage(e.symbol, "延迟信号过期", x, x.Reason))
	}
	if rec != nil {
		return types.TradeIntent{
			Signal:          string(rec.Signal),
			Confidence:      string(rec.Confidence),
			ConfidenceScore: rec.Score,
			Source:          sourceDelayed,
			Rationale:       append([]string{"delayed signal " + rec.ID + " confirmed"}, rec.Rationale...),
		}
	}
	return intent
}

// enter 入场路径：噪音过滤、反向保护、趋势确认/延迟、风控闸门、仓位、执行。
func (e *Engine) enter(ctx context.Context, run *tickRun, ind indicator.Snapshot, intent *types.TradeIntent) (bool, string) {
	sig, conf := signal.Signal(intent.Signal), signal.Confidence(intent.Confidence)
	if sig == signal.Hold {
		return false, "hold"
	}
	if !run.acctOK {
		return false, "account unavailable: entries skipped"
	}
	if !run.known {
		return false, "position unknown: entries skipped"
	}
	if noisy, why := inNoiseBand(e.cfg.Risk.NoiseFilter, run.price, ind, conf); noisy {
		return false, why
	}
	switch checkReversal(run.pos, sig, conf) {
	case reversalSame:
		return false, fmt.Sprintf("already %s: no-op", run.pos.Side)
	case reversalIgnore:
		return false, fmt.Sprintf("opposite %s signal on %s position ignored", conf, run.pos.Side)
	case reversalClose:
		fill, err := e.closePosition(ctx, run, run.pos, run.pos.Size, "reversal: "+string(sig)+" HIGH")
		if err != nil {
			return false, "reversal close failed"
		}
		camp := e.c.Risk.Snapshot().Campaign
		e.c.Risk.ResetPosition()
		e.settle(ctx, run.pos, fill, true, "reversal", camp, run.price)
		intent.ReduceOnly = true
		intent.Size = fill.Size
		return true, "reversal: position closed, re-entry on a later tick"
	}
	if intent.Source != sourceDelayed && e.cfg.Delay.Enabled {
		if ok, why := confirmTrend(e.cfg.Delay, sig, conf, run.price, ind, false); !ok {
			rec := e.c.Delayed.Push(DelayedSignal{
				Signal:     sig,
				Confidence: conf,
				Score:      intent.ConfidenceScore,
				Reason:     why,
				Rationale:  intent.Rationale,
			}, run.now)
			e.c.Notifier.Notify(delayedMessage(e.symbol, "信号延迟执行", rec, why))
			return false, "delayed: " + why
		}
	}

	dec := e.c.Risk.AllowEntry(run.now, run.acct.Total)
	if !dec.Allowed {
		metrics.BlockedTotal.WithLabelValues(string(dec.Kind)).Inc()
		logger.Infof("[engine] %s 入场被拒 %s: %s", run.traceID, dec.Kind, dec.Reason)
		return false, dec.Reason
	}

	res, err := e.c.Sizer.Size(sizing.Request{
		Equity:      run.acct.Total,
		FreeBalance: run.acct.Available,
		Price:       run.price,
		Confidence:  conf,
		Trend:       ind.Trend,
		Regime:      run.snap.Regime.Label,
		RSI:         ind.RSI,
		ATRPct:      ind.ATRPct,
	})
	if err != nil {
		logger.Warnf("[engine] %s 仓位计算失败: %v", run.traceID, err)
		return false, "sizing rejected: " + err.Error()
	}
	if !res.Fits || res.Contracts <= 0 {
		e.c.Notifier.Notify(marginMessage(e.symbol, res, run.acct))
		return false, "margin check failed: " + strings.Join(res.Notes, "; ")
	}
	if res.FeeWarning && e.cfg.Sizing.BlockOnFeeWarning {
		logger.Infof("[engine] %s 手续费检查未通过: %s", run.traceID, strings.Join(res.Notes, "; "))
		e.c.Notifier.Notify(feeMessage(e.symbol, res))
		return false, "fee check failed: " + strings.Join(res.Notes, "; ")
	}
	intent.Size = res.Contracts
	e.c.Notifier.Notify(signalMessage(e.symbol, *intent, res, run.acct))

	req := exchange.OrderRequest{
		Symbol:        e.symbol,
		Side:          exchange.SideFor(sideOf(sig)),
		Size:          res.Contracts,
		ExpectedPrice: run.price,
		ClientID:      clientID(),
		Reason:        fmt.Sprintf("%s %s %.1f", sig, conf, intent.ConfidenceScore),
	}
	fill, err := e.c.Guard.PlaceOrder(ctx, req)
	if err != nil {
		logger.Errorf("[engine] %s 开仓失败: %v", run.traceID, err)
		e.c.Notifier.Notify(executionFailedMessage(e.symbol, req, err))
		return false, "execution failed: " + err.Error()
	}
	e.c.Risk.RecordEntry(run.now)
	if ratio, exceeded := e.c.Risk.CheckSlippage(run.price, fill.Price); exceeded {
		logger.Warnf("[engine] %s 滑点 %.3f%% 超过上限", run.traceID, ratio*100)
		e.c.Notifier.Notify(slippageMessage(e.symbol, run.price, fill.Price, ratio))
	}
	e.openedAt = fill.At
	if e.openedAt.IsZero() {
		e.openedAt = run.now
	}
	e.entryNotes = append([]string(nil), intent.Rationale...)
	e.lastPos = &types.Position{Symbol: e.symbol, Side: sideOf(sig), Size: fill.Size, EntryPrice: fill.Price}
	e.partialPnL, e.partialFees = 0, 0
	return true, fmt.Sprintf("filled %.4f @ %.4f", fill.Size, fill.Price)
}

func (e *Engine) appendIntent(ctx context.Context, run *tickRun, intent types.TradeIntent, allowed bool, reason string) {
	if e.c.Intents == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	rec := types.IntentRecord{TraceID: run.traceID, Symbol: e.symbol, Intent: intent, Allowed: allowed, Reason: reason}
	if err := e.c.Intents.Append(saveCtx, rec); err != nil {
		logger.Warnf("[engine] 写入意图日志失败: %v", err)
	}
}

// currentPrice 优先使用未过期的最新成交价，其次最后一根收盘价。
func currentPrice(flow orderflow.FlowMetrics, ind indicator.Snapshot, candles []market.Candle) float64 {
	if !flow.Stale && flow.LastPrice > 0 {
		return flow.LastPrice
	}
	if ind.Close > 0 {
		return ind.Close
	}
	if n := len(candles); n > 0 {
		return candles[n-1].Close
	}
	return 0
}

func directionalPnL(pos *types.Position, price, size, contractSize float64) float64 {
	if contractSize <= 0 {
		contractSize = 1
	}
	diff := price - pos.EntryPrice
	if pos.Side == types.Short {
		diff = -diff
	}
	return diff * size * contractSize
}

func trimSize(v float64) float64 {
	if v < 1e-9 {
		return 0
	}
	return v
}

func clientID() string {
	return "pf" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
