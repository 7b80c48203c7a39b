package pipeline

import (
	"strings"
	"sync"
	"time"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/market"
	"perpflow/internal/orderflow"
	"perpflow/internal/types"
)

// TickContext 一次 tick 的数据收集结果，各步骤并发写入。
type TickContext struct {
	Symbol    string
	TraceID   string
	StartedAt time.Time

	mu            sync.RWMutex
	candles       []market.Candle
	candlesFresh  bool
	account       types.AccountSnapshot
	accountOK     bool
	position      *types.Position
	positionKnown bool
	flow          orderflow.FlowMetrics
	indicators    indicator.Snapshot
	warnings      []string
}

func NewContext(symbol, traceID string, now time.Time) *TickContext {
	return &TickContext{
		Symbol:    strings.TrimSpace(symbol),
		TraceID:   traceID,
		StartedAt: now,
	}
}

// SetCandles fresh=false 表示拉取失败后沿用缓冲区。
func (tc *TickContext) SetCandles(candles []market.Candle, fresh bool) {
	dst := make([]market.Candle, len(candles))
	copy(dst, candles)
	tc.mu.Lock()
	tc.candles = dst
	tc.candlesFresh = fresh
	tc.mu.Unlock()
}

func (tc *TickContext) Candles() ([]market.Candle, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.candles, tc.candlesFresh
}

func (tc *TickContext) SetAccount(acct types.AccountSnapshot) {
	tc.mu.Lock()
	tc.account = acct
	tc.accountOK = true
	tc.mu.Unlock()
}

// Account ok=false 时本 tick 不允许开仓。
func (tc *TickContext) Account() (types.AccountSnapshot, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.account, tc.accountOK
}

func (tc *TickContext) SetPosition(pos *types.Position) {
	tc.mu.Lock()
	if pos != nil {
		cp := *pos
		pos = &cp
	}
	tc.position = pos
	tc.positionKnown = true
	tc.mu.Unlock()
}

// Position known=false 表示本 tick 未能读取持仓。
func (tc *TickContext) Position() (*types.Position, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.position, tc.positionKnown
}

func (tc *TickContext) SetFlow(m orderflow.FlowMetrics) {
	tc.mu.Lock()
	tc.flow = m
	tc.mu.Unlock()
}

func (tc *TickContext) Flow() orderflow.FlowMetrics {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.flow
}

func (tc *TickContext) SetIndicators(s indicator.Snapshot) {
	tc.mu.Lock()
	tc.indicators = s
	tc.mu.Unlock()
}

func (tc *TickContext) Indicators() indicator.Snapshot {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.indicators
}

func (tc *TickContext) AddWarning(msg string) {
	if msg = strings.TrimSpace(msg); msg == "" {
		return
	}
	tc.mu.Lock()
	tc.warnings = append(tc.warnings, msg)
	tc.mu.Unlock()
}

func (tc *TickContext) Warnings() []string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return append([]string(nil), tc.warnings...)
}
