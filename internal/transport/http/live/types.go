package livehttp

import (
	"context"

	"perpflow/internal/engine"
	"perpflow/internal/store/intentlog"
	"perpflow/internal/types"
)

// EngineControl 引擎对 HTTP 暴露的只读状态与管理命令。
type EngineControl interface {
	State() *engine.StateSnapshot
	PendingDelayed() []engine.DelayedSignal
	RequestBreakerReset() bool
	RequestEmergencyStop(on bool) bool
}

type TradeLister interface {
	ListTrades(ctx context.Context, symbol string, limit int) ([]types.ClosedTrade, error)
}

type IntentLister interface {
	List(ctx context.Context, q intentlog.Query) ([]intentlog.Entry, error)
}

type emergencyRequest struct {
	On *bool `json:"on" binding:"required"`
}
