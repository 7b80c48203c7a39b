package engine

import (
	"context"

	"perpflow/internal/risk"
	"perpflow/internal/types"
)

// Journal 交易日志与风控状态持久化。写入失败只记日志，不影响 tick。
type Journal interface {
	RecordTrade(ctx context.Context, trade types.ClosedTrade) error
	SaveRiskState(ctx context.Context, st risk.State) error
	LoadRiskState(ctx context.Context) (risk.State, bool, error)
}

// IntentLog 只追加的意图审计日志。
type IntentLog interface {
	Append(ctx context.Context, rec types.IntentRecord) error
}
