package middlewares

import (
	"context"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/pipeline"
)

// IndicatorStage 在 K 线收集完成后的 stage 计算指标。
type IndicatorStage struct {
	meta     pipeline.MiddlewareMeta
	settings indicator.Settings
}

func NewIndicatorStage(stage int, settings indicator.Settings) *IndicatorStage {
	return &IndicatorStage{meta: pipeline.MiddlewareMeta{Name: "indicators", Stage: stage}, settings: settings}
}

func (i *IndicatorStage) Meta() pipeline.MiddlewareMeta { return i.meta }

// Handle 数据不足时仍写入中性快照，并以 warning 形式返回原因。
func (i *IndicatorStage) Handle(_ context.Context, tc *pipeline.TickContext) error {
	candles, _ := tc.Candles()
	snap, err := indicator.Compute(candles, i.settings)
	tc.SetIndicators(snap)
	return err
}
