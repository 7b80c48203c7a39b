package middlewares

import (
	"context"
	"time"

	"perpflow/internal/orderflow"
	"perpflow/internal/pipeline"
)

// FlowSnapshotter 由聚合器实现，读取不阻塞。
type FlowSnapshotter interface {
	Snapshot(now time.Time) orderflow.FlowMetrics
}

type FlowReader struct {
	meta pipeline.MiddlewareMeta
	agg  FlowSnapshotter
}

func NewFlowReader(stage int, agg FlowSnapshotter) *FlowReader {
	return &FlowReader{meta: pipeline.MiddlewareMeta{Name: "flow_reader", Stage: stage}, agg: agg}
}

func (f *FlowReader) Meta() pipeline.MiddlewareMeta { return f.meta }

// Handle 聚合器缺失时写入一份标记为 stale 的空快照。
func (f *FlowReader) Handle(_ context.Context, tc *pipeline.TickContext) error {
	if f.agg == nil {
		tc.SetFlow(orderflow.FlowMetrics{Stale: true, TakerBuyRatio: 0.5})
		return nil
	}
	tc.SetFlow(f.agg.Snapshot(tc.StartedAt))
	return nil
}
