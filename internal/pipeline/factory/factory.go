package factory

import (
	"time"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/config"
	"perpflow/internal/gateway/exchange"
	"perpflow/internal/market"
	"perpflow/internal/pipeline"
	"perpflow/internal/pipeline/middlewares"
)

const (
	stageGather = iota
	stageDerive
)

// Deps tick 数据收集需要的外部依赖。
type Deps struct {
	Source   market.Source
	Buffer   *market.BarBuffer
	Exchange exchange.Exchange
	Flow     middlewares.FlowSnapshotter
}

// BuildGather 构造 tick 的收集流水线：K 线、账户、订单流并行，随后计算指标。
func BuildGather(cfg config.Config, deps Deps) *pipeline.Pipeline {
	timeout := time.Duration(cfg.Market.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return pipeline.New("gather",
		middlewares.NewCandleFetcher(middlewares.CandleFetcherConfig{
			Stage:    stageGather,
			Timeout:  timeout,
			Interval: cfg.Trading.Timeframe,
			Limit:    cfg.Trading.DataPoints,
		}, deps.Source, deps.Buffer),
		middlewares.NewAccountReader(stageGather, timeout, deps.Exchange),
		middlewares.NewFlowReader(stageGather, deps.Flow),
		middlewares.NewIndicatorStage(stageDerive, indicator.Settings{ZoneBodyATR: cfg.Scoring.ZoneBodyATR}),
	)
}
