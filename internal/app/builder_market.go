package app

import (
	"context"
	"fmt"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/gateway/binance"
	"perpflow/internal/logger"
	"perpflow/internal/market"
	"perpflow/internal/metrics"
	"perpflow/internal/orderflow"
	"perpflow/internal/scheduler"
)

// MarketStack 行情相关的长期对象：数据源、K 线缓冲、订单流聚合器及其写入协程。
type MarketStack struct {
	Source        market.Source
	Buffer        *market.BarBuffer
	Aggregator    *orderflow.Aggregator
	Feed          *orderflow.Feed
	WarmupSummary string
}

// LastPrice 优先取最近成交价，其次取缓冲区最后一根收盘价。
func (m *MarketStack) LastPrice() float64 {
	if m == nil {
		return 0
	}
	if m.Aggregator != nil {
		if flow := m.Aggregator.Snapshot(time.Now()); flow.LastPrice > 0 {
			return flow.LastPrice
		}
	}
	if m.Buffer != nil {
		if last, ok := m.Buffer.Last(); ok {
			return last.Close
		}
	}
	return 0
}

func buildMarketStack(ctx context.Context, cfg *config.Config) (*MarketStack, error) {
	src, err := newSource(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = src.Close()
		}
	}()
	stack := assembleMarketStack(cfg, src)
	stack.WarmupSummary = warmup(ctx, cfg.Trading, src, stack.Buffer)
	success = true
	return stack, nil
}

func newSource(cfg config.MarketConfig) (market.Source, error) {
	switch cfg.Source {
	case "", "binance":
		return binance.New(binance.FromMarketConfig(cfg))
	default:
		return nil, fmt.Errorf("unsupported market source %q", cfg.Source)
	}
}

// assembleMarketStack 只组装对象，不发起网络请求。
func assembleMarketStack(cfg *config.Config, src market.Source) *MarketStack {
	flowCfg := cfg.OrderFlow
	agg := orderflow.NewAggregator(flowCfg.Capacity,
		orderflow.WithDepth(flowCfg.Depth),
		orderflow.WithStaleAfter(time.Duration(flowCfg.StaleAfterSeconds)*time.Second),
	)
	poller := market.NewDerivativesPoller(src, cfg.Trading.Symbol, time.Duration(flowCfg.DerivativesPollSeconds)*time.Second)
	symbol := cfg.Trading.Symbol
	feed := &orderflow.Feed{
		Agg:    agg,
		Source: src,
		Poller: poller,
		Symbol: symbol,
		Depth:  flowCfg.Depth,
		OnReject: func(err error) {
			logger.Debugf("[orderflow] %s 丢弃成交: %v", symbol, err)
		},
	}
	return &MarketStack{
		Source:     src,
		Buffer:     market.NewBarBuffer(cfg.Trading.DataPoints),
		Aggregator: agg,
		Feed:       feed,
	}
}

// warmup 预先拉取一轮历史 K 线，失败不阻止启动，首个 tick 会再次尝试。
func warmup(ctx context.Context, cfg config.TradingConfig, src market.Source, buf *market.BarBuffer) string {
	interval, ok := scheduler.ParseIntervalDuration(cfg.Timeframe)
	if !ok {
		return fmt.Sprintf("warmup skipped: invalid timeframe %s", cfg.Timeframe)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	candles, err := src.FetchCandles(fetchCtx, cfg.Symbol, cfg.Timeframe, cfg.DataPoints)
	if err != nil {
		logger.Warnf("[warmup] %s %s 历史 K 线获取失败: %v", cfg.Symbol, cfg.Timeframe, err)
		return fmt.Sprintf("warmup failed: %v", err)
	}
	closed := scheduler.DropUnclosedKline(candles, interval, time.Now())
	added := buf.Merge(closed)
	logger.Infof("✓ Warmup 完成 %s %s bars=%d", cfg.Symbol, cfg.Timeframe, added)
	return fmt.Sprintf("%s %s bars=%d/%d", cfg.Symbol, cfg.Timeframe, added, cfg.DataPoints)
}

// watchStreamStats 把数据源的累计重连次数同步到 prometheus。
func watchStreamStats(ctx context.Context, src market.Source, every time.Duration) {
	var tracker metrics.ReconnectTracker
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := src.Stats()
			tracker.Observe(st.Reconnects)
			if st.LastError != "" {
				logger.Debugf("[market] stats reconnects=%d subscribe_errors=%d last_error=%s",
					st.Reconnects, st.SubscribeErrors, st.LastError)
			}
		}
	}
}
