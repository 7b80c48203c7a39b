package orderflow

import (
	"context"
	"fmt"
	"time"

	"perpflow/internal/logger"
	"perpflow/internal/market"
)

// Feed 是聚合器唯一的写入方：合并成交、盘口与衍生品三路输入。
type Feed struct {
	Agg        *Aggregator
	Source     market.Source
	Poller     *market.DerivativesPoller
	Symbol     string
	Depth      int
	FlushEvery time.Duration
	OnReject   func(error)
}

// Run 阻塞直到 ctx 取消。行情流关闭或内部 panic 时返回错误。
func (f *Feed) Run(ctx context.Context) (err error) {
	if f.Agg == nil || f.Source == nil {
		return fmt.Errorf("orderflow feed: aggregator and source are required")
	}
	opts := market.SubscribeOptions{
		Buffer:       512,
		OnConnect:    func() { logger.Infof("[orderflow] %s 行情流已连接", f.Symbol) },
		OnDisconnect: func(err error) { logger.Warnf("[orderflow] %s 行情流断开: %v", f.Symbol, err) },
	}
	trades, err := f.Source.SubscribeTrades(ctx, f.Symbol, opts)
	if err != nil {
		return fmt.Errorf("subscribe trades: %w", err)
	}
	books, err := f.Source.SubscribeBook(ctx, f.Symbol, f.Depth, opts)
	if err != nil {
		logger.Warnf("[orderflow] 盘口订阅失败，imbalance 将保持 0: %v", err)
		books = nil
	}
	var deriv <-chan market.DerivativesUpdate
	if f.Poller != nil {
		deriv = f.Poller.Start(ctx)
	}
	flushEvery := f.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 250 * time.Millisecond
	}
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[orderflow] feed panic: %v", r)
			err = fmt.Errorf("orderflow feed panic: %v", r)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			f.Agg.Flush()
			logger.Infof("[orderflow] feed 退出")
			return nil
		case t, ok := <-trades:
			if !ok {
				trades = nil
				if ctx.Err() == nil {
					return fmt.Errorf("trade stream closed")
				}
				continue
			}
			if err := f.Agg.IngestTrade(t); err != nil && f.OnReject != nil {
				f.OnReject(err)
			}
		case b, ok := <-books:
			if !ok {
				books = nil
				continue
			}
			f.Agg.IngestBook(b)
		case d, ok := <-deriv:
			if !ok {
				deriv = nil
				continue
			}
			f.Agg.IngestDerivatives(d)
		case <-ticker.C:
			f.Agg.Flush()
		}
	}
}
