package middlewares

import (
	"context"
	"fmt"
	"strings"
	"time"

	"perpflow/internal/market"
	"perpflow/internal/pipeline"
)

// CandleFetcherConfig 控制 k 线抓取。
type CandleFetcherConfig struct {
	Name     string
	Stage    int
	Critical bool
	Timeout  time.Duration
	Interval string
	Limit    int
}

// CandleFetcher 拉取 REST K 线并合并进缓冲区；失败时沿用缓冲区内容。
type CandleFetcher struct {
	meta     pipeline.MiddlewareMeta
	source   market.Source
	buffer   *market.BarBuffer
	interval string
	limit    int
}

func NewCandleFetcher(cfg CandleFetcherConfig, source market.Source, buffer *market.BarBuffer) *CandleFetcher {
	if cfg.Limit <= 0 {
		cfg.Limit = 96
	}
	return &CandleFetcher{
		meta: pipeline.MiddlewareMeta{
			Name:     nameOrDefault(cfg.Name, "kline_fetcher"),
			Stage:    cfg.Stage,
			Critical: cfg.Critical,
			Timeout:  cfg.Timeout,
		},
		source:   source,
		buffer:   buffer,
		interval: strings.ToLower(strings.TrimSpace(cfg.Interval)),
		limit:    cfg.Limit,
	}
}

func (c *CandleFetcher) Meta() pipeline.MiddlewareMeta { return c.meta }

func (c *CandleFetcher) Handle(ctx context.Context, tc *pipeline.TickContext) error {
	if c.buffer == nil {
		return fmt.Errorf("bar buffer unavailable")
	}
	if c.source == nil {
		tc.SetCandles(c.buffer.Bars(), false)
		return fmt.Errorf("market source unavailable")
	}
	candles, err := c.source.FetchCandles(ctx, tc.Symbol, c.interval, c.limit)
	if err != nil {
		tc.SetCandles(c.buffer.Bars(), false)
		return fmt.Errorf("fetch %s %s: %w", tc.Symbol, c.interval, err)
	}
	c.buffer.Merge(candles)
	tc.SetCandles(c.buffer.Bars(), true)
	return nil
}

func nameOrDefault(val, fallback string) string {
	if val = strings.TrimSpace(val); val != "" {
		return val
	}
	return fallback
}
