package market

import (
	"context"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent 一笔成交，Side 为主动成交方向。
type TradeEvent struct {
	ID        int64
	Timestamp time.Time
	Price     float64
	Size      float64
	Side      Side
}

type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot 盘口快照，只保留最新一份。
type BookSnapshot struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// DerivativesUpdate 持仓量与资金费率的一次轮询结果。
type DerivativesUpdate struct {
	OpenInterest float64
	FundingRate  float64
	At           time.Time
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
	LastMessage     time.Time
}

// Source 行情数据来源。订阅在 ctx 取消后关闭返回的通道。
type Source interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	SubscribeTrades(ctx context.Context, symbol string, opts SubscribeOptions) (<-chan TradeEvent, error)

	SubscribeBook(ctx context.Context, symbol string, depth int, opts SubscribeOptions) (<-chan BookSnapshot, error)

	FundingRate(ctx context.Context, symbol string) (float64, error)

	OpenInterest(ctx context.Context, symbol string) (float64, error)

	Stats() SourceStats

	Close() error
}
