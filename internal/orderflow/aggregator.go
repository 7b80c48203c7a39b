package orderflow

import (
	"fmt"
	"sync/atomic"
	"time"

	"perpflow/internal/market"

	"github.com/shopspring/decimal"
)

const (
	DefaultCapacity = 1000
	DefaultDepth    = 20

	window1m = time.Minute
	window5m = 5 * time.Minute
)

// FlowMetrics 由最近成交与盘口推导出的流动性指标。
type FlowMetrics struct {
	Delta1m       float64   `json:"delta_1m"`
	Delta5m       float64   `json:"delta_5m"`
	CVD           float64   `json:"cvd"`
	Imbalance     float64   `json:"imbalance"`
	TakerBuyRatio float64   `json:"taker_buy_ratio"`
	OpenInterest  float64   `json:"open_interest"`
	FundingRate   float64   `json:"funding_rate"`
	TradeCount    int       `json:"trade_count"`
	LastPrice     float64   `json:"last_price"`
	LastTrade     time.Time `json:"last_trade"`
	LastUpdate    time.Time `json:"last_update"`
	Stale         bool      `json:"stale"`
}

type Option func(*Aggregator)

func WithDepth(depth int) Option {
	return func(a *Aggregator) { a.depth = depth }
}

func WithStaleAfter(d time.Duration) Option {
	return func(a *Aggregator) { a.staleAfter = d }
}

// WithPublishEvery 设置快照发布节流间隔，0 表示每个事件都发布。
func WithPublishEvery(d time.Duration) Option {
	return func(a *Aggregator) { a.publishEvery = d }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.nowFn = now }
}

// Aggregator 维护有界成交队列与最新盘口。
// 写入只能来自一个 goroutine；Snapshot 可在任意 goroutine 调用且不阻塞。
type Aggregator struct {
	capacity     int
	depth        int
	staleAfter   time.Duration
	publishEvery time.Duration
	nowFn        func() time.Time

	ring    []market.TradeEvent
	head    int
	size    int
	latest  time.Time
	price   float64
	buyVol  float64
	sellVol float64
	cvd     decimal.Decimal

	imbalance   float64
	deriv       market.DerivativesUpdate
	lastUpdate  time.Time
	lastPublish time.Time
	dirty       bool

	published atomic.Pointer[FlowMetrics]
}

func NewAggregator(capacity int, opts ...Option) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	a := &Aggregator{
		capacity:   capacity,
		depth:      DefaultDepth,
		staleAfter: 30 * time.Second,
		nowFn:      time.Now,
		ring:       make([]market.TradeEvent, capacity),
		cvd:        decimal.Zero,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.published.Store(&FlowMetrics{TakerBuyRatio: 0.5})
	return a
}

// Ingest 接收 TradeEvent、BookSnapshot 或 DerivativesUpdate。
func (a *Aggregator) Ingest(event any) error {
	switch ev := event.(type) {
	case market.TradeEvent:
		return a.IngestTrade(ev)
	case *market.TradeEvent:
		return a.IngestTrade(*ev)
	case market.BookSnapshot:
		a.IngestBook(ev)
	case *market.BookSnapshot:
		a.IngestBook(*ev)
	case market.DerivativesUpdate:
		a.IngestDerivatives(ev)
	default:
		return fmt.Errorf("orderflow: unsupported event %T", event)
	}
	return nil
}

func (a *Aggregator) IngestTrade(t market.TradeEvent) error {
	if t.Price <= 0 || t.Size <= 0 {
		return fmt.Errorf("orderflow: invalid trade id=%d price=%v size=%v", t.ID, t.Price, t.Size)
	}
	if t.Side != market.SideBuy && t.Side != market.SideSell {
		return fmt.Errorf("orderflow: invalid trade side %q", t.Side)
	}
	if a.size == a.capacity {
		a.forget(a.ring[a.head])
	} else {
		a.size++
	}
	a.ring[a.head] = t
	a.head = (a.head + 1) % a.capacity

	size := decimal.NewFromFloat(t.Size)
	if t.Side == market.SideBuy {
		a.buyVol += t.Size
		a.cvd = a.cvd.Add(size)
	} else {
		a.sellVol += t.Size
		a.cvd = a.cvd.Sub(size)
	}
	if !t.Timestamp.Before(a.latest) {
		a.latest = t.Timestamp
		a.price = t.Price
	}
	a.touch()
	return nil
}

func (a *Aggregator) forget(old market.TradeEvent) {
	if old.Side == market.SideBuy {
		a.buyVol -= old.Size
	} else {
		a.sellVol -= old.Size
	}
	if a.buyVol < 0 {
		a.buyVol = 0
	}
	if a.sellVol < 0 {
		a.sellVol = 0
	}
}

func (a *Aggregator) IngestBook(b market.BookSnapshot) {
	a.imbalance = Imbalance(b, a.depth)
	a.touch()
}

func (a *Aggregator) IngestDerivatives(d market.DerivativesUpdate) {
	a.deriv = d
	a.touch()
}

func (a *Aggregator) touch() {
	now := a.nowFn()
	a.lastUpdate = now
	a.dirty = true
	if a.publishEvery <= 0 || now.Sub(a.lastPublish) >= a.publishEvery {
		a.publish(now)
	}
}

// Flush 立即发布挂起的变更，由写入方在空闲时调用。
func (a *Aggregator) Flush() {
	if a.dirty {
		a.publish(a.nowFn())
	}
}

func (a *Aggregator) publish(now time.Time) {
	m := a.compute()
	a.published.Store(&m)
	a.lastPublish = now
	a.dirty = false
}

func (a *Aggregator) compute() FlowMetrics {
	m := FlowMetrics{
		CVD:          a.cvd.InexactFloat64(),
		Imbalance:    a.imbalance,
		OpenInterest: a.deriv.OpenInterest,
		FundingRate:  a.deriv.FundingRate,
		TradeCount:   a.size,
		LastPrice:    a.price,
		LastTrade:    a.latest,
		LastUpdate:   a.lastUpdate,
	}
	m.Delta1m, m.Delta5m = a.deltas()
	total := a.buyVol + a.sellVol
	if total > 0 {
		m.TakerBuyRatio = clamp(a.buyVol/total, 0, 1)
	} else {
		m.TakerBuyRatio = 0.5
	}
	return m
}

// deltas 以最新成交时间为基准，只统计严格落在窗口内的成交。
func (a *Aggregator) deltas() (d1, d5 float64) {
	if a.size == 0 {
		return 0, 0
	}
	cut1 := a.latest.Add(-window1m)
	cut5 := a.latest.Add(-window5m)
	start := (a.head - a.size + a.capacity) % a.capacity
	for i := 0; i < a.size; i++ {
		t := a.ring[(start+i)%a.capacity]
		signed := t.Size
		if t.Side == market.SideSell {
			signed = -signed
		}
		if t.Timestamp.After(cut5) {
			d5 += signed
			if t.Timestamp.After(cut1) {
				d1 += signed
			}
		}
	}
	return d1, d5
}

// Snapshot 返回最近一次发布的指标。流中断时仍返回旧值，通过 Stale 标记。
func (a *Aggregator) Snapshot(now time.Time) FlowMetrics {
	m := *a.published.Load()
	if a.staleAfter > 0 {
		m.Stale = m.LastUpdate.IsZero() || now.Sub(m.LastUpdate) > a.staleAfter
	}
	return m
}

// Imbalance 计算前 depth 档的买卖量差比，depth<=0 表示全部档位。
func Imbalance(b market.BookSnapshot, depth int) float64 {
	bid := sumLevels(b.Bids, depth)
	ask := sumLevels(b.Asks, depth)
	if bid+ask <= 0 {
		return 0
	}
	return clamp((bid-ask)/(bid+ask), -1, 1)
}

func sumLevels(levels []market.PriceLevel, depth int) float64 {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	var sum float64
	for _, l := range levels {
		if l.Size > 0 {
			sum += l.Size
		}
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
