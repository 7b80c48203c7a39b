package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"perpflow/internal/logger"
	"perpflow/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceFunc returns the latest traded price, 0 when unknown.
type PriceFunc func() float64

// PaperExchange simulates a single-symbol futures account: market fills at the
// current price, taker fees on both legs and realized PnL on reduction.
type PaperExchange struct {
	mu           sync.Mutex
	currency     string
	balance      float64
	leverage     float64
	feeRate      float64
	contractSize float64
	price        PriceFunc
	nowFn        func() time.Time
	position     *types.Position
}

func NewPaperExchange(balance, leverage, feeRate, contractSize float64, price PriceFunc) *PaperExchange {
	if leverage <= 0 {
		leverage = 1
	}
	if contractSize <= 0 {
		contractSize = 1
	}
	return &PaperExchange{
		currency:     "USDT",
		balance:      balance,
		leverage:     leverage,
		feeRate:      feeRate,
		contractSize: contractSize,
		price:        price,
		nowFn:        time.Now,
	}
}

func (p *PaperExchange) Name() string { return "paper" }

func (p *PaperExchange) WithClock(fn func() time.Time) *PaperExchange {
	if fn != nil {
		p.nowFn = fn
	}
	return p
}

func (p *PaperExchange) Account(_ context.Context) (types.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	upnl, used := p.markLocked()
	return types.AccountSnapshot{
		Total:     p.balance + upnl,
		Available: math.Max(p.balance+math.Min(upnl, 0)-used, 0),
		Used:      used,
		Currency:  p.currency,
		UpdatedAt: p.nowFn(),
	}, nil
}

func (p *PaperExchange) Position(_ context.Context, symbol string) (*types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.position == nil || (symbol != "" && p.position.Symbol != symbol) {
		return nil, nil
	}
	p.markLocked()
	cp := *p.position
	return &cp, nil
}

func (p *PaperExchange) PlaceOrder(_ context.Context, req OrderRequest) (Fill, error) {
	if err := req.Validate(); err != nil {
		return Fill{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price := p.currentPrice(req.ExpectedPrice)
	if price <= 0 {
		return Fill{}, fmt.Errorf("paper: no price for %s", req.Symbol)
	}
	fill := Fill{
		OrderID:    uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		Price:      price,
		ReduceOnly: req.ReduceOnly,
		At:         p.nowFn(),
	}
	remaining := req.Size
	if p.position != nil && CloseSide(p.position.Side) == req.Side {
		closed := math.Min(remaining, p.position.Size)
		pnl := p.pnl(p.position, price, closed)
		fee := p.fee(price, closed)
		p.balance += pnl - fee
		fill.RealizedPnL += pnl
		fill.Fee += fee
		p.position.Size = subtract(p.position.Size, closed)
		remaining = subtract(remaining, closed)
		if p.position.Size <= 0 {
			p.position = nil
		}
		logger.Infof("[paper] 平仓 %.4f @ %.4f pnl=%.4f fee=%.4f 余额=%.4f", closed, price, pnl, fee, p.balance)
	}
	if remaining <= 0 {
		return fill, nil
	}
	if req.ReduceOnly {
		if reduced := subtract(req.Size, remaining); reduced > 0 {
			fill.Size = reduced
			return fill, nil
		}
		return Fill{}, ErrReduceOnlyRejected
	}
	if err := p.open(req, price, remaining, &fill); err != nil {
		return Fill{}, err
	}
	return fill, nil
}

func (p *PaperExchange) open(req OrderRequest, price, size float64, fill *Fill) error {
	margin := size * price * p.contractSize / p.leverage
	fee := p.fee(price, size)
	upnl, used := p.markLocked()
	available := p.balance + math.Min(upnl, 0) - used
	if margin+fee > available {
		return fmt.Errorf("%w: need %.4f have %.4f", ErrInsufficientMargin, margin+fee, available)
	}
	p.balance -= fee
	fill.Fee += fee
	side := types.Long
	if req.Side == SideSell {
		side = types.Short
	}
	if p.position == nil {
		p.position = &types.Position{Symbol: req.Symbol, Side: side, Size: size, EntryPrice: price, Leverage: p.leverage}
	} else {
		// 同向加仓，按数量加权开仓价
		total := p.position.Size + size
		p.position.EntryPrice = (p.position.EntryPrice*p.position.Size + price*size) / total
		p.position.Size = total
	}
	p.position.MarkPrice = price
	p.position.UpdatedAt = p.nowFn()
	logger.Infof("[paper] 开仓 %s %.4f @ %.4f fee=%.4f", side, size, price, fee)
	return nil
}

func (p *PaperExchange) currentPrice(fallback float64) float64 {
	if p.price != nil {
		if px := p.price(); px > 0 {
			return px
		}
	}
	return fallback
}

// markLocked refreshes the mark price and returns unrealized PnL and used margin.
func (p *PaperExchange) markLocked() (upnl, used float64) {
	if p.position == nil {
		return 0, 0
	}
	if px := p.currentPrice(0); px > 0 {
		p.position.MarkPrice = px
	}
	mark := p.position.MarkPrice
	if mark <= 0 {
		mark = p.position.EntryPrice
	}
	p.position.UnrealizedPnL = p.pnl(p.position, mark, p.position.Size)
	used = p.position.Size * p.position.EntryPrice * p.contractSize / p.leverage
	return p.position.UnrealizedPnL, used
}

func (p *PaperExchange) pnl(pos *types.Position, price, size float64) float64 {
	diff := price - pos.EntryPrice
	if pos.Side == types.Short {
		diff = -diff
	}
	return diff * size * p.contractSize
}

func (p *PaperExchange) fee(price, size float64) float64 {
	return price * size * p.contractSize * p.feeRate
}

func subtract(a, b float64) float64 {
	out, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return out
}
