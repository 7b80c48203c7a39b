package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"perpflow/internal/gateway/exchange"
	"perpflow/internal/logger"
	"perpflow/internal/pkg/convert"
	symbolpkg "perpflow/internal/pkg/symbol"
	"perpflow/internal/types"

	"github.com/adshao/go-binance/v2/futures"
)

// Futures 用 U 本位合约账户实现 exchange.Exchange，只做单向持仓的市价单。
type Futures struct {
	src *Source
}

func NewFutures(src *Source) (*Futures, error) {
	if src == nil || src.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	if src.cfg.APIKey == "" || src.cfg.APISecret == "" {
		return nil, fmt.Errorf("binance live trading requires api_key and api_secret")
	}
	return &Futures{src: src}, nil
}

func (f *Futures) Name() string { return "binance" }

func (f *Futures) Account(ctx context.Context) (types.AccountSnapshot, error) {
	acct, err := f.src.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("get account: %w", err)
	}
	return types.AccountSnapshot{
		Total:     convert.ToFloat64(acct.TotalMarginBalance),
		Available: convert.ToFloat64(acct.AvailableBalance),
		Used:      convert.ToFloat64(acct.TotalInitialMargin),
		Currency:  "USDT",
		UpdatedAt: f.src.nowFn(),
	}, nil
}

func (f *Futures) Position(ctx context.Context, sym string) (*types.Position, error) {
	clean := symbolpkg.ToBinance(sym)
	if clean == "" {
		return nil, fmt.Errorf("invalid symbol: %s", sym)
	}
	risks, err := f.src.client.NewGetPositionRiskService().Symbol(clean).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get position risk: %w", err)
	}
	for _, r := range risks {
		if r == nil || !strings.EqualFold(r.Symbol, clean) {
			continue
		}
		if pos := positionFromRisk(r, f.src.nowFn()); pos != nil {
			pos.Symbol = sym
			return pos, nil
		}
	}
	return nil, nil
}

func (f *Futures) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Fill, error) {
	if err := req.Validate(); err != nil {
		return exchange.Fill{}, err
	}
	clean := symbolpkg.ToBinance(req.Symbol)
	side := futures.SideTypeBuy
	if req.Side == exchange.SideSell {
		side = futures.SideTypeSell
	}
	svc := f.src.client.NewCreateOrderService().
		Symbol(clean).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(req.Size, 'f', -1, 64)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.Fill{}, fmt.Errorf("create order: %w", err)
	}
	fill := exchange.Fill{
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       convert.ToFloat64(resp.ExecutedQuantity),
		Price:      convert.ToFloat64(resp.AvgPrice),
		ReduceOnly: req.ReduceOnly,
		At:         f.src.nowFn(),
	}
	if fill.Size <= 0 {
		fill.Size = req.Size
	}
	if fill.Price <= 0 {
		fill.Price = req.ExpectedPrice
	}
	logger.Infof("[binance] 下单 %s %s %.4f reduceOnly=%t avg=%.4f id=%s", clean, req.Side, fill.Size, req.ReduceOnly, fill.Price, fill.OrderID)
	return fill, nil
}

// positionFromRisk 单向持仓模式下 positionAmt 的符号表示方向。
func positionFromRisk(r *futures.PositionRisk, now time.Time) *types.Position {
	amt := convert.ToFloat64(r.PositionAmt)
	if amt == 0 {
		return nil
	}
	side := types.Long
	if amt < 0 {
		side = types.Short
	}
	return &types.Position{
		Symbol:        r.Symbol,
		Side:          side,
		Size:          math.Abs(amt),
		EntryPrice:    convert.ToFloat64(r.EntryPrice),
		MarkPrice:     convert.ToFloat64(r.MarkPrice),
		UnrealizedPnL: convert.ToFloat64(r.UnRealizedProfit),
		Leverage:      convert.ToFloat64(r.Leverage),
		UpdatedAt:     now,
	}
}
