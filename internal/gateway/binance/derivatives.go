package binance

import (
	"context"
	"fmt"
	"strings"

	"perpflow/internal/pkg/convert"
	"perpflow/internal/pkg/symbol"
)

// FundingRate 最新资金费率（0.0001 即 0.01%）。
func (s *Source) FundingRate(ctx context.Context, sym string) (float64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("binance source not initialized")
	}
	binanceSymbol := symbol.ToBinance(sym)
	if binanceSymbol == "" {
		return 0, fmt.Errorf("invalid symbol: %s", sym)
	}
	res, err := s.client.NewPremiumIndexService().Symbol(binanceSymbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, binanceSymbol) {
			return convert.ToFloat64(entry.LastFundingRate), nil
		}
	}
	return 0, fmt.Errorf("funding rate not available for %s", sym)
}

// OpenInterest 当前持仓量（合约张数）。
func (s *Source) OpenInterest(ctx context.Context, sym string) (float64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("binance source not initialized")
	}
	binanceSymbol := symbol.ToBinance(sym)
	if binanceSymbol == "" {
		return 0, fmt.Errorf("invalid symbol: %s", sym)
	}
	res, err := s.client.NewGetOpenInterestService().Symbol(binanceSymbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, fmt.Errorf("open interest not available for %s", sym)
	}
	return convert.ToFloat64(res.OpenInterest), nil
}
