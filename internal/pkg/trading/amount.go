// Package trading provides contract quantity helpers.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundDownToStep 按交易所步长向下取整，step<=0 时原样返回。
func RoundDownToStep(qty, step float64) float64 {
	if step <= 0 || qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return math.Max(qty, 0)
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	n := q.Div(s).Floor()
	out, _ := n.Mul(s).Float64()
	return out
}

// Contracts 保证金换算张数: margin*leverage / (price*contractSize)。
func Contracts(margin, leverage, price, contractSize float64) float64 {
	if margin <= 0 || leverage <= 0 || price <= 0 || contractSize <= 0 {
		return 0
	}
	nominal := decimal.NewFromFloat(margin).Mul(decimal.NewFromFloat(leverage))
	unit := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(contractSize))
	out, _ := nominal.Div(unit).Float64()
	return out
}

// RequiredMargin 持有 contracts 张所需保证金。
func RequiredMargin(contracts, price, contractSize, leverage float64) float64 {
	if contracts <= 0 || price <= 0 || contractSize <= 0 || leverage <= 0 {
		return 0
	}
	v := decimal.NewFromFloat(contracts).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(contractSize)).
		Div(decimal.NewFromFloat(leverage))
	out, _ := v.Float64()
	return out
}

// CalcCloseAmount 部分平仓数量：size*ratio 按步长取整，不低于 minLot，不超过持仓。
// 剩余量不足一手时直接全平。
func CalcCloseAmount(size, ratio, minLot, step float64) float64 {
	if size <= 0 || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return size
	}
	amount := RoundDownToStep(size*ratio, step)
	if amount < minLot {
		amount = minLot
	}
	if amount >= size || (minLot > 0 && size-amount < minLot) {
		return size
	}
	return amount
}
