package risk

import (
	"math"

	"perpflow/internal/types"

	"github.com/shopspring/decimal"
)

var (
	decOne     = decimal.NewFromInt(1)
	decimalEps = decimal.NewFromFloat(1e-8)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

// breakEvenPrice 开仓价外加保本缓冲，空头向下。
func breakEvenPrice(side types.PositionSide, entry, buffer float64) float64 {
	factor := decOne.Add(decFromFloat(buffer))
	if side == types.Short {
		factor = decOne.Sub(decFromFloat(buffer))
	}
	return decToFloat(decFromFloat(entry).Mul(factor))
}

// trailCandidate 多头 max(保本价, 高水位-ATR*mult)，空头 min(保本价, 低水位+ATR*mult)。
func trailCandidate(side types.PositionSide, entry, buffer, water, atr, mult float64) float64 {
	be := breakEvenPrice(side, entry, buffer)
	offset := decFromFloat(atr).Mul(decFromFloat(mult))
	if side == types.Short {
		return math.Min(be, decToFloat(decFromFloat(water).Add(offset)))
	}
	return math.Max(be, decToFloat(decFromFloat(water).Sub(offset)))
}

// tighten 止损只向保护利润的方向移动。
func tighten(side types.PositionSide, current, candidate float64) float64 {
	if current <= 0 {
		return candidate
	}
	if side == types.Short {
		return math.Min(current, candidate)
	}
	return math.Max(current, candidate)
}

func stepRatio(oldStop, newStop, entry float64) float64 {
	if oldStop <= 0 || entry <= 0 {
		return 0
	}
	return decToFloat(decFromFloat(newStop).Sub(decFromFloat(oldStop)).Abs().Div(decFromFloat(entry)))
}

func stopBreached(side types.PositionSide, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if side == types.Short {
		return decimalCompare(price, stop) >= 0
	}
	return decimalCompare(price, stop) <= 0
}

func sameEntry(a, b float64) bool {
	return decFromFloat(a).Sub(decFromFloat(b)).Abs().Cmp(decimalEps) <= 0
}
