package indicator

import "math"

type Direction string

const (
	DirectionBull    Direction = "bull"
	DirectionBear    Direction = "bear"
	DirectionRanging Direction = "ranging"
)

type Overall string

const (
	OverallStrongUp   Overall = "strong_up"
	OverallStrongDown Overall = "strong_down"
	OverallRanging    Overall = "ranging"
)

type Strength string

const (
	StrengthStrong Strength = "strong"
	StrengthMedium Strength = "medium"
	StrengthWeak   Strength = "weak"
)

// Trend 价格相对 EMA12/EMA36 的结构判断。
type Trend struct {
	Direction        Direction `json:"direction"`
	Overall          Overall   `json:"overall"`
	Strength         Strength  `json:"strength"`
	Clear            bool      `json:"clear"`
	Stability        float64   `json:"stability"`
	Consistency      int       `json:"consistency"`
	PriceVsEMA12Pct  float64   `json:"price_vs_ema12_pct"`
	PriceVsEMA36Pct  float64   `json:"price_vs_ema36_pct"`
	BullishAlignment bool      `json:"bullish_alignment"`
	BearishAlignment bool      `json:"bearish_alignment"`
	MACDBullish      bool      `json:"macd_bullish"`
}

// Bullish/Bearish 便于按方向取值。
func (t Trend) Bullish() bool { return t.Direction == DirectionBull }
func (t Trend) Bearish() bool { return t.Direction == DirectionBear }

const (
	stabilityLookback   = 3
	strongDistancePct   = 2.0
	strongStability     = 70.0
	clearDistancePct    = 1.0
	clearStabilityFloor = 60.0
)

// AnalyzeTrend 序列需按时间对齐，最后一个元素为当前 K 线。
func AnalyzeTrend(closes, ema12, ema36 []float64, macdBullish bool) Trend {
	n := len(closes)
	t := Trend{Direction: DirectionRanging, Overall: OverallRanging, Strength: StrengthWeak, MACDBullish: macdBullish}
	if n == 0 {
		return t
	}
	price := closes[n-1]
	e12, ok12 := at(ema12, n-1)
	e36, ok36 := at(ema36, n-1)
	if !ok12 || !ok36 || price <= 0 {
		return t
	}
	above12 := price > e12
	above36 := price > e36
	t.PriceVsEMA12Pct = (price - e12) / e12 * 100
	t.PriceVsEMA36Pct = (price - e36) / e36 * 100
	t.BullishAlignment = e12 > e36
	t.BearishAlignment = e12 < e36

	for i := 1; i <= stabilityLookback; i++ {
		idx := n - 1 - i
		prevEMA, ok := at(ema12, idx)
		if !ok {
			continue
		}
		if (closes[idx] > prevEMA) == above12 {
			t.Consistency++
		}
	}
	t.Stability = float64(t.Consistency) / stabilityLookback * 100

	switch {
	case above12 && above36:
		t.Direction = DirectionBull
		t.Overall = OverallStrongUp
		t.Strength = StrengthMedium
		if t.PriceVsEMA12Pct > strongDistancePct && t.PriceVsEMA36Pct > strongDistancePct && t.Stability > strongStability {
			t.Strength = StrengthStrong
		}
	case !above12 && !above36:
		t.Direction = DirectionBear
		t.Overall = OverallStrongDown
		t.Strength = StrengthMedium
		if t.PriceVsEMA12Pct < -strongDistancePct && t.PriceVsEMA36Pct < -strongDistancePct && t.Stability > strongStability {
			t.Strength = StrengthStrong
		}
	}
	t.Clear = (t.BullishAlignment || t.BearishAlignment) &&
		math.Abs(t.PriceVsEMA12Pct) > clearDistancePct &&
		t.Stability > clearStabilityFloor
	return t
}
