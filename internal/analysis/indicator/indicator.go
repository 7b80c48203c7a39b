package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"perpflow/internal/market"
)

const (
	emaFastPeriod = 12
	emaSlowPeriod = 36
	rsiPeriod     = 14
	atrPeriod     = 14
	bbPeriod      = 20

	// MinBars 是 MACD(12,26,9) 与 EMA36 都有效所需的最少 K 线数。
	MinBars = 40
)

// Settings 指标计算参数，零值使用默认。
type Settings struct {
	ZoneBodyATR float64
	MaxZones    int
}

// Snapshot 最新一根 K 线上的指标值。Ready=false 时所有数值为中性。
type Snapshot struct {
	Ready      bool    `json:"ready"`
	Bars       int     `json:"bars"`
	OpenTime   int64   `json:"open_time"`
	Close      float64 `json:"close"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	EMA12      float64 `json:"ema12"`
	EMA36      float64 `json:"ema36"`
	ATR        float64 `json:"atr"`
	ATRPct     float64 `json:"atr_pct"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
	Trend      Trend   `json:"trend"`
	Zones      []Zone  `json:"zones,omitempty"`
}

// Neutral 数据不足时的占位值。
func Neutral(bars int, last market.Candle) Snapshot {
	return Snapshot{
		Bars:     bars,
		OpenTime: last.OpenTime,
		Close:    last.Close,
		High:     last.High,
		Low:      last.Low,
		RSI:      50,
		Trend:    Trend{Direction: DirectionRanging, Overall: OverallRanging, Strength: StrengthWeak},
	}
}

// Compute 计算指标集、趋势结构与供需区。数据不足返回 Ready=false 的中性快照和错误。
func Compute(candles []market.Candle, cfg Settings) (Snapshot, error) {
	n := len(candles)
	if n == 0 {
		return Neutral(0, market.Candle{}), fmt.Errorf("no candles")
	}
	last := candles[n-1]
	if n < MinBars {
		return Neutral(n, last), fmt.Errorf("insufficient history: %d < %d", n, MinBars)
	}
	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)

	ema12 := talib.Ema(closes, emaFastPeriod)
	ema36 := talib.Ema(closes, emaSlowPeriod)
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)
	atr := talib.Atr(highs, lows, closes, atrPeriod)
	upper, middle, lower := talib.BBands(closes, bbPeriod, 2, 2, talib.SMA)

	snap := Snapshot{
		Ready:      true,
		Bars:       n,
		OpenTime:   last.OpenTime,
		Close:      last.Close,
		High:       last.High,
		Low:        last.Low,
		RSI:        lastValid(talib.Rsi(closes, rsiPeriod), 50),
		MACD:       lastValid(macd, 0),
		MACDSignal: lastValid(signal, 0),
		MACDHist:   lastValid(hist, 0),
		EMA12:      lastValid(ema12, last.Close),
		EMA36:      lastValid(ema36, last.Close),
		ATR:        lastValid(atr, 0),
		BBUpper:    lastValid(upper, 0),
		BBMiddle:   lastValid(middle, 0),
		BBLower:    lastValid(lower, 0),
	}
	if snap.Close > 0 {
		snap.ATRPct = snap.ATR / snap.Close
	}
	snap.Trend = AnalyzeTrend(closes, ema12, ema36, snap.MACD > snap.MACDSignal)

	body := cfg.ZoneBodyATR
	if body <= 0 {
		body = 1.5
	}
	snap.Zones = FindZones(candles, atr, body, cfg.MaxZones)
	return snap, nil
}

// ATRSeries 单独计算 ATR 序列，供追踪止损在指标未就绪时使用。
func ATRSeries(candles []market.Candle, period int) []float64 {
	if len(candles) == 0 {
		return nil
	}
	if period <= 0 {
		period = atrPeriod
	}
	return talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), period)
}

// LatestATR 返回序列最后一个有效值，没有则 0。
func LatestATR(candles []market.Candle, period int) float64 {
	if len(candles) <= period {
		return 0
	}
	return lastValid(ATRSeries(candles, period), 0)
}

func lastValid(series []float64, fallback float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if valid(v) {
			return v
		}
	}
	return fallback
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) > 1e-12
}

func at(series []float64, i int) (float64, bool) {
	if i < 0 || i >= len(series) || !valid(series[i]) {
		return 0, false
	}
	return series[i], true
}
