package signal

import (
	"fmt"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/config"
	"perpflow/internal/regime"
)

// Scorer 六因子加权评分。
type Scorer struct {
	cfg    config.ScoringConfig
	adjust AdjustmentSource
}

func NewScorer(cfg config.ScoringConfig, adjust AdjustmentSource) *Scorer {
	if cfg.Weights.Sum() <= 0 {
		cfg.Weights = config.DefaultWeights()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 60
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = 80
	}
	if cfg.RSIOverbought <= 0 || cfg.RSIOversold <= 0 {
		cfg.RSIOverbought, cfg.RSIOversold = 70, 30
	}
	return &Scorer{cfg: cfg, adjust: adjust}
}

func (s *Scorer) adjustment(label regime.Label) Adjustment {
	if s.adjust != nil {
		if adj, ok := s.adjust.Adjustment(label); ok {
			return adj
		}
	}
	return DefaultAdjustment(label, s.cfg.RSIOverbought, s.cfg.RSIOversold)
}

type side struct {
	name  string
	score float64
	lines []string
}

func (sd *side) earn(factor string, weight, fraction float64, why string) {
	if fraction <= 0 || weight <= 0 {
		return
	}
	pts := weight * fraction
	sd.score += pts
	sd.lines = append(sd.lines, fmt.Sprintf("%s %s +%.1f (%s)", sd.name, factor, pts, why))
}

// Score 计算多空两侧得分并给出信号。
func (s *Scorer) Score(in Input) Result {
	res := Result{Signal: Hold, Confidence: Low, Regime: in.Regime.Label}
	if in.Regime.Label == regime.Chaotic {
		res.Rationale = []string{"regime CHAOTIC: hold unconditionally"}
		return res
	}
	ind := in.Indicators
	if !ind.Ready {
		res.Rationale = []string{fmt.Sprintf("indicators not ready (%d bars): hold", ind.Bars)}
		return res
	}

	adj := s.adjustment(in.Regime.Label)
	w := s.cfg.Weights
	wTrend, wZone := w.Trend*adj.Trend, w.Zone*adj.Zone
	wDelta, wImb := w.Delta*adj.Delta, w.Imbalance*adj.Imbalance
	wMACD, wRSI := w.MACD*adj.MACD, w.RSI*adj.RSI
	total := wTrend + wZone + wDelta + wImb + wMACD + wRSI
	if total <= 0 {
		res.Rationale = []string{"all factor weights are zero: hold"}
		return res
	}

	long := &side{name: "long"}
	short := &side{name: "short"}
	var notes []string

	tr := ind.Trend
	switch tr.Direction {
	case indicator.DirectionBull:
		long.earn("trend", wTrend, 0.7, "price above EMA12/EMA36")
		if tr.Clear || tr.Strength == indicator.StrengthStrong {
			long.earn("trend", wTrend, 0.3, "clear or strong trend")
		}
	case indicator.DirectionBear:
		short.earn("trend", wTrend, 0.7, "price below EMA12/EMA36")
		if tr.Clear || tr.Strength == indicator.StrengthStrong {
			short.earn("trend", wTrend, 0.3, "clear or strong trend")
		}
	}

	res.InDemand, res.InSupply = indicator.ZoneHits(ind.Zones, ind.Close, s.cfg.ZoneTolerance)
	if res.InDemand {
		long.earn("zone", wZone, 1, "price inside demand zone")
	}
	if res.InSupply {
		short.earn("zone", wZone, 1, "price inside supply zone")
	}

	if in.Flow.Stale {
		notes = append(notes, fmt.Sprintf("order flow stale since %s: delta/imbalance ignored", in.Flow.LastUpdate.Format("15:04:05")))
	} else {
		d1, d5 := in.Flow.Delta1m, in.Flow.Delta5m
		switch {
		case d1 > 0 && d5 >= 0:
			long.earn("delta", wDelta, 1, fmt.Sprintf("d1m=%.3f d5m=%.3f", d1, d5))
		case d1 > 0 || d5 > 0:
			long.earn("delta", wDelta, 0.5, fmt.Sprintf("partial d1m=%.3f d5m=%.3f", d1, d5))
		}
		switch {
		case d1 < 0 && d5 <= 0:
			short.earn("delta", wDelta, 1, fmt.Sprintf("d1m=%.3f d5m=%.3f", d1, d5))
		case d1 < 0 || d5 < 0:
			short.earn("delta", wDelta, 0.5, fmt.Sprintf("partial d1m=%.3f d5m=%.3f", d1, d5))
		}
		imb := in.Flow.Imbalance
		if imb > s.cfg.ImbalanceMin {
			long.earn("imbalance", wImb, 1, fmt.Sprintf("imbalance=%.3f", imb))
		} else if imb < -s.cfg.ImbalanceMin {
			short.earn("imbalance", wImb, 1, fmt.Sprintf("imbalance=%.3f", imb))
		}
	}

	if ind.MACD > ind.MACDSignal {
		long.earn("macd", wMACD, 1, fmt.Sprintf("macd %.4f > signal %.4f", ind.MACD, ind.MACDSignal))
	} else if ind.MACD < ind.MACDSignal {
		short.earn("macd", wMACD, 1, fmt.Sprintf("macd %.4f < signal %.4f", ind.MACD, ind.MACDSignal))
	}

	rsi := ind.RSI
	switch {
	case rsi < adj.RSIOversold:
		long.earn("rsi", wRSI, 1, fmt.Sprintf("rsi %.1f < %.0f", rsi, adj.RSIOversold))
	case rsi <= 50:
		long.earn("rsi", wRSI, 0.5, fmt.Sprintf("rsi %.1f in (%.0f,50]", rsi, adj.RSIOversold))
	}
	switch {
	case rsi > adj.RSIOverbought:
		short.earn("rsi", wRSI, 1, fmt.Sprintf("rsi %.1f > %.0f", rsi, adj.RSIOverbought))
	case rsi >= 50:
		short.earn("rsi", wRSI, 0.5, fmt.Sprintf("rsi %.1f in [50,%.0f)", rsi, adj.RSIOverbought))
	}

	res.LongScore = round1(long.score / total * 100)
	res.ShortScore = round1(short.score / total * 100)
	res.Rationale = append(res.Rationale, fmt.Sprintf("regime %s weights trend=%.1f zone=%.1f delta=%.1f imb=%.1f macd=%.1f rsi=%.1f bands=%.0f/%.0f",
		in.Regime.Label, wTrend, wZone, wDelta, wImb, wMACD, wRSI, adj.RSIOversold, adj.RSIOverbought))
	res.Rationale = append(res.Rationale, notes...)
	res.Rationale = append(res.Rationale, long.lines...)
	res.Rationale = append(res.Rationale, short.lines...)
	res.Rationale = append(res.Rationale, fmt.Sprintf("long=%.1f short=%.1f threshold=%.1f", res.LongScore, res.ShortScore, s.cfg.Threshold))

	if res.InDemand && res.InSupply {
		res.Rationale = append(res.Rationale, "price inside both demand and supply zones: hold")
		return res
	}
	switch {
	case res.LongScore >= s.cfg.Threshold && res.LongScore > res.ShortScore:
		res.Signal, res.Score = Buy, res.LongScore
	case res.ShortScore >= s.cfg.Threshold && res.ShortScore > res.LongScore:
		res.Signal, res.Score = Sell, res.ShortScore
	default:
		res.Score = maxf(res.LongScore, res.ShortScore)
		return res
	}
	res.Confidence = s.tier(res.Score)
	return res
}

func (s *Scorer) tier(score float64) Confidence {
	switch {
	case score >= s.cfg.HighConfidence:
		return High
	case score >= s.cfg.Threshold:
		return Medium
	default:
		return Low
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
