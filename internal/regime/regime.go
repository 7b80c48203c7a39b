package regime

import (
	"fmt"
	"math"
	"strings"

	"perpflow/internal/config"
	"perpflow/internal/market"
)

type Label string

const (
	Trending Label = "TRENDING"
	Ranging  Label = "RANGING"
	Chaotic  Label = "CHAOTIC"
	Neutral  Label = "NEUTRAL"
)

// Noisy 震荡与混乱都视为噪音行情。
func (l Label) Noisy() bool { return l == Ranging || l == Chaotic }

// State 一次分类的结果与特征。
type State struct {
	Label           Label   `json:"label"`
	Raw             Label   `json:"raw"`
	EfficiencyRatio float64 `json:"efficiency_ratio"`
	ChoppinessIndex float64 `json:"choppiness_index"`
	VolatilityRatio float64 `json:"volatility_ratio"`
	AvgChoppiness   float64 `json:"avg_choppiness"`
	Votes           []Label `json:"votes"`
	NoiseScore      int     `json:"noise_score"`
	Reason          string  `json:"reason"`
}

type vote struct {
	label  Label
	ci     float64
	barKey int64
}

// Classifier 单写者使用，不做并发保护。
type Classifier struct {
	cfg     config.RegimeConfig
	history []vote
}

func NewClassifier(cfg config.RegimeConfig) *Classifier {
	if cfg.Lookback < 2 {
		cfg.Lookback = 14
	}
	if cfg.History <= 0 {
		cfg.History = 12
	}
	if cfg.LongWindowFactor <= 0 {
		cfg.LongWindowFactor = 5
	}
	return &Classifier{cfg: cfg}
}

// Classify 计算当前 K 线的市场状态。同一根 K 线重复分类时覆盖上一票而不是追加。
func (c *Classifier) Classify(candles []market.Candle) State {
	closes := market.Closes(candles)
	er := EfficiencyRatio(closes, c.cfg.Lookback)
	ci := ChoppinessIndex(candles, c.cfg.Lookback)
	vr := VolatilityRatio(closes, c.cfg.Lookback, c.cfg.Lookback*c.cfg.LongWindowFactor)
	raw := c.rawLabel(er, ci, vr)
	var key int64
	if n := len(candles); n > 0 {
		key = candles[n-1].OpenTime
	}
	st := c.vote(raw, ci, key)
	st.EfficiencyRatio = er
	st.ChoppinessIndex = ci
	st.VolatilityRatio = vr
	if st.Label == Chaotic {
		st.Reason = appendReason(st.Reason, fmt.Sprintf("波动异常(Vol:%.1f)", vr))
	}
	return st
}

func (c *Classifier) rawLabel(er, ci, vr float64) Label {
	label := Neutral
	switch {
	case ci > c.cfg.ChoppinessHigh:
		label = Ranging
	case ci < c.cfg.ChoppinessLow:
		label = Trending
	}
	if er < c.cfg.EfficiencyLow && label != Trending {
		label = Ranging
	}
	if vr > c.cfg.ChaosVolRatio && er < c.cfg.ChaosEfficiency {
		label = Chaotic
	}
	return label
}

// Vote 直接投入一个原始标签并返回平滑后的结果。
func (c *Classifier) Vote(raw Label) State {
	return c.vote(raw, 0, 0)
}

func (c *Classifier) vote(raw Label, ci float64, barKey int64) State {
	v := vote{label: raw, ci: ci, barKey: barKey}
	if n := len(c.history); n > 0 && barKey != 0 && c.history[n-1].barKey == barKey {
		c.history[n-1] = v
	} else {
		c.history = append(c.history, v)
	}
	if over := len(c.history) - c.cfg.History; over > 0 {
		c.history = c.history[over:]
	}

	counts := make(map[Label]int, 4)
	var sumCI float64
	votes := make([]Label, len(c.history))
	for i, h := range c.history {
		counts[h.label]++
		sumCI += h.ci
		votes[i] = h.label
	}
	total := float64(len(c.history))
	st := State{Raw: raw, Label: raw, Votes: votes, AvgChoppiness: sumCI / total}

	if float64(counts[Ranging]+counts[Chaotic]) >= total*c.cfg.RangingInertia && raw == Neutral {
		st.Label = Ranging
		st.Reason = appendReason(st.Reason, fmt.Sprintf("历史惯性(震荡%d次)", counts[Ranging]))
	}
	if float64(counts[Trending]) >= total*c.cfg.TrendInertia && raw == Ranging {
		st.Label = Trending
		st.Reason = appendReason(st.Reason, fmt.Sprintf("趋势中继(趋势%d次)", counts[Trending]))
	}
	switch st.Label {
	case Ranging:
		st.NoiseScore = 60
		st.Reason = appendReason(st.Reason, fmt.Sprintf("CI高(Avg:%.1f)", st.AvgChoppiness))
	case Chaotic:
		st.NoiseScore = 80
	case Trending:
		st.Reason = appendReason(st.Reason, fmt.Sprintf("CI低(Avg:%.1f)", st.AvgChoppiness))
	default:
		st.NoiseScore = 30
	}
	if st.Reason == "" {
		st.Reason = "市场平稳"
	}
	return st
}

// Reset 清空投票历史。
func (c *Classifier) Reset() { c.history = nil }

func appendReason(reason, part string) string {
	if reason == "" {
		return part
	}
	return strings.Join([]string{reason, part}, ", ")
}

// EfficiencyRatio 净位移 / 路径长度。数据不足返回 0.5，路径为 0 返回 0。
func EfficiencyRatio(closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return 0.5
	}
	change := math.Abs(closes[n-1] - closes[n-1-period])
	var path float64
	for i := n - period; i < n; i++ {
		path += math.Abs(closes[i] - closes[i-1])
	}
	if path == 0 {
		return 0
	}
	return change / path
}

// ChoppinessIndex 数据不足或区间为 0 时返回 50。
func ChoppinessIndex(candles []market.Candle, period int) float64 {
	n := len(candles)
	if period <= 1 || n < period+1 {
		return 50
	}
	var sumTR float64
	hi, lo := math.Inf(-1), math.Inf(1)
	for i := n - period; i < n; i++ {
		c, prev := candles[i], candles[i-1].Close
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		sumTR += tr
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	rng := hi - lo
	if rng <= 0 || sumTR <= 0 {
		return 50
	}
	ci := 100 * math.Log10(sumTR/rng) / math.Log10(float64(period))
	if math.IsNaN(ci) || math.IsInf(ci, 0) {
		return 50
	}
	return ci
}

// VolatilityRatio 短窗口收益率标准差 / 长窗口标准差；长窗口不足时用全部可用收益率。
func VolatilityRatio(closes []float64, short, long int) float64 {
	rets := returns(closes)
	if len(rets) < short || short < 2 {
		return 0
	}
	if long > len(rets) {
		long = len(rets)
	}
	longStd := stdev(rets[len(rets)-long:])
	if longStd <= 0 {
		return 0
	}
	return stdev(rets[len(rets)-short:]) / longStd
}

func returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// stdev 样本标准差。
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
