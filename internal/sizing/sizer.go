package sizing

import (
	"errors"
	"fmt"
	"math"

	"perpflow/internal/analysis/indicator"
	"perpflow/internal/config"
	"perpflow/internal/pkg/trading"
	"perpflow/internal/regime"
	"perpflow/internal/signal"
)

var (
	ErrInvalidPrice  = errors.New("sizing: price must be positive")
	ErrInvalidEquity = errors.New("sizing: equity must be positive")
)

// Request 单次仓位计算的输入。
type Request struct {
	Equity      float64
	FreeBalance float64
	Price       float64
	Confidence  signal.Confidence
	Trend       indicator.Trend
	Regime      regime.Label
	RSI         float64
	ATRPct      float64
}

// Result 仓位计算明细，Fits=false 时不应下单。
type Result struct {
	Contracts      float64  `json:"contracts"`
	Margin         float64  `json:"margin"`
	Notional       float64  `json:"notional"`
	RequiredMargin float64  `json:"required_margin"`
	MarginCap      float64  `json:"margin_cap"`
	BaseRatio      float64  `json:"base_ratio"`
	ConfidenceMult float64  `json:"confidence_mult"`
	TrendMult      float64  `json:"trend_mult"`
	RSIMult        float64  `json:"rsi_mult"`
	VolatilityMult float64  `json:"volatility_mult"`
	Reduced        bool     `json:"reduced"`
	Fits           bool     `json:"fits"`
	Fee            float64  `json:"fee"`
	ExpectedProfit float64  `json:"expected_profit"`
	FeeWarning     bool     `json:"fee_warning"`
	Notes          []string `json:"notes,omitempty"`
}

// Sizer 把置信度、趋势、RSI、波动率转换成合约张数。
type Sizer struct {
	cfg          config.SizingConfig
	leverage     float64
	contractSize float64
	minLot       float64
	lotStep      float64
	feeRate      float64
}

func NewSizer(cfg config.SizingConfig, tc config.TradingConfig) *Sizer {
	s := &Sizer{
		cfg:          cfg,
		leverage:     float64(tc.Leverage),
		contractSize: tc.ContractSize,
		minLot:       tc.MinLot,
		lotStep:      tc.LotStep,
		feeRate:      tc.FeeRate,
	}
	if s.leverage <= 0 {
		s.leverage = 1
	}
	if s.contractSize <= 0 {
		s.contractSize = 1
	}
	if s.cfg.MarginSafety <= 0 || s.cfg.MarginSafety > 1 {
		s.cfg.MarginSafety = 0.95
	}
	if s.cfg.ReducedAllocation <= 0 || s.cfg.ReducedAllocation > 1 {
		s.cfg.ReducedAllocation = 0.5
	}
	if s.cfg.MaxPositionRatio <= 0 {
		s.cfg.MaxPositionRatio = 0.8
	}
	return s
}

// Size 计算开仓张数。
func (s *Sizer) Size(req Request) (Result, error) {
	if req.Price <= 0 || math.IsNaN(req.Price) {
		return Result{}, ErrInvalidPrice
	}
	if req.Equity <= 0 || math.IsNaN(req.Equity) {
		return Result{}, ErrInvalidEquity
	}
	var res Result
	if !s.cfg.Intelligent {
		res.Contracts = s.normalizeLots(s.cfg.FixedContracts)
		res.Margin = trading.RequiredMargin(res.Contracts, req.Price, s.contractSize, s.leverage)
		res.Notes = append(res.Notes, fmt.Sprintf("fixed size %.4f contracts", res.Contracts))
	} else {
		s.allocate(req, &res)
		res.Contracts = s.normalizeLots(trading.Contracts(res.Margin, s.leverage, req.Price, s.contractSize))
	}
	s.checkMargin(req, &res)
	s.checkFees(req, &res)
	return res, nil
}

func (s *Sizer) allocate(req Request, res *Result) {
	tier := string(req.Confidence)
	res.BaseRatio = s.cfg.BaseRatios.For(tier)
	if res.BaseRatio <= 0 {
		res.BaseRatio = s.cfg.BaseRatios.Low
	}
	res.ConfidenceMult = s.cfg.ConfidenceMultipliers.For(tier)
	if res.ConfidenceMult <= 0 {
		res.ConfidenceMult = 1
	}
	res.TrendMult = TrendMultiplier(req.Trend, req.Regime)
	res.RSIMult = RSIMultiplier(req.RSI)
	res.VolatilityMult = VolatilityMultiplier(req.ATRPct)

	margin := req.Equity * res.BaseRatio * res.ConfidenceMult * res.TrendMult * res.RSIMult * res.VolatilityMult
	if limit := req.Equity * s.cfg.MaxPositionRatio; margin > limit {
		res.Notes = append(res.Notes, fmt.Sprintf("margin %.2f clamped to %.0f%% of equity", margin, s.cfg.MaxPositionRatio*100))
		margin = limit
	}
	if margin < s.cfg.MinMargin {
		res.Notes = append(res.Notes, fmt.Sprintf("margin %.2f raised to minimum %.2f", margin, s.cfg.MinMargin))
		margin = s.cfg.MinMargin
	}
	res.Margin = margin
	res.Notes = append(res.Notes, fmt.Sprintf("base %.2f x conf %.1f x trend %.1f x rsi %.1f x vol %.1f = %.2f USDT",
		req.Equity*res.BaseRatio, res.ConfidenceMult, res.TrendMult, res.RSIMult, res.VolatilityMult, margin))
}

// checkMargin 所需保证金超过 free*safety 时按缩减比例重算，仍超出则 Fits=false。
func (s *Sizer) checkMargin(req Request, res *Result) {
	res.MarginCap = math.Max(req.FreeBalance, 0) * s.cfg.MarginSafety
	res.RequiredMargin = trading.RequiredMargin(res.Contracts, req.Price, s.contractSize, s.leverage)
	if res.RequiredMargin <= res.MarginCap {
		res.Fits = res.Contracts > 0
		return
	}
	reduced := res.MarginCap * s.cfg.ReducedAllocation
	res.Reduced = true
	res.Margin = reduced
	res.Contracts = s.normalizeLots(trading.Contracts(reduced, s.leverage, req.Price, s.contractSize))
	res.RequiredMargin = trading.RequiredMargin(res.Contracts, req.Price, s.contractSize, s.leverage)
	res.Fits = res.Contracts > 0 && res.RequiredMargin <= res.MarginCap
	if res.Fits {
		res.Notes = append(res.Notes, fmt.Sprintf("margin reduced to %.2f (cap %.2f)", reduced, res.MarginCap))
	} else {
		res.Notes = append(res.Notes, fmt.Sprintf("minimum lot needs %.2f margin, cap %.2f", res.RequiredMargin, res.MarginCap))
	}
}

func (s *Sizer) checkFees(req Request, res *Result) {
	res.Notional = res.Contracts * req.Price * s.contractSize
	res.Fee = res.Notional * s.feeRate * 2
	profitRatio := s.cfg.ExpectedProfit.For(string(req.Confidence))
	if profitRatio <= 0 {
		profitRatio = s.cfg.ExpectedProfit.Low
	}
	res.ExpectedProfit = res.Notional * profitRatio
	if s.cfg.MinProfitFeeRatio > 0 && res.Fee > 0 && res.ExpectedProfit/res.Fee < s.cfg.MinProfitFeeRatio {
		res.FeeWarning = true
		res.Notes = append(res.Notes, fmt.Sprintf("expected profit %.4f below %.1fx fees %.4f", res.ExpectedProfit, s.cfg.MinProfitFeeRatio, res.Fee))
	}
}

func (s *Sizer) normalizeLots(qty float64) float64 {
	qty = trading.RoundDownToStep(qty, s.lotStep)
	if qty < s.minLot {
		qty = s.minLot
	}
	return qty
}

// TrendMultiplier 强趋势 1.5，普通趋势 1.1，震荡 0.9。
func TrendMultiplier(tr indicator.Trend, label regime.Label) float64 {
	if label == regime.Ranging || label == regime.Chaotic {
		return 0.9
	}
	switch {
	case tr.Overall == indicator.OverallStrongUp || tr.Overall == indicator.OverallStrongDown:
		return 1.5
	case tr.Direction == indicator.DirectionBull || tr.Direction == indicator.DirectionBear:
		return 1.1
	default:
		return 0.9
	}
}

func RSIMultiplier(rsi float64) float64 {
	switch {
	case rsi > 80 || rsi < 20:
		return 0.6
	case rsi > 75 || rsi < 25:
		return 0.8
	case rsi >= 40 && rsi <= 60:
		return 1.1
	default:
		return 1
	}
}

func VolatilityMultiplier(atrPct float64) float64 {
	switch {
	case atrPct > 0.02:
		return 0.8
	case atrPct > 0 && atrPct < 0.005:
		return 1.2
	default:
		return 1
	}
}
