package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"perpflow/internal/config"
	"perpflow/internal/judgment"
	"perpflow/internal/profile"
	livehttp "perpflow/internal/transport/http/live"
)

type StartupSummary struct {
	Market   MarketSummary
	Trading  TradingSummary
	Risk     RiskSummary
	Judgment JudgmentSummary
	Profiles []string
	HTTPAddr string
}

type MarketSummary struct {
	Symbol    string
	Timeframe string
	Bars      int
	Warmup    string
}

type TradingSummary struct {
	Mode     string
	Exchange string
	Leverage int
	Sizing   string
}

type RiskSummary struct {
	Trailing   string
	TimeStop   string
	Structural string
	Frequency  string
	Breaker    string
}

type JudgmentSummary struct {
	Enabled bool
	Mode    string
	Model   string
}

func newStartupSummary(cfg *config.Config, exchangeName string, stack *MarketStack, judge *judgment.Service, registry *profile.Registry, srv *livehttp.Server) *StartupSummary {
	rc := cfg.Risk
	sizingDesc := fmt.Sprintf("fixed %.4g", cfg.Sizing.FixedContracts)
	if cfg.Sizing.Intelligent {
		sizingDesc = fmt.Sprintf("intelligent base=%.2f/%.2f/%.2f max=%.2f",
			cfg.Sizing.BaseRatios.Low, cfg.Sizing.BaseRatios.Medium, cfg.Sizing.BaseRatios.High, cfg.Sizing.MaxPositionRatio)
	}
	trailing := onOff(rc.TrailingStop.Enabled, fmt.Sprintf("activation=%.4f atr×%.2f step=%.4f",
		rc.TrailingStop.ActivationRatio, rc.TrailingStop.ATRMultiplier, rc.TrailingStop.MinStepRatio))
	timeStop := onOff(rc.TimeStop.Enabled, fmt.Sprintf("bars=%d progress=%.4f",
		rc.TimeStop.WindowBars, rc.TimeStop.MinProgressRatio))
	structural := onOff(rc.StructuralExit.Enabled, fmt.Sprintf("stability=%.0f conflict=%t",
		rc.StructuralExit.StabilityThreshold, rc.StructuralExit.RequireConflict))
	frequency := onOff(rc.Frequency.Enabled, fmt.Sprintf("min=%ds hour=%d day=%d",
		rc.Frequency.MinIntervalSeconds, rc.Frequency.MaxPerHour, rc.Frequency.MaxPerDay))
	s := &StartupSummary{
		Market: MarketSummary{
			Symbol:    cfg.Trading.Symbol,
			Timeframe: cfg.Trading.Timeframe,
			Bars:      cfg.Trading.DataPoints,
		},
		Trading: TradingSummary{
			Mode:     cfg.Trading.Mode,
			Exchange: exchangeName,
			Leverage: cfg.Trading.Leverage,
			Sizing:   sizingDesc,
		},
		Risk: RiskSummary{
			Trailing:   trailing,
			TimeStop:   timeStop,
			Structural: structural,
			Frequency:  frequency,
			Breaker:    fmt.Sprintf("losses=%d daily=%.2f", rc.Breaker.MaxConsecutiveLosses, rc.Breaker.MaxDailyLossRatio),
		},
		Judgment: JudgmentSummary{
			Enabled: judge.Enabled(),
			Mode:    judge.Mode(),
			Model:   cfg.Judgment.Model,
		},
	}
	if stack != nil {
		s.Market.Warmup = stack.WarmupSummary
	}
	if registry != nil {
		for label := range registry.Snapshot().Adjustments {
			s.Profiles = append(s.Profiles, string(label))
		}
		sort.Strings(s.Profiles)
	}
	if srv != nil {
		s.HTTPAddr = srv.Addr()
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[行情 (MARKET)]")
	fmt.Fprintf(w, "  交易对: %s\n", s.Market.Symbol)
	fmt.Fprintf(w, "  周期: %s  缓存: %d\n", s.Market.Timeframe, s.Market.Bars)
	fmt.Fprintf(w, "  预热: %s\n", orDash(s.Market.Warmup))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[交易 (TRADING)]")
	fmt.Fprintf(w, "  模式: %s  账户: %s  杠杆: %dx\n", s.Trading.Mode, s.Trading.Exchange, s.Trading.Leverage)
	fmt.Fprintf(w, "  仓位: %s\n", s.Trading.Sizing)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[风控 (RISK)]")
	fmt.Fprintf(w, "  移动止损: %s\n", s.Risk.Trailing)
	fmt.Fprintf(w, "  时间止损: %s\n", s.Risk.TimeStop)
	fmt.Fprintf(w, "  结构退出: %s\n", s.Risk.Structural)
	fmt.Fprintf(w, "  频率限制: %s\n", s.Risk.Frequency)
	fmt.Fprintf(w, "  熔断: %s\n", s.Risk.Breaker)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[判断服务 (JUDGMENT)]")
	if s.Judgment.Enabled {
		fmt.Fprintf(w, "  模式: %s  模型: %s\n", s.Judgment.Mode, s.Judgment.Model)
	} else {
		fmt.Fprintln(w, "  (未启用)")
	}
	fmt.Fprintf(w, "  市场状态权重: %s\n", formatList(s.Profiles))
	fmt.Fprintf(w, "  HTTP: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func onOff(enabled bool, detail string) string {
	if !enabled {
		return "off"
	}
	return detail
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
