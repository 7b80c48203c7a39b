package engine

import (
	"fmt"
	"strings"

	"perpflow/internal/gateway/exchange"
	"perpflow/internal/gateway/notifier"
	"perpflow/internal/judgment"
	"perpflow/internal/risk"
	"perpflow/internal/sizing"
	"perpflow/internal/types"
)

func signalMessage(symbol string, intent types.TradeIntent, res sizing.Result, acct types.AccountSnapshot) notifier.StructuredMessage {
	sizeLines := []string{
		fmt.Sprintf("合约张数: %.4f", res.Contracts),
		fmt.Sprintf("名义价值: %.2f", res.Notional),
		fmt.Sprintf("倍率: 置信 %.2f 趋势 %.2f RSI %.2f 波动 %.2f", res.ConfidenceMult, res.TrendMult, res.RSIMult, res.VolatilityMult),
	}
	if res.Reduced {
		sizeLines = append(sizeLines, "超出上限，已按保守比例缩减")
	}
	if res.FeeWarning {
		sizeLines = append(sizeLines, fmt.Sprintf("手续费 %.4f 相对预期收益 %.4f 偏高", res.Fee, res.ExpectedProfit))
	}
	return notifier.StructuredMessage{
		Kind:  notifier.KindSignal,
		Icon:  "🎯",
		Title: fmt.Sprintf("%s %s 信号", symbol, intent.Signal),
		Sections: []notifier.MessageSection{
			notifier.Section("信号",
				fmt.Sprintf("方向: %s  置信度: %s (%.1f)", intent.Signal, intent.Confidence, intent.ConfidenceScore),
				fmt.Sprintf("来源: %s  价格: %.4f", intent.Source, intent.Price),
			),
			notifier.Section("仓位", sizeLines...),
			notifier.Section("保证金",
				fmt.Sprintf("可用余额: %.2f", acct.Available),
				fmt.Sprintf("所需保证金: %.2f / 上限 %.2f", res.RequiredMargin, res.MarginCap),
			),
			notifier.Section("理由", intent.Rationale...),
		},
	}
}

func marginMessage(symbol string, res sizing.Result, acct types.AccountSnapshot) notifier.StructuredMessage {
	lines := []string{
		fmt.Sprintf("可用余额: %.2f", acct.Available),
		fmt.Sprintf("所需保证金: %.2f 上限: %.2f", res.RequiredMargin, res.MarginCap),
	}
	lines = append(lines, res.Notes...)
	return notifier.StructuredMessage{
		Kind:     notifier.KindMargin,
		Icon:     "💳",
		Title:    symbol + " 保证金不足，跳过开仓",
		Sections: []notifier.MessageSection{notifier.Section("保证金检查", lines...)},
	}
}

func feeMessage(symbol string, res sizing.Result) notifier.StructuredMessage {
	lines := []string{
		fmt.Sprintf("名义价值: %.2f", res.Notional),
		fmt.Sprintf("预期盈利: %.4f 往返手续费: %.4f", res.ExpectedProfit, res.Fee),
	}
	lines = append(lines, res.Notes...)
	return notifier.StructuredMessage{
		Kind:     notifier.KindMargin,
		Icon:     "💸",
		Title:    symbol + " 预期盈利不足以覆盖手续费，跳过开仓",
		Sections: []notifier.MessageSection{notifier.Section("手续费检查", lines...)},
	}
}

func riskTripMessage(symbol, title, reason string, st risk.State) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Kind:  notifier.KindRiskTrip,
		Icon:  "🛑",
		Title: symbol + " " + title,
		Sections: []notifier.MessageSection{
			notifier.Section("原因", reason),
			notifier.Section("风控状态",
				fmt.Sprintf("连续亏损: %d", st.ConsecutiveLosses),
				fmt.Sprintf("当日盈亏: %+.2f", st.DailyPnL),
				fmt.Sprintf("波动率: %.2f%%", st.LastVolatility*100),
			),
		},
		Footer: "熔断需人工复位: POST /api/risk/reset",
	}
}

func trailingMessage(symbol string, pos *types.Position, oldStop, newStop float64) notifier.StructuredMessage {
	from := "未激活"
	if oldStop > 0 {
		from = fmt.Sprintf("%.4f", oldStop)
	}
	return notifier.StructuredMessage{
		Kind:  notifier.KindTrailing,
		Icon:  "📈",
		Title: symbol + " 追踪止损更新",
		Sections: []notifier.MessageSection{
			notifier.Section("止损",
				fmt.Sprintf("%s 仓 %.4f 张 @ %.4f", pos.Side, pos.Size, pos.EntryPrice),
				fmt.Sprintf("止损价: %s -> %.4f", from, newStop),
			),
		},
	}
}

func forcedExitMessage(symbol string, act risk.ExitAction, fill exchange.Fill, pnl float64) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Kind:  notifier.KindForcedExit,
		Icon:  "🚪",
		Title: fmt.Sprintf("%s 强制退出 (%s)", symbol, act.Kind),
		Sections: []notifier.MessageSection{
			notifier.Section("执行",
				fmt.Sprintf("%s 仓 平 %.4f 张 @ %.4f", act.Side, fill.Size, fill.Price),
				fmt.Sprintf("全部平仓: %t  盈亏: %+.4f", act.Full, pnl),
			),
			notifier.Section("原因", act.Reason),
		},
	}
}

func executionFailedMessage(symbol string, req exchange.OrderRequest, err error) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Kind:  notifier.KindExecution,
		Icon:  "⚠️",
		Title: symbol + " 下单失败",
		Sections: []notifier.MessageSection{
			notifier.Section("订单",
				fmt.Sprintf("%s %.4f 张 reduceOnly=%t", req.Side, req.Size, req.ReduceOnly),
				"用途: "+req.Reason,
			),
			notifier.Section("错误", err.Error()),
		},
	}
}

func delayedMessage(symbol, title string, rec DelayedSignal, why string) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Kind:  notifier.KindDelayed,
		Icon:  "⏳",
		Title: symbol + " " + title,
		Sections: []notifier.MessageSection{
			notifier.Section("信号",
				fmt.Sprintf("%s %s (%.1f)", rec.Signal, rec.Confidence, rec.Score),
				"到期: "+rec.ExpiresAt.Format("15:04:05"),
			),
			notifier.Section("原因", why),
		},
	}
}

func slippageMessage(symbol string, expected, fill, ratio float64) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Kind:  notifier.KindSlippage,
		Icon:  "📉",
		Title: symbol + " 滑点超限",
		Sections: []notifier.MessageSection{
			notifier.Section("成交",
				fmt.Sprintf("预期 %.4f 成交 %.4f", expected, fill),
				fmt.Sprintf("滑点 %.3f%%", ratio*100),
			),
		},
	}
}

// JudgmentAlert 把判断服务的连续回退转成通知。
func JudgmentAlert(d *Dispatcher, symbol string) judgment.AlertFunc {
	return func(consecutive int, lastReason string) {
		d.Notify(notifier.StructuredMessage{
			Kind:  notifier.KindJudgment,
			Icon:  "🤖",
			Title: symbol + " 判断服务连续回退",
			Sections: []notifier.MessageSection{
				notifier.Section("状态",
					fmt.Sprintf("连续回退 %d 次，当前按 HOLD 处理", consecutive),
					"最后错误: "+strings.TrimSpace(lastReason),
				),
			},
		})
	}
}
