package scheduler

import (
	"time"

	"perpflow/internal/market"
)

const klineCloseGrace = 10 * time.Second

// DropUnclosedKline 去掉 REST 返回中尚未收盘的最后一根 K 线。
func DropUnclosedKline(klines []market.Candle, interval time.Duration, now time.Time) []market.Candle {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	closeAt := time.UnixMilli(last.OpenTime).Add(interval).Add(klineCloseGrace)
	if now.Before(closeAt) {
		return klines[:len(klines)-1]
	}
	return klines
}
