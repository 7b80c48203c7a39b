package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration 解析 "1m"、"15m"、"4h"、"1d"、"1w"。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	unit := map[byte]time.Duration{
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[interval[len(interval)-1]]
	if unit == 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}
