// Package convert 把交易所与模型返回的松散数值统一成 float64。
package convert

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Float 支持常见数值类型与数字字符串，失败返回 false。
func Float(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToFloat64 解析失败返回 0，用于交易所字符串字段。
func ToFloat64(v any) float64 {
	f, _ := Float(v)
	return f
}
