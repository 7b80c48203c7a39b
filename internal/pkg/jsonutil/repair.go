package jsonutil

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	unquotedKey   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// Repair 修复模型常见的 JSON 格式问题：单引号、未加引号的键、尾随逗号。
// 原文本已合法时原样返回。
func Repair(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if json.Valid([]byte(raw)) {
		return raw, true
	}
	fixed := strings.ReplaceAll(raw, "'", `"`)
	fixed = unquotedKey.ReplaceAllString(fixed, `$1"$2":`)
	fixed = trailingComma.ReplaceAllString(fixed, `$1`)
	if json.Valid([]byte(fixed)) {
		return fixed, true
	}
	return raw, false
}
